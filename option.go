package imsession

import (
	"errors"
	"time"
)

// ErrorAction defines the action to take when a handler returns an error.
type ErrorAction int

const (
	// Disconnect ends the connection attempt with HandlerFailure.
	Disconnect ErrorAction = iota
	// Continue logs the error and keeps processing frames.
	Continue
)

// Default configuration values.
const (
	defaultMaxFrameSize   = 1024 * 1024
	defaultMaxPayloadSize = 16 * 1024 * 1024
	defaultReadBufferSize = 4096
	defaultConnectTimeout = 30 * time.Second
	defaultFlushTimeout   = 5 * time.Second
	// writeRetryInterval is the pause after a transport refused all bytes.
	writeRetryInterval = 5 * time.Millisecond
)

var errKeepaliveCommand = errors.New("keepalive interval set without a command")

// ConnectHandler is notified when a connection attempt succeeds.
type ConnectHandler interface {
	OnConnected(s *Session)
}

// ConnectHandlerFunc adapts a function to the ConnectHandler interface.
type ConnectHandlerFunc func(s *Session)

// OnConnected calls f(s).
func (f ConnectHandlerFunc) OnConnected(s *Session) { f(s) }

// DisconnectHandler is notified exactly once when a connection attempt ends.
type DisconnectHandler interface {
	OnDisconnected(s *Session, reason Reason)
}

// DisconnectHandlerFunc adapts a function to the DisconnectHandler interface.
type DisconnectHandlerFunc func(s *Session, reason Reason)

// OnDisconnected calls f(s, reason).
func (f DisconnectHandlerFunc) OnDisconnected(s *Session, reason Reason) { f(s, reason) }

// options holds the configuration for a session.
type options struct {
	dialer  Dialer
	encoder Encoder
	logger  Logger
	metrics *Metrics

	frameMode   FrameMode
	delimiter   []byte
	blockHeader BlockHeader

	maxFrameSize   int
	maxPayloadSize int
	readBufferSize int
	queueLimit     int

	connectTimeout  time.Duration
	flushTimeout    time.Duration
	readIdleTimeout time.Duration

	keepaliveInterval time.Duration
	keepaliveCommand  string

	throttle Throttle

	onConnected    ConnectHandler
	onDisconnected DisconnectHandler
	// onError decides what a handler error does. Defaults to Disconnect.
	onError     func(error) ErrorAction
	onUnhandled func(s *Session, f Frame)
}

// Option configures a Session.
type Option func(*options)

// checkOptions validates opts and fills defaults.
func checkOptions(opts *options) error {
	if len(opts.delimiter) == 0 {
		opts.delimiter = []byte("\r\n")
	}
	if opts.blockHeader == nil {
		opts.blockHeader = LengthPrefixHeader{}
	}
	if opts.dialer == nil {
		opts.dialer = &TCPDialer{}
	}
	if opts.encoder == nil {
		opts.encoder = LineEncoder{Delimiter: opts.delimiter}
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
	if opts.maxFrameSize <= 0 {
		opts.maxFrameSize = defaultMaxFrameSize
	}
	if opts.maxPayloadSize <= 0 {
		opts.maxPayloadSize = defaultMaxPayloadSize
	}
	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}
	if opts.connectTimeout <= 0 {
		opts.connectTimeout = defaultConnectTimeout
	}
	if opts.flushTimeout <= 0 {
		opts.flushTimeout = defaultFlushTimeout
	}
	if opts.keepaliveInterval > 0 && opts.keepaliveCommand == "" {
		return errKeepaliveCommand
	}
	if opts.throttle == nil {
		opts.throttle = noThrottle{}
	}
	if opts.onConnected == nil {
		opts.onConnected = ConnectHandlerFunc(func(*Session) {})
	}
	if opts.onDisconnected == nil {
		opts.onDisconnected = DisconnectHandlerFunc(func(*Session, Reason) {})
	}
	if opts.onError == nil {
		opts.onError = func(error) ErrorAction { return Disconnect }
	}
	return nil
}

// DialerOption sets how transports are established. Defaults to a TCPDialer.
func DialerOption(d Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// EncoderOption sets how Send encodes messages. Defaults to a LineEncoder
// using the session delimiter.
func EncoderOption(e Encoder) Option {
	return func(o *options) {
		o.encoder = e
	}
}

// FrameModeOption sets the initial framing mode.
func FrameModeOption(m FrameMode) Option {
	return func(o *options) {
		o.frameMode = m
	}
}

// DelimiterOption sets the line terminator. Defaults to "\r\n".
func DelimiterOption(delim string) Option {
	return func(o *options) {
		o.delimiter = []byte(delim)
	}
}

// BlockHeaderOption sets the header parser used in BlockMode.
func BlockHeaderOption(h BlockHeader) Option {
	return func(o *options) {
		o.blockHeader = h
	}
}

// MaxFrameSizeOption caps lines and buffered blocks. Larger frames are MalformedFrame.
func MaxFrameSizeOption(size int) Option {
	return func(o *options) {
		o.maxFrameSize = size
	}
}

// MaxPayloadSizeOption caps a single announced payload.
func MaxPayloadSizeOption(size int) Option {
	return func(o *options) {
		o.maxPayloadSize = size
	}
}

// ReadBufferSizeOption sets how many bytes one transport read may return.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// QueueLimitOption bounds the outbound queue. Send returns ErrBufferFull
// when it is full. Zero means unbounded.
func QueueLimitOption(limit int) Option {
	return func(o *options) {
		o.queueLimit = limit
	}
}

// ConnectTimeoutOption sets the connect timeout used when Connect is given zero.
func ConnectTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = timeout
	}
}

// FlushTimeoutOption bounds how long a graceful Disconnect writes queued messages.
func FlushTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.flushTimeout = timeout
	}
}

// ReadIdleTimeoutOption fails the connection with Timeout when nothing was
// received for the duration. Zero disables it.
func ReadIdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.readIdleTimeout = timeout
	}
}

// KeepaliveOption sends command whenever nothing was written for interval.
func KeepaliveOption(interval time.Duration, command string) Option {
	return func(o *options) {
		o.keepaliveInterval = interval
		o.keepaliveCommand = command
	}
}

// ThrottleOption paces outbound messages.
func ThrottleOption(t Throttle) Option {
	return func(o *options) {
		o.throttle = t
	}
}

// OnConnectedOption sets the connect callback.
func OnConnectedOption(h ConnectHandler) Option {
	return func(o *options) {
		o.onConnected = h
	}
}

// OnDisconnectedOption sets the disconnect callback.
func OnDisconnectedOption(h DisconnectHandler) Option {
	return func(o *options) {
		o.onDisconnected = h
	}
}

// OnErrorOption sets the handler error policy.
// Return Disconnect to end the attempt, or Continue to suppress the error.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// OnUnhandledOption sets a callback for frames and payloads no handler claimed.
// Payloads are reported as a FramePayload frame carrying the body in Params.
func OnUnhandledOption(cb func(s *Session, f Frame)) Option {
	return func(o *options) {
		o.onUnhandled = cb
	}
}

// LoggerOption sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption records session activity in m.
func MetricsOption(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

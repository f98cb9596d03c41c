package imsession

import (
	"context"
	"testing"
	"time"
)

func TestDialerOption(t *testing.T) {
	called := false
	d := DialerFunc(func(context.Context, string, int) (Transport, error) {
		called = true
		return nil, nil
	})

	var opts options
	DialerOption(d)(&opts)

	if opts.dialer == nil {
		t.Fatal("dialer is nil")
	}
	_, _ = opts.dialer.Dial(context.Background(), "h", 1)
	if !called {
		t.Error("dialer not set correctly")
	}
}

func TestEncoderOption(t *testing.T) {
	enc := LineEncoder{Delimiter: []byte("\n")}

	var opts options
	EncoderOption(enc)(&opts)

	got, ok := opts.encoder.(LineEncoder)
	if !ok || string(got.Delimiter) != "\n" {
		t.Errorf("encoder = %#v, want %#v", opts.encoder, enc)
	}
}

func TestFramingOptions(t *testing.T) {
	header := LengthPrefixHeader{Width: 2}

	var opts options
	FrameModeOption(BlockMode)(&opts)
	DelimiterOption("\n")(&opts)
	BlockHeaderOption(header)(&opts)
	MaxFrameSizeOption(4096)(&opts)
	MaxPayloadSizeOption(8192)(&opts)
	ReadBufferSizeOption(512)(&opts)

	if opts.frameMode != BlockMode {
		t.Errorf("frameMode = %v, want block", opts.frameMode)
	}
	if string(opts.delimiter) != "\n" {
		t.Errorf("delimiter = %q, want \\n", opts.delimiter)
	}
	if opts.blockHeader != header {
		t.Error("blockHeader not set correctly")
	}
	if opts.maxFrameSize != 4096 {
		t.Errorf("maxFrameSize = %d, want 4096", opts.maxFrameSize)
	}
	if opts.maxPayloadSize != 8192 {
		t.Errorf("maxPayloadSize = %d, want 8192", opts.maxPayloadSize)
	}
	if opts.readBufferSize != 512 {
		t.Errorf("readBufferSize = %d, want 512", opts.readBufferSize)
	}
}

func TestTimeoutOptions(t *testing.T) {
	var opts options
	ConnectTimeoutOption(time.Second)(&opts)
	FlushTimeoutOption(2 * time.Second)(&opts)
	ReadIdleTimeoutOption(3 * time.Second)(&opts)
	KeepaliveOption(4*time.Second, "PING")(&opts)

	if opts.connectTimeout != time.Second {
		t.Errorf("connectTimeout = %v", opts.connectTimeout)
	}
	if opts.flushTimeout != 2*time.Second {
		t.Errorf("flushTimeout = %v", opts.flushTimeout)
	}
	if opts.readIdleTimeout != 3*time.Second {
		t.Errorf("readIdleTimeout = %v", opts.readIdleTimeout)
	}
	if opts.keepaliveInterval != 4*time.Second || opts.keepaliveCommand != "PING" {
		t.Errorf("keepalive = %v %q", opts.keepaliveInterval, opts.keepaliveCommand)
	}
}

func TestQueueLimitOption(t *testing.T) {
	var opts options
	QueueLimitOption(100)(&opts)

	if opts.queueLimit != 100 {
		t.Errorf("queueLimit = %d, want 100", opts.queueLimit)
	}
}

func TestThrottleOption(t *testing.T) {
	th := NewTokenThrottle(10, 1)

	var opts options
	ThrottleOption(th)(&opts)

	if opts.throttle != th {
		t.Error("throttle not set correctly")
	}
}

func TestOnErrorOption(t *testing.T) {
	called := false
	onError := func(err error) ErrorAction {
		called = true
		return Disconnect
	}

	var opts options
	OnErrorOption(onError)(&opts)

	if opts.onError == nil {
		t.Fatal("onError is nil")
	}
	opts.onError(nil)
	if !called {
		t.Error("onError callback not called")
	}
}

func TestCallbackOptions(t *testing.T) {
	var connected, disconnected, unhandled bool

	var opts options
	OnConnectedOption(ConnectHandlerFunc(func(*Session) { connected = true }))(&opts)
	OnDisconnectedOption(DisconnectHandlerFunc(func(*Session, Reason) { disconnected = true }))(&opts)
	OnUnhandledOption(func(*Session, Frame) { unhandled = true })(&opts)

	opts.onConnected.OnConnected(nil)
	opts.onDisconnected.OnDisconnected(nil, Reason{Kind: Closed})
	opts.onUnhandled(nil, Frame{})

	if !connected || !disconnected || !unhandled {
		t.Errorf("callbacks called = %v %v %v", connected, disconnected, unhandled)
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &mockLogger{}

	var opts options
	LoggerOption(logger)(&opts)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
}

func TestCheckOptions_DefaultValues(t *testing.T) {
	var opts options
	if err := checkOptions(&opts); err != nil {
		t.Fatalf("checkOptions failed: %v", err)
	}

	if string(opts.delimiter) != "\r\n" {
		t.Errorf("delimiter = %q, want \\r\\n", opts.delimiter)
	}
	if _, ok := opts.dialer.(*TCPDialer); !ok {
		t.Errorf("dialer = %T, want *TCPDialer", opts.dialer)
	}
	if _, ok := opts.encoder.(LineEncoder); !ok {
		t.Errorf("encoder = %T, want LineEncoder", opts.encoder)
	}
	if opts.blockHeader == nil {
		t.Error("blockHeader not defaulted")
	}
	if opts.maxFrameSize != defaultMaxFrameSize {
		t.Errorf("maxFrameSize = %d, want %d", opts.maxFrameSize, defaultMaxFrameSize)
	}
	if opts.maxPayloadSize != defaultMaxPayloadSize {
		t.Errorf("maxPayloadSize = %d, want %d", opts.maxPayloadSize, defaultMaxPayloadSize)
	}
	if opts.readBufferSize != defaultReadBufferSize {
		t.Errorf("readBufferSize = %d, want %d", opts.readBufferSize, defaultReadBufferSize)
	}
	if opts.connectTimeout != defaultConnectTimeout {
		t.Errorf("connectTimeout = %v, want %v", opts.connectTimeout, defaultConnectTimeout)
	}
	if opts.flushTimeout != defaultFlushTimeout {
		t.Errorf("flushTimeout = %v, want %v", opts.flushTimeout, defaultFlushTimeout)
	}
	if opts.logger == nil || opts.throttle == nil || opts.onConnected == nil || opts.onDisconnected == nil {
		t.Error("nil defaults left in options")
	}
	if action := opts.onError(nil); action != Disconnect {
		t.Errorf("default onError = %v, want Disconnect", action)
	}
}

func TestCheckOptions_EncoderUsesDelimiter(t *testing.T) {
	var opts options
	DelimiterOption("\n")(&opts)
	if err := checkOptions(&opts); err != nil {
		t.Fatalf("checkOptions failed: %v", err)
	}

	data, err := opts.encoder.Encode("PING", nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data) != "PING\n" {
		t.Errorf("Encode = %q, want PING\\n", data)
	}
}

func TestCheckOptions_KeepaliveWithoutCommand(t *testing.T) {
	var opts options
	KeepaliveOption(time.Second, "")(&opts)

	if err := checkOptions(&opts); err != errKeepaliveCommand {
		t.Errorf("checkOptions = %v, want %v", err, errKeepaliveCommand)
	}
}

func TestErrorAction(t *testing.T) {
	if Disconnect != 0 {
		t.Errorf("Disconnect = %d, want 0", Disconnect)
	}
	if Continue != 1 {
		t.Errorf("Continue = %d, want 1", Continue)
	}
}

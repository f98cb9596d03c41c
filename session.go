// Package imsession provides client sessions for line-oriented messaging
// protocols: framing of lines, length-prefixed blocks and streamed payloads,
// an ordered outbound queue, and a connection state machine reporting every
// attempt exactly once.
package imsession

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Session is one logical connection to a single remote server.
//
// A Session owns its receive buffer, frame decoder, outbound queue, dispatch
// table and payload slot; nothing is shared between sessions. Each call to
// Connect starts a new attempt that ends exactly once, reported through the
// DisconnectHandler. A Session may be connected again after an attempt ended.
type Session struct {
	id      uuid.UUID
	opts    options
	logger  Logger
	metrics *Metrics

	dispatch  *dispatchTable
	queue     *outboundQueue
	decoder   *Decoder
	assembler payloadAssembler

	mu       sync.Mutex
	state    State
	attempt  *attempt
	attempts uint64
}

// attempt is one pass through Connecting and whatever follows it.
type attempt struct {
	seq    uint64
	addr   string
	ctx    context.Context
	cancel context.CancelFunc

	// guarded by Session.mu
	transport  Transport
	closing    bool
	flushTimer *time.Timer

	// flush is closed when a graceful disconnect asks the write loop to drain.
	flush     chan struct{}
	lastWrite atomic.Int64

	once sync.Once
	done chan struct{}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// NewSession creates a disconnected session.
// Returns an error if the options are inconsistent.
func NewSession(opt ...Option) (*Session, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return &Session{
		id:       uuid.New(),
		opts:     opts,
		logger:   opts.logger,
		metrics:  opts.metrics,
		dispatch: newDispatchTable(),
		queue:    newOutboundQueue(opts.queueLimit),
		decoder: NewDecoder(DecoderConfig{
			Mode:         opts.frameMode,
			Delimiter:    opts.delimiter,
			Header:       opts.blockHeader,
			MaxFrameSize: opts.maxFrameSize,
		}),
	}, nil
}

// ID returns the unique session id.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns how many connection attempts were started.
func (s *Session) Attempts() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// RemoteAddr returns the peer address while connected, nil otherwise.
func (s *Session) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil || s.attempt.transport == nil {
		return nil
	}
	return s.attempt.transport.RemoteAddr()
}

// Done returns a channel closed when the current attempt has ended and its
// DisconnectHandler returned. Before the first Connect it is already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil {
		return closedChan
	}
	return s.attempt.done
}

// Connect starts connecting to host:port and returns at once. The outcome is
// reported through the ConnectHandler or the DisconnectHandler. A timeout of
// zero uses ConnectTimeoutOption. Canceling ctx closes the attempt.
//
// Connect is only allowed while Disconnected or Failed; otherwise it returns
// ErrInvalidState.
func (s *Session) Connect(ctx context.Context, host string, port int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.opts.connectTimeout
	}
	dialer := s.opts.dialer
	return s.start(ctx, net.JoinHostPort(host, strconv.Itoa(port)), timeout,
		func(ctx context.Context) (Transport, error) {
			return dialer.Dial(ctx, host, port)
		})
}

// Attach runs the session over an already established transport, as for
// connections accepted by a Server. The attempt still passes through
// Connecting. On error the caller keeps ownership of t.
func (s *Session) Attach(ctx context.Context, t Transport) error {
	addr := ""
	if ra := t.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return s.start(ctx, addr, s.opts.connectTimeout,
		func(context.Context) (Transport, error) {
			return t, nil
		})
}

func (s *Session) start(ctx context.Context, addr string, timeout time.Duration, dial func(context.Context) (Transport, error)) error {
	s.mu.Lock()
	if s.state != Disconnected && s.state != Failed {
		s.mu.Unlock()
		return ErrInvalidState
	}

	actx, cancel := context.WithCancel(ctx)
	s.attempts++
	a := &attempt{
		seq:    s.attempts,
		addr:   addr,
		ctx:    actx,
		cancel: cancel,
		flush:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.attempt = a
	s.decoder.Reset()
	s.assembler.reset()
	s.queue.open()
	s.transitionLocked(Connecting)
	s.mu.Unlock()

	s.logger.Info("session connecting", "session", s.id, "addr", addr, "attempt", a.seq, "timeout", timeout)

	go s.run(a, timeout, dial)
	return nil
}

// Disconnect closes the current attempt. Graceful writes the queued messages
// first, bounded by FlushTimeoutOption; Immediate discards them. During
// Connecting the dial is aborted. The attempt ends in Disconnected with
// reason kind Closed. Disconnect in any other state is a no-op.
func (s *Session) Disconnect(mode DisconnectMode) {
	s.mu.Lock()
	a := s.attempt
	from := s.state
	if from != Connecting && from != Connected {
		s.mu.Unlock()
		return
	}

	a.closing = true
	s.transitionLocked(Disconnecting)
	s.queue.seal()

	if from == Connected && mode == Graceful {
		a.flushTimer = time.AfterFunc(s.opts.flushTimeout, a.cancel)
		close(a.flush)
		s.mu.Unlock()
		s.logger.Info("session disconnecting", "session", s.id, "mode", mode, "queued", s.queue.len())
		return
	}
	s.mu.Unlock()

	s.logger.Info("session disconnecting", "session", s.id, "mode", mode, "from", from)
	a.cancel()
}

// Send encodes command and params with the session Encoder and queues the
// result. Messages are written in the order they were sent. Send is allowed
// while Connecting or Connected; messages queued before the transport is up
// are written once it is.
func (s *Session) Send(command string, params []byte) (*MessageHandle, error) {
	data, err := s.opts.encoder.Encode(command, params)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", command)
	}
	return s.enqueue(command, data)
}

// SendRaw queues bytes that are already encoded, e.g. a command line
// immediately followed by its payload body.
func (s *Session) SendRaw(data []byte) (*MessageHandle, error) {
	return s.enqueue("", append([]byte(nil), data...))
}

func (s *Session) enqueue(command string, data []byte) (*MessageHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Connecting && s.state != Connected {
		return nil, ErrNotConnected
	}

	h := newMessageHandle(command, data)
	if err := s.queue.enqueue(h); err != nil {
		return nil, err
	}
	return h, nil
}

// CancelSend removes h from the queue if no write of it was attempted yet.
// It returns false, without side effects, in every other case.
func (s *Session) CancelSend(h *MessageHandle) bool {
	if !s.queue.cancel(h) {
		return false
	}
	s.metrics.addMessages(Canceled, 1)
	return true
}

// RegisterCommandHandler binds name to h, replacing any previous binding.
// It is safe to call at any time, including from a handler.
func (s *Session) RegisterCommandHandler(name string, h CommandHandler) {
	s.dispatch.registerCommand(name, h)
}

// RegisterPayloadHandler binds a payload content type to h.
func (s *Session) RegisterPayloadHandler(contentType string, h PayloadHandler) {
	s.dispatch.registerPayload(contentType, h)
}

// UnregisterCommandHandler removes the binding for name.
func (s *Session) UnregisterCommandHandler(name string) bool {
	return s.dispatch.unregisterCommand(name)
}

// UnregisterPayloadHandler removes the binding for contentType.
func (s *Session) UnregisterPayloadHandler(contentType string) bool {
	return s.dispatch.unregisterPayload(contentType)
}

// SetFrameMode switches framing for the frames that follow. Each new attempt
// starts in the mode given by FrameModeOption.
func (s *Session) SetFrameMode(m FrameMode) {
	s.decoder.SetMode(m)
}

// FrameMode returns the current framing mode.
func (s *Session) FrameMode() FrameMode {
	return s.decoder.Mode()
}

// ExpectPayload announces that the next length raw bytes of the stream are a
// payload of contentType. It must be called from a CommandHandler, whose
// command declared the body; the payload state is owned by the read loop and
// is not safe for use from other goroutines. The payload handler is looked up
// now; if none is registered the bytes are still consumed and reported as
// unhandled.
func (s *Session) ExpectPayload(contentType string, length int) error {
	if length < 0 || length > s.opts.maxPayloadSize {
		return ErrInvalidPayloadLength
	}
	h, _ := s.dispatch.payload(contentType)
	return s.assembler.begin(contentType, length, h)
}

func (s *Session) transitionLocked(to State) {
	from := s.state
	if !from.canTransition(to) {
		s.logger.Error("invalid state transition", "session", s.id, "from", from, "to", to)
		return
	}
	s.state = to
	s.metrics.incTransition(to)
	s.logger.Debug("session state", "session", s.id, "from", from, "to", to)
}

type dialResult struct {
	t   Transport
	err error
}

// run drives one attempt from dial to teardown.
func (s *Session) run(a *attempt, timeout time.Duration, dial func(context.Context) (Transport, error)) {
	t, err := s.dial(a, timeout, dial)
	if err != nil {
		s.end(a, err)
		return
	}

	s.mu.Lock()
	if a.ctx.Err() != nil {
		s.mu.Unlock()
		_ = t.Close()
		s.end(a, a.ctx.Err())
		return
	}
	a.transport = t
	s.transitionLocked(Connected)
	s.mu.Unlock()

	s.logger.Info("session connected", "session", s.id, "addr", a.addr, "attempt", a.seq)
	s.opts.onConnected.OnConnected(s)

	err = s.serve(a, t)
	_ = t.Close()
	s.end(a, err)
}

// dial runs the dial function under the connect timeout. The dial itself
// runs on its own goroutine so that a dialer ignoring its context still
// cannot hold the session past the timeout; a transport it returns late is
// closed.
func (s *Session) dial(a *attempt, timeout time.Duration, dial func(context.Context) (Transport, error)) (Transport, error) {
	ctx, cancel := context.WithTimeout(a.ctx, timeout)
	defer cancel()

	result := make(chan dialResult, 1)
	go func() {
		t, err := dial(ctx)
		result <- dialResult{t: t, err: err}
	}()

	select {
	case r := <-result:
		if r.err == nil && ctx.Err() == nil {
			return r.t, nil
		}
		if r.err == nil {
			_ = r.t.Close()
		}
		if ctx.Err() != nil {
			return nil, s.dialAborted(a, timeout)
		}
		if KindOf(r.err) == KindUnknown {
			return nil, newError(classifyDial(ctx, r.err), "dial", r.err)
		}
		return nil, r.err
	case <-ctx.Done():
		go func() {
			if r := <-result; r.err == nil && r.t != nil {
				_ = r.t.Close()
			}
		}()
		return nil, s.dialAborted(a, timeout)
	}
}

func (s *Session) dialAborted(a *attempt, timeout time.Duration) error {
	if err := a.ctx.Err(); err != nil {
		return err
	}
	return newError(Timeout, "dial", errors.Errorf("connect to %s timed out after %s", a.addr, timeout))
}

// end tears the attempt down and reports it. It runs at most once per attempt.
func (s *Session) end(a *attempt, err error) {
	a.once.Do(func() {
		s.mu.Lock()
		var reason Reason
		switch {
		case a.closing:
			reason = Reason{Kind: Closed}
		case a.ctx.Err() != nil && KindOf(err) == KindUnknown:
			reason = Reason{Kind: Closed, Err: a.ctx.Err()}
		default:
			if KindOf(err) == KindUnknown {
				err = newError(ConnectionReset, "session", err)
			}
			reason = reasonFrom(err)
		}

		if reason.Kind == Closed {
			if s.state != Disconnecting {
				s.transitionLocked(Disconnecting)
			}
			s.transitionLocked(Disconnected)
		} else {
			s.transitionLocked(Failed)
		}

		a.transport = nil
		if a.flushTimer != nil {
			a.flushTimer.Stop()
		}
		discarded := s.queue.discard()
		s.assembler.reset()
		s.decoder.SetMode(s.opts.frameMode)
		s.mu.Unlock()

		a.cancel()
		s.metrics.addMessages(Discarded, discarded)
		s.metrics.incDisconnect(reason.Kind)

		if reason.Failed() {
			s.logger.Warn("session failed", "session", s.id, "addr", a.addr, "attempt", a.seq,
				"reason", reason.Kind, "error", reason.Err, "discarded", discarded)
		} else {
			s.logger.Info("session closed", "session", s.id, "addr", a.addr, "attempt", a.seq, "discarded", discarded)
		}

		s.opts.onDisconnected.OnDisconnected(s, reason)
		close(a.done)
	})
}

package imsession

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Handler prepares the session created for an accepted connection.
// Handle runs before the session starts reading, so handlers registered
// inside it see the first frame.
type Handler interface {
	Handle(s *Session)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(s *Session)

// Handle calls f(s).
func (f HandlerFunc) Handle(s *Session) { f(s) }

// Server accepts TCP connections and runs a Session over each of them.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration
	pollInterval    time.Duration
	sessionOpts     []Option

	mu          sync.Mutex
	shutdown    bool
	sessions    map[*Session]struct{}
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets how long Serve keeps accepting after its
// context is canceled. Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerPollIntervalOption sets the poll interval of accepted transports.
func ServerPollIntervalOption(d time.Duration) ServerOption {
	return func(s *Server) {
		s.pollInterval = d
	}
}

// ServerSessionOption sets the options of every accepted session.
func ServerSessionOption(opts ...Option) ServerOption {
	return func(s *Server) {
		s.sessionOpts = append(s.sessionOpts, opts...)
	}
}

// NewServer creates a server bound to addr.
func NewServer(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:    listener,
		logger:      slog.Default(),
		sessions:    make(map[*Session]struct{}),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections until ctx is canceled. Each connection gets a
// new Session, prepared by handler and attached with ctx, so canceling ctx
// also closes the sessions.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	go func() {
		<-ctx.Done()

		if s.shutdownTimeout > 0 {
			s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
			select {
			case <-time.After(s.shutdownTimeout):
			case <-s.shutdownNow:
				s.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// unblocks Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return err
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		go s.adopt(ctx, conn, handler)
	}
}

func (s *Server) adopt(ctx context.Context, conn *net.TCPConn, handler Handler) {
	opts := append(append([]Option(nil), s.sessionOpts...), s.trackOption())
	sess, err := NewSession(opts...)
	if err != nil {
		s.logger.Error("create session", "remote_addr", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
		return
	}

	handler.Handle(sess)

	// attach under the lock so Close either sees the session or stops it here
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		s.logger.Debug("server closed, dropping connection", "remote_addr", conn.RemoteAddr())
		_ = conn.Close()
		return
	}
	if err = sess.Attach(ctx, newTCPTransport(conn, s.pollInterval)); err != nil {
		_ = conn.Close()
		return
	}
	s.sessions[sess] = struct{}{}
}

// trackOption chains the user's disconnect callback with the server's
// bookkeeping; options apply in order, so it sees the final user callback.
func (s *Server) trackOption() Option {
	return func(o *options) {
		user := o.onDisconnected
		o.onDisconnected = DisconnectHandlerFunc(func(sess *Session, r Reason) {
			s.forget(sess)
			if user != nil {
				user.OnDisconnected(sess, r)
			}
		})
	}
}

func (s *Server) forget(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// Sessions returns the sessions currently attached.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Close stops accepting and disconnects every session immediately.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}

	for _, sess := range sessions {
		sess.Disconnect(Immediate)
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

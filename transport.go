package imsession

import (
	"context"
	"io"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// Transport is one byte stream to a single remote endpoint.
//
// Read and Write never block longer than one poll interval. Read returns
// ErrWouldBlock when nothing arrived and io.EOF when the peer closed the
// stream. Write may accept only a prefix of p and return ErrWouldBlock; the
// caller retries the remainder later. A Transport never retries internally.
type Transport interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
	RemoteAddr() net.Addr
}

// Dialer establishes transports. The context carries the connect deadline.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, host string, port int) (Transport, error)

// Dial calls f(ctx, host, port).
func (f DialerFunc) Dial(ctx context.Context, host string, port int) (Transport, error) {
	return f(ctx, host, port)
}

const defaultPollInterval = 50 * time.Millisecond

// TCPDialer dials TCP transports. The zero value is ready to use.
type TCPDialer struct {
	// Resolver is used for name lookups. Nil means net.DefaultResolver.
	Resolver *net.Resolver
	// PollInterval bounds how long a single Read or Write may wait.
	PollInterval time.Duration
	// KeepAlive is passed to net.Dialer.
	KeepAlive time.Duration
}

// Dial resolves host and connects to the first address that accepts.
// Errors are returned as *Error with kind ResolutionFailure,
// ConnectionRefused, ConnectionReset or Timeout.
func (d *TCPDialer) Dial(ctx context.Context, host string, port int) (Transport, error) {
	if port <= 0 || port > 65535 {
		return nil, newError(ResolutionFailure, "dial", errors.Errorf("invalid port %d", port))
	}

	resolver := d.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(Timeout, "dial", errors.Wrapf(ctx.Err(), "lookup %s", host))
		}
		return nil, newError(ResolutionFailure, "dial", errors.Wrapf(err, "lookup %s", host))
	}

	dialer := net.Dialer{KeepAlive: d.KeepAlive}
	var lastErr error
	for _, addr := range addrs {
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
		if err == nil {
			return newTCPTransport(conn, d.PollInterval), nil
		}
		lastErr = errors.Wrapf(err, "connect %s", addr)
		if ctx.Err() != nil {
			break
		}
	}

	return nil, newError(classifyDial(ctx, lastErr), "dial", lastErr)
}

// tcpTransport turns a blocking net.Conn into the poll-bounded Transport
// contract with short read and write deadlines.
type tcpTransport struct {
	conn net.Conn
	poll time.Duration
}

func newTCPTransport(conn net.Conn, poll time.Duration) *tcpTransport {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &tcpTransport{conn: conn, poll: poll}
}

func (t *tcpTransport) Read(p []byte) (int, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(t.poll))
	n, err := t.conn.Read(p)
	if err == nil {
		return n, nil
	}
	if isTimeout(err) {
		if n > 0 {
			return n, nil
		}
		return 0, ErrWouldBlock
	}
	if errors.Is(err, io.EOF) {
		return n, io.EOF
	}
	return n, classifyIO(err, "read")
}

func (t *tcpTransport) Write(p []byte) (int, error) {
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.poll))
	n, err := t.conn.Write(p)
	if err == nil {
		return n, nil
	}
	if isTimeout(err) {
		return n, ErrWouldBlock
	}
	return n, classifyIO(err, "write")
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func (t *tcpTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func classifyDial(ctx context.Context, err error) ErrorKind {
	switch {
	case ctx.Err() != nil, isTimeout(err):
		return Timeout
	case err == nil:
		return ConnectionRefused
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ResolutionFailure
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return ConnectionReset
	}
	// refused, unreachable network or host: the endpoint cannot be reached
	return ConnectionRefused
}

// classifyIO maps an error from an established stream to a kind. Errors that
// already carry a kind are returned unchanged.
func classifyIO(err error, op string) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, net.ErrClosed):
		return newError(ConnectionReset, op, err)
	case op == "write":
		return newError(WriteFailure, op, err)
	default:
		return newError(ConnectionReset, op, err)
	}
}

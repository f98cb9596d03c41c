package imsession

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a session operation failed or why a session ended.
type ErrorKind int

const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown ErrorKind = iota
	// ResolutionFailure means the host name could not be resolved.
	ResolutionFailure
	// ConnectionRefused means the remote endpoint actively refused the connection.
	ConnectionRefused
	// ConnectionReset means the established stream was reset or closed by the peer.
	ConnectionReset
	// Timeout means connection establishment or the read idle timer expired.
	Timeout
	// MalformedFrame means buffered bytes cannot be interpreted as a frame.
	MalformedFrame
	// WriteFailure means the transport rejected a write with a hard error.
	WriteFailure
	// HandlerFailure means a registered handler returned an error and the
	// error policy chose to disconnect.
	HandlerFailure
	// Closed means the caller disconnected the session. It is not a failure.
	Closed
)

var kindNames = [...]string{
	KindUnknown:       "unknown",
	ResolutionFailure: "resolution_failure",
	ConnectionRefused: "connection_refused",
	ConnectionReset:   "connection_reset",
	Timeout:           "timeout",
	MalformedFrame:    "malformed_frame",
	WriteFailure:      "write_failure",
	HandlerFailure:    "handler_failure",
	Closed:            "closed",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Errors returned by session operations.
var (
	// ErrWouldBlock is returned by a Transport when a read or write cannot
	// make progress right now. It signals backpressure, not failure.
	ErrWouldBlock = errors.New("operation would block")
	// ErrInvalidState is returned when an operation is not allowed in the
	// current session state, e.g. Connect on a connected session.
	ErrInvalidState = errors.New("invalid session state")
	// ErrNotConnected is returned by Send when no connection attempt is active.
	ErrNotConnected = errors.New("session not connected")
	// ErrBufferFull is returned by Send when the outbound queue reached its limit.
	ErrBufferFull = errors.New("send buffer full")
	// ErrDiscarded is reported by a MessageHandle whose message was dropped
	// because the connection ended before it was written.
	ErrDiscarded = errors.New("message discarded")
	// ErrCanceled is reported by a MessageHandle removed with CancelSend.
	ErrCanceled = errors.New("message canceled")
	// ErrPayloadInProgress is returned when a payload is announced while
	// another one is still being assembled.
	ErrPayloadInProgress = errors.New("payload already in progress")
	// ErrInvalidPayloadLength is returned for a negative or oversized payload length.
	ErrInvalidPayloadLength = errors.New("invalid payload length")
)

// Error is a classified session error.
type Error struct {
	Kind ErrorKind
	Op   string
	// Frame holds the offending bytes of a MalformedFrame error.
	Frame []byte
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Reason describes why a connection attempt ended. It is passed to
// DisconnectHandler.OnDisconnected exactly once per attempt.
type Reason struct {
	Kind ErrorKind
	Err  error
}

// Failed reports whether the attempt ended with an error rather than a local close.
func (r Reason) Failed() bool {
	return r.Kind != Closed
}

func (r Reason) String() string {
	if r.Err == nil {
		return r.Kind.String()
	}
	return r.Kind.String() + ": " + r.Err.Error()
}

func reasonFrom(err error) Reason {
	return Reason{Kind: KindOf(err), Err: err}
}

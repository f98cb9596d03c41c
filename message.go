package imsession

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Encoder turns an outbound command and its params into wire bytes.
// Applications implement it for protocols whose framing differs from the
// bundled line and length-prefix formats.
type Encoder interface {
	Encode(command string, params []byte) ([]byte, error)
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(command string, params []byte) ([]byte, error)

// Encode calls f(command, params).
func (f EncoderFunc) Encode(command string, params []byte) ([]byte, error) {
	return f(command, params)
}

// LineEncoder encodes "command SP params" followed by Delimiter.
// A command without params is written without the trailing space.
type LineEncoder struct {
	// Delimiter defaults to "\r\n".
	Delimiter []byte
}

// Encode builds one line. Command must be non-empty and neither part may
// contain the delimiter.
func (e LineEncoder) Encode(command string, params []byte) ([]byte, error) {
	delim := e.Delimiter
	if len(delim) == 0 {
		delim = []byte("\r\n")
	}
	if command == "" || bytes.IndexByte([]byte(command), ' ') >= 0 {
		return nil, fmt.Errorf("invalid command %q", command)
	}
	if bytes.Contains([]byte(command), delim) || bytes.Contains(params, delim) {
		return nil, fmt.Errorf("command %s: line contains delimiter", command)
	}

	out := make([]byte, 0, len(command)+1+len(params)+len(delim))
	out = append(out, command...)
	if len(params) > 0 {
		out = append(out, ' ')
		out = append(out, params...)
	}
	return append(out, delim...), nil
}

// MessageState is the lifecycle state of an outbound message.
type MessageState int32

const (
	// Queued messages may still be canceled.
	Queued MessageState = iota
	// Sending means the first write was attempted. The message can no longer be canceled.
	Sending
	// Sent means every byte was accepted by the transport.
	Sent
	// Canceled means the message was removed by CancelSend.
	Canceled
	// Discarded means the connection ended before the message was written.
	Discarded
)

func (s MessageState) String() string {
	switch s {
	case Queued:
		return "queued"
	case Sending:
		return "sending"
	case Sent:
		return "sent"
	case Canceled:
		return "canceled"
	case Discarded:
		return "discarded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MessageHandle identifies one enqueued message. It is returned by Send and
// accepted by CancelSend.
type MessageHandle struct {
	id      uuid.UUID
	command string
	data    []byte

	// off is the number of bytes already written; only the write loop touches it.
	off int

	mu    sync.Mutex
	state MessageState
	err   error
	done  chan struct{}
}

func newMessageHandle(command string, data []byte) *MessageHandle {
	return &MessageHandle{
		id:      uuid.New(),
		command: command,
		data:    data,
		done:    make(chan struct{}),
	}
}

// ID returns the unique message id.
func (h *MessageHandle) ID() uuid.UUID {
	return h.id
}

// Command returns the command the message was sent with.
func (h *MessageHandle) Command() string {
	return h.command
}

// Len returns the encoded size in bytes.
func (h *MessageHandle) Len() int {
	return len(h.data)
}

// State returns the current state.
func (h *MessageHandle) State() MessageState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the message is sent, canceled or discarded.
func (h *MessageHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns nil for a sent message, ErrCanceled or ErrDiscarded otherwise.
// It is only meaningful after Done is closed.
func (h *MessageHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *MessageHandle) setState(s MessageState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// finish moves the message to a final state and releases waiters.
func (h *MessageHandle) finish(s MessageState, err error) {
	h.mu.Lock()
	h.state = s
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

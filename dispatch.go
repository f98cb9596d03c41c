package imsession

import "sync"

// CommandHandler handles one inbound line or block frame.
// A returned error is passed to the session's error policy.
type CommandHandler interface {
	HandleCommand(s *Session, f Frame) error
}

// CommandHandlerFunc adapts a function to the CommandHandler interface.
type CommandHandlerFunc func(s *Session, f Frame) error

// HandleCommand calls f(s, frame).
func (f CommandHandlerFunc) HandleCommand(s *Session, frame Frame) error {
	return f(s, frame)
}

// PayloadHandler receives a fully reassembled payload.
type PayloadHandler interface {
	HandlePayload(s *Session, contentType string, payload []byte) error
}

// PayloadHandlerFunc adapts a function to the PayloadHandler interface.
type PayloadHandlerFunc func(s *Session, contentType string, payload []byte) error

// HandlePayload calls f(s, contentType, payload).
func (f PayloadHandlerFunc) HandlePayload(s *Session, contentType string, payload []byte) error {
	return f(s, contentType, payload)
}

// dispatchTable maps command names and payload content types to handlers.
// Keys match exactly; registering a key again replaces the previous handler.
// Handlers run without the lock held, so they may register or unregister.
type dispatchTable struct {
	mu       sync.RWMutex
	commands map[string]CommandHandler
	payloads map[string]PayloadHandler
}

func newDispatchTable() *dispatchTable {
	return &dispatchTable{
		commands: make(map[string]CommandHandler),
		payloads: make(map[string]PayloadHandler),
	}
}

func (t *dispatchTable) registerCommand(name string, h CommandHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h == nil {
		delete(t.commands, name)
		return
	}
	t.commands[name] = h
}

func (t *dispatchTable) registerPayload(contentType string, h PayloadHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h == nil {
		delete(t.payloads, contentType)
		return
	}
	t.payloads[contentType] = h
}

func (t *dispatchTable) unregisterCommand(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.commands[name]
	delete(t.commands, name)
	return ok
}

func (t *dispatchTable) unregisterPayload(contentType string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.payloads[contentType]
	delete(t.payloads, contentType)
	return ok
}

func (t *dispatchTable) command(name string) (CommandHandler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.commands[name]
	return h, ok
}

func (t *dispatchTable) payload(contentType string) (PayloadHandler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.payloads[contentType]
	return h, ok
}

// dispatch invokes the handler registered for f.Command, if any.
// An unregistered command is reported as handled == false, not as an error.
func (t *dispatchTable) dispatch(s *Session, f Frame) (handled bool, err error) {
	h, ok := t.command(f.Command)
	if !ok {
		return false, nil
	}
	return true, h.HandleCommand(s, f)
}

package imsession

import "sync"

// payloadAssembler collects the body of at most one announced payload.
// Invariant: len(buf) <= declared while active.
type payloadAssembler struct {
	mu          sync.Mutex
	active      bool
	contentType string
	declared    int
	buf         []byte
	// handler is resolved when the payload is announced; nil means unhandled.
	handler PayloadHandler
}

// begin starts a payload of length bytes. A zero-length payload is active
// and already complete.
func (a *payloadAssembler) begin(contentType string, length int, h PayloadHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active {
		return ErrPayloadInProgress
	}
	if length < 0 {
		return ErrInvalidPayloadLength
	}

	a.active = true
	a.contentType = contentType
	a.declared = length
	a.buf = make([]byte, 0, length)
	a.handler = h
	return nil
}

func (a *payloadAssembler) inProgress() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// remaining returns how many bytes are still missing.
func (a *payloadAssembler) remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return 0
	}
	return a.declared - len(a.buf)
}

// feed appends at most remaining() bytes of chunk and returns how many it used.
func (a *payloadAssembler) feed(chunk []byte) (used int, complete bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return 0, false
	}
	used = a.declared - len(a.buf)
	if used > len(chunk) {
		used = len(chunk)
	}
	a.buf = append(a.buf, chunk[:used]...)
	return used, len(a.buf) == a.declared
}

// finish clears the slot and returns the completed payload.
func (a *payloadAssembler) finish() (contentType string, payload []byte, h PayloadHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()

	contentType, payload, h = a.contentType, a.buf, a.handler
	a.active = false
	a.contentType = ""
	a.declared = 0
	a.buf = nil
	a.handler = nil
	return contentType, payload, h
}

func (a *payloadAssembler) reset() {
	a.finish()
}

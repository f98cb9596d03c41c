package imsession

import "fmt"

// State is the connection state of a Session.
type State int32

const (
	// Disconnected is the initial state and the end of a local close.
	Disconnected State = iota
	// Connecting means a dial is in progress.
	Connecting
	// Connected means the transport is up and the I/O loops are running.
	Connected
	// Disconnecting means a local close was requested and is in progress.
	Disconnecting
	// Failed means the last attempt ended with an error. Connect may be called again.
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// transitions lists the allowed edges. There is no edge from Disconnected
// to Connected: every connection passes through Connecting.
var transitions = map[State][]State{
	Disconnected:  {Connecting},
	Connecting:    {Connected, Disconnecting, Failed},
	Connected:     {Disconnecting, Failed},
	Disconnecting: {Disconnected},
	Failed:        {Connecting},
}

func (s State) canTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// DisconnectMode selects how Disconnect treats queued messages.
type DisconnectMode int

const (
	// Graceful writes the queued messages before closing, bounded by the flush timeout.
	Graceful DisconnectMode = iota
	// Immediate closes at once and discards the queue.
	Immediate
)

func (m DisconnectMode) String() string {
	if m == Immediate {
		return "immediate"
	}
	return "graceful"
}

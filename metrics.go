package imsession

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by the sessions it is given
// to. A nil *Metrics records nothing.
type Metrics struct {
	frames      *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	messages    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	disconnects *prometheus.CounterVec
	unhandled   *prometheus.CounterVec
	handlerErrs prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imsession_frames_total",
				Help: "Total inbound frames by type",
			},
			[]string{"type"}, // line|block|payload
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imsession_bytes_total",
				Help: "Total bytes moved through transports by direction",
			},
			[]string{"direction"}, // in|out
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imsession_messages_total",
				Help: "Total outbound messages by final state",
			},
			[]string{"state"}, // sent|canceled|discarded
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imsession_transitions_total",
				Help: "Total session state transitions by target state",
			},
			[]string{"state"},
		),
		disconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imsession_disconnects_total",
				Help: "Total ended connection attempts by reason",
			},
			[]string{"reason"},
		),
		unhandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imsession_unhandled_total",
				Help: "Total inbound frames or payloads without a handler",
			},
			[]string{"kind"}, // command|payload
		),
		handlerErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imsession_handler_errors_total",
			Help: "Total errors returned by command and payload handlers",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.frames, m.bytes, m.messages, m.transitions, m.disconnects, m.unhandled, m.handlerErrs,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) incFrame(t FrameType) {
	if m == nil {
		return
	}
	var label string
	switch t {
	case FrameBlock:
		label = "block"
	case FramePayload:
		label = "payload"
	default:
		label = "line"
	}
	m.frames.WithLabelValues(label).Inc()
}

func (m *Metrics) addBytesIn(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues("in").Add(float64(n))
}

func (m *Metrics) addBytesOut(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues("out").Add(float64(n))
}

func (m *Metrics) addMessages(s MessageState, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messages.WithLabelValues(s.String()).Add(float64(n))
}

func (m *Metrics) incTransition(to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to.String()).Inc()
}

func (m *Metrics) incDisconnect(kind ErrorKind) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) incUnhandled(kind string) {
	if m == nil {
		return
	}
	m.unhandled.WithLabelValues(kind).Inc()
}

func (m *Metrics) incHandlerError() {
	if m == nil {
		return
	}
	m.handlerErrs.Inc()
}

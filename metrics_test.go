package imsession

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.incFrame(FrameLine)
		m.addBytesIn(10)
		m.addBytesOut(10)
		m.addMessages(Sent, 1)
		m.incTransition(Connected)
		m.incDisconnect(Closed)
		m.incUnhandled("command")
		m.incHandlerError()
	})
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_Counters(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.incFrame(FrameLine)
	m.incFrame(FrameBlock)
	m.incFrame(FramePayload)
	m.incFrame(FrameLine)
	m.addBytesIn(5)
	m.addBytesIn(0)
	m.addMessages(Discarded, 3)
	m.addMessages(Canceled, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.frames.WithLabelValues("line")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.frames.WithLabelValues("payload")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.bytes.WithLabelValues("in")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.messages.WithLabelValues("discarded")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.messages.WithLabelValues("canceled")))
}

func TestMetrics_SessionTraffic(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	ft := newFakeTransport()
	ft.setWritable(true)
	r := newRecorder()
	s := connected(t, ft, r, MetricsOption(m))
	s.RegisterCommandHandler("BAD", CommandHandlerFunc(func(*Session, Frame) error {
		return errors.New("bad")
	}))

	h, err := s.Send("HELLO", nil)
	require.NoError(t, err)
	<-h.Done()

	ft.push("WHO\r\n", "BAD\r\n")
	reason := r.waitDisconnected(t)
	require.Equal(t, HandlerFailure, reason.Kind)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.messages.WithLabelValues("sent")))
	assert.Equal(t, float64(len("HELLO\r\n")), testutil.ToFloat64(m.bytes.WithLabelValues("out")))
	assert.Equal(t, float64(len("WHO\r\nBAD\r\n")), testutil.ToFloat64(m.bytes.WithLabelValues("in")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.frames.WithLabelValues("line")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.unhandled.WithLabelValues("command")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.handlerErrs))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitions.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.disconnects.WithLabelValues("handler_failure")))
}

func TestMetrics_Gather(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.incTransition(Connecting)
	m.incDisconnect(Timeout)

	n, err := testutil.GatherAndCount(reg, "imsession_transitions_total", "imsession_disconnects_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

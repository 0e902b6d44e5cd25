package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.SetConnected(true)
	assert.Equal(t, 1.0, value(t, m, "widgetchat_connected", nil))
	m.SetConnected(false)
	m.SetConnected(true)
	assert.Equal(t, 2.0, value(t, m, "widgetchat_connects_total", nil))
	assert.Equal(t, 1.0, value(t, m, "widgetchat_disconnects_total", nil))

	m.MessageSent()
	m.MessageReceived("bot")
	m.MessageReceived("bot")
	m.MessageReceived("system")
	m.ServerError()
	m.AckLatency(40 * time.Millisecond)
	m.HistoryFetch(HistorySuperseded)

	assert.Equal(t, 1.0, value(t, m, "widgetchat_messages_sent_total", nil))
	assert.Equal(t, 2.0, value(t, m, "widgetchat_messages_received_total", map[string]string{"kind": "bot"}))
	assert.Equal(t, 1.0, value(t, m, "widgetchat_messages_received_total", map[string]string{"kind": "system"}))
	assert.Equal(t, 1.0, value(t, m, "widgetchat_server_errors_total", nil))
	assert.Equal(t, 1.0, value(t, m, "widgetchat_message_ack_seconds", nil))
	assert.Equal(t, 1.0, value(t, m, "widgetchat_history_fetches_total", map[string]string{"result": "superseded"}))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetConnected(true)
		m.MessageSent()
		m.MessageReceived("bot")
		m.ServerError()
		m.AckLatency(time.Second)
		m.HistoryFetch(HistoryOK)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.MessageSent()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "widgetchat_messages_sent_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandlerExposesLoopCounters(t *testing.T) {
	m := New()
	m.CyclesCompleted.Add(3)
	m.InferenceErrors.Add(1)
	m.ObserveInference(20 * time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, "monitor_cycles_total 3")
	assert.Contains(t, body, "monitor_inference_errors_total 1")
	assert.Contains(t, body, "monitor_inference_duration_seconds_count 1")
}

func TestSetAlertCountsRisingEdges(t *testing.T) {
	m := New()
	m.SetAlert(true)
	m.SetAlert(true)
	m.SetAlert(false)
	m.SetAlert(true)

	assert.Equal(t, uint64(2), m.AlertsRaised.Load())
	assert.Equal(t, uint64(1), m.AlertActive.Load())
}

func TestTemperatureGauge(t *testing.T) {
	m := New()
	assert.Contains(t, scrape(t, m), "monitor_temperature_celsius NaN")

	m.SetTemperature(31.5, true)
	assert.Contains(t, scrape(t, m), "monitor_temperature_celsius 31.5")

	m.SetTemperature(0, false)
	assert.Contains(t, scrape(t, m), "monitor_temperature_celsius NaN")
}

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporterCounters(t *testing.T) {
	e := NewExporter(DefaultConfig())

	e.RelayStarted()
	e.RelayStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(e.relaysActive))

	e.RelayFinished(OutcomeCompleted, time.Second)
	e.RelayFinished(OutcomeCancelled, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(e.relaysActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.relaysStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.relaysFinished.WithLabelValues(OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.relaysFinished.WithLabelValues(OutcomeCancelled)))

	e.Flush("text", true)
	e.Flush("text", true)
	e.Flush("reasoning", false)
	assert.Equal(t, 2.0, testutil.ToFloat64(e.flushes.WithLabelValues("text", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.flushes.WithLabelValues("reasoning", "failed")))

	e.Frame("text")
	assert.Equal(t, 1.0, testutil.ToFloat64(e.frames.WithLabelValues("text")))
}

func TestExporterHandler(t *testing.T) {
	e := NewExporter(Config{})
	e.RelayStarted()
	e.TimeToFirstToken(150 * time.Millisecond)

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "t4chat_relay_started_total 1"))
	assert.True(t, strings.Contains(text, "t4chat_relay_time_to_first_token_seconds_count 1"))
}

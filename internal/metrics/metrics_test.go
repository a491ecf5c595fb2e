package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbqa/internal/service"
)

var _ service.Metrics = (*Collectors)(nil)

func TestCollectors_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.TurnCompleted("", 120*time.Millisecond)
	c.TurnCompleted("GENERATION_FAILED", time.Second)
	c.TurnCompleted("", time.Millisecond)
	c.ConsistencyViolations(2)
	c.SessionsActive(3)
	c.ChunksIngested(7)
	c.GenerationAttempts(2)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.turns.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.turns.WithLabelValues("GENERATION_FAILED")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.violations))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.sessions))
	assert.Equal(t, float64(7), testutil.ToFloat64(c.ingested))
	assert.Equal(t, 1, testutil.CollectAndCount(c.attempts))
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := NewRegistry()
	c := New(reg)
	c.SessionsActive(1)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "kbqa_sessions_active 1")
	assert.Contains(t, string(body), "go_goroutines")
}

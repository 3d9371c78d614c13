package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Records(t *testing.T) {
	c := NewCollector()

	c.RecordTurn("turn", OutcomeOK, time.Second)
	c.RecordTurn("turn", OutcomeOK, 2*time.Second)
	c.RecordTurn("retry", OutcomeError, time.Second)
	c.RecordTokens("character", 120, 30)
	c.RecordSummarization("compressed")
	c.RecordGeneration("anthropic", time.Second, errors.New("boom"))
	c.RecordGeneration("anthropic", time.Second, nil)
	c.SetQueueDepth(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("turn", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("retry", OutcomeError)))
	assert.Equal(t, 120.0, testutil.ToFloat64(c.tokensTotal.WithLabelValues("character", "input")))
	assert.Equal(t, 30.0, testutil.ToFloat64(c.tokensTotal.WithLabelValues("character", "output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.summarizationsTotal.WithLabelValues("compressed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.generationErrors.WithLabelValues("anthropic")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.queueDepth))
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector
	c.RecordTurn("turn", OutcomeOK, time.Second)
	c.RecordTokens("character", 1, 1)
	c.RecordSummarization("failed")
	c.RecordGeneration("x", time.Second, nil)
	c.SetQueueDepth(1)
	assert.NotNil(t, c.Handler())
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.RecordSummarization("skipped")

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `troupe_summarizations_total{result="skipped"} 1`))
}

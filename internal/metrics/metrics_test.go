package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.SwapObserved("uniswap_v3")
	m.SwapObserved("uniswap_v3")
	m.SwapDropped("uniswap_v3")
	m.PriceImpact("uniswap_v3", 63.5)
	m.OpportunityFound("pancakeswap_v3")
	m.Submission("uniswap_v3", "submitted")
	m.Submission("uniswap_v3", "failed")
	m.Confirmation("ArbitrageConcluded")
	m.Reconnected()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SwapsObserved.WithLabelValues("uniswap_v3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SwapsDropped.WithLabelValues("uniswap_v3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpportunitiesFound.WithLabelValues("pancakeswap_v3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("uniswap_v3", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Confirmations.WithLabelValues("ArbitrageConcluded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamReconnects))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PriceImpactBps))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SwapObserved("uniswap_v3")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `flasharb_dex_swaps_observed_total{venue="uniswap_v3"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestInstancesAreIsolated(t *testing.T) {
	a, b := New(), New()
	a.Reconnected()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StreamReconnects))
}

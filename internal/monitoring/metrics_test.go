package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	assert.True(t, New(true).isEnabled())
	assert.False(t, New(false).isEnabled())
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	assert.False(t, m.isEnabled())
	m.RecordGeneration("fal", "flux-schnell", "ok", time.Second)
	m.RecordCreditReport("reported")
	m.UpdateSessionCredits(1.5)
	m.RecordVaultFetch("hit")
	m.RecordVaultUpload("remote")
	m.UpdateTokenCacheStats(3, 1)
}

func TestDisabledMetricsRecordNothing(t *testing.T) {
	m := New(false)

	// No panics and no counter movement when disabled.
	m.RecordGeneration("fal", "flux-schnell", "ok", time.Second)
	m.RecordCreditReport("offline")
	m.UpdateSessionCredits(0.5)
	m.RecordVaultFetch("miss")
	m.RecordVaultUpload("local_fallback")
	m.UpdateTokenCacheStats(3, 1)
}

func TestUpdateTokenCacheStats(t *testing.T) {
	m := New(true)
	m.UpdateTokenCacheStats(7, 2)

	assert.InDelta(t, 7, testutil.ToFloat64(TokenCacheHits), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(TokenCacheMisses), 1e-9)
}

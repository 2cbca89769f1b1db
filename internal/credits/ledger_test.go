package credits

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MozzzieStudio/CinemaOS/internal/monitoring"
	"github.com/MozzzieStudio/CinemaOS/internal/testhelpers"
)

func newTestLedger(vaultURL string) (*Ledger, *Session) {
	session := NewSession()
	ledger := NewLedger(session, vaultURL, testhelpers.NewTestLogger(), monitoring.New(false))
	return ledger, session
}

func TestLedgerChargeReported(t *testing.T) {
	var received usagePayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/credits/usage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ledger, session := newTestLedger(server.URL)

	total, status := ledger.Charge(context.Background(), Charge{
		Credits:   "0.0500",
		Model:     "flux-schnell",
		ProjectID: "proj-1",
		NodeID:    "node-1",
	})

	assert.Equal(t, StatusReported, status)
	assert.InDelta(t, 0.05, total, 1e-9)
	assert.InDelta(t, 0.05, session.Total(), 1e-9)

	assert.InDelta(t, 0.05, received.Credits, 1e-9)
	assert.Equal(t, "flux-schnell", received.Model)
	assert.Equal(t, "proj-1", received.ProjectID)
	assert.Equal(t, "node-1", received.NodeID)

	// Timestamp is RFC3339 UTC.
	ts, err := time.Parse(time.RFC3339, received.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ts.Location())
}

func TestLedgerChargeLocalOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ledger, session := newTestLedger(server.URL)

	total, status := ledger.Charge(context.Background(), Charge{Credits: "0.03", Model: "imagen-4"})

	// The session total includes the charge even when the remote rejects it.
	assert.Equal(t, StatusLocalOnly, status)
	assert.InDelta(t, 0.03, total, 1e-9)
	assert.InDelta(t, 0.03, session.Total(), 1e-9)
}

func TestLedgerChargeOffline(t *testing.T) {
	ledger, session := newTestLedger("http://127.0.0.1:1")

	total, status := ledger.Charge(context.Background(), Charge{Credits: "0.02", Model: "imagen-4"})

	assert.Equal(t, StatusOffline, status)
	assert.InDelta(t, 0.02, total, 1e-9)
	assert.InDelta(t, 0.02, session.Total(), 1e-9)
}

func TestLedgerChargeAssignsNodeID(t *testing.T) {
	var received usagePayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ledger, _ := newTestLedger(server.URL)

	_, status := ledger.Charge(context.Background(), Charge{Credits: "0.01", Model: "flux-schnell"})

	assert.Equal(t, StatusReported, status)
	assert.NotEmpty(t, received.NodeID)
}

func TestLedgerChargeUnparsableCredits(t *testing.T) {
	var received usagePayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ledger, session := newTestLedger(server.URL)

	total, status := ledger.Charge(context.Background(), Charge{Credits: "not-a-number", Model: "flux-schnell"})

	// Bad input coerces to a zero charge; the report still goes out.
	assert.Equal(t, StatusReported, status)
	assert.Zero(t, total)
	assert.Zero(t, session.Total())
	assert.Zero(t, received.Credits)
}

func TestLedgerAccumulatesAcrossStatuses(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls%2 == 0 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ledger, session := newTestLedger(server.URL)

	for i := 0; i < 4; i++ {
		ledger.Charge(context.Background(), Charge{Credits: "0.01", Model: "flux-schnell"})
	}

	assert.InDelta(t, 0.04, session.Total(), 1e-9)
}

package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MozzzieStudio/CinemaOS/internal/httputil"
	"github.com/MozzzieStudio/CinemaOS/internal/monitoring"
	"github.com/MozzzieStudio/CinemaOS/internal/utils"
)

// ReportStatus is the outcome of reporting a charge to the accounting
// endpoint. The session total is updated regardless of the status.
type ReportStatus string

const (
	// StatusReported means the remote endpoint accepted the charge (2xx).
	StatusReported ReportStatus = "reported"
	// StatusLocalOnly means the remote was reachable but rejected the
	// charge (non-2xx).
	StatusLocalOnly ReportStatus = "local_only"
	// StatusOffline means the remote was unreachable (timeout, connection
	// failure).
	StatusOffline ReportStatus = "offline"
)

const reportTimeout = 5 * time.Second

// Charge is one credit spend to accumulate and report. Owned by the ledger
// only for the duration of the report attempt.
type Charge struct {
	// Credits is the raw amount as reported by the provider. Unparsable
	// input coerces to 0.
	Credits   string
	Model     string
	ProjectID string
	// NodeID correlates the charge with the originating request; a fresh
	// UUID is assigned when empty.
	NodeID string
}

// usagePayload is the accounting endpoint's wire shape.
type usagePayload struct {
	Credits   float64 `json:"credits"`
	Model     string  `json:"model"`
	ProjectID string  `json:"project_id"`
	Timestamp string  `json:"timestamp"`
	NodeID    string  `json:"node_id"`
}

// Ledger accumulates charges into a Session and reports each one to the
// remote accounting endpoint. Reporting failures never surface as errors:
// they resolve to a degraded ReportStatus.
type Ledger struct {
	session  *Session
	vaultURL string
	client   *http.Client
	logger   *slog.Logger
	metrics  *monitoring.Metrics
}

// NewLedger creates a ledger reporting to vaultURL's /api/credits/usage.
func NewLedger(session *Session, vaultURL string, logger *slog.Logger, metrics *monitoring.Metrics) *Ledger {
	return &Ledger{
		session:  session,
		vaultURL: vaultURL,
		client:   httputil.NewClient(&httputil.ClientConfig{Timeout: reportTimeout}),
		logger:   logger,
		metrics:  metrics,
	}
}

// Session returns the session this ledger accumulates into.
func (l *Ledger) Session() *Session {
	return l.session
}

// Charge parses the amount, accumulates it into the session, and attempts to
// report it. The accumulate-then-report sequence is atomic with respect to
// concurrent charges. The returned total includes this charge in all three
// status cases; the accumulate never depends on the report succeeding.
func (l *Ledger) Charge(ctx context.Context, charge Charge) (float64, ReportStatus) {
	credits := ParseCredits(charge.Credits)
	total := l.session.add(credits)
	l.metrics.UpdateSessionCredits(total)

	status := l.report(ctx, credits, charge)
	l.metrics.RecordCreditReport(string(status))

	if status != StatusReported {
		l.logger.Warn("Credit charge not reported remotely",
			"status", string(status),
			"credits", credits,
			"model", charge.Model,
			"session_total", total,
		)
	} else {
		l.logger.Debug("Credit charge reported",
			"credits", credits,
			"model", charge.Model,
			"session_total", total,
		)
	}

	return total, status
}

// report posts the charge to the accounting endpoint and classifies the
// outcome. Never returns an error.
func (l *Ledger) report(ctx context.Context, credits float64, charge Charge) ReportStatus {
	nodeID := charge.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	payload := usagePayload{
		Credits:   credits,
		Model:     charge.Model,
		ProjectID: charge.ProjectID,
		Timestamp: utils.NowUTC().Format(time.RFC3339),
		NodeID:    nodeID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		// Marshal of a flat struct cannot realistically fail; treat as
		// a local-only outcome rather than dropping the accumulate.
		l.logger.Error("Failed to marshal credit report", "error", err)
		return StatusLocalOnly
	}

	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/credits/usage", l.vaultURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		l.logger.Error("Failed to create credit report request", "error", err)
		return StatusOffline
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		kind := httputil.ClassifyError(err)
		l.logger.Debug("Credit report transport failure",
			"kind", string(kind),
			"error", err,
		)
		return StatusOffline
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if httputil.ClassifyStatus(resp.StatusCode) != httputil.FailureNone {
		return StatusLocalOnly
	}
	return StatusReported
}

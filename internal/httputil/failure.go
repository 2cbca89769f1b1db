package httputil

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind classifies why an outbound HTTP call did not succeed.
// Telemetry and persistence callers map each kind to a degraded status
// instead of failing the overall operation.
type FailureKind string

const (
	// FailureNone means the call completed with a 2xx status.
	FailureNone FailureKind = ""
	// FailureTimeout means the call exceeded its deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureConnection means the remote was unreachable (DNS failure,
	// connection refused, reset).
	FailureConnection FailureKind = "connection"
	// FailureStatus means the remote was reachable but returned a non-2xx
	// status code.
	FailureStatus FailureKind = "status"
)

// ClassifyError classifies a transport-level error returned by http.Client.Do.
// A nil error classifies as FailureNone; the caller is expected to classify
// the status code separately via ClassifyStatus.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	// Everything else at the transport level (DNS, refused connection,
	// reset, TLS handshake) counts as the remote being unreachable.
	return FailureConnection
}

// ClassifyStatus classifies an HTTP status code from a completed call.
func ClassifyStatus(statusCode int) FailureKind {
	if statusCode >= 200 && statusCode < 300 {
		return FailureNone
	}
	return FailureStatus
}

// StatusError reports a reachable remote that answered with a non-2xx status.
type StatusError struct {
	StatusCode  int
	BodyPreview string
}

func (e *StatusError) Error() string {
	if e.BodyPreview == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.BodyPreview)
}

// SafeStringPreview safely converts bytes to string, handling non-UTF-8 data.
// Returns a preview of the data with invalid UTF-8 sequences escaped.
func SafeStringPreview(data []byte, maxLen int) string {
	if len(data) == 0 {
		return ""
	}

	if len(data) > maxLen {
		data = data[:maxLen]
	}

	// %q escapes invalid UTF-8 sequences; strip the surrounding quotes.
	escaped := fmt.Sprintf("%q", data)
	if len(escaped) > 2 {
		return escaped[1 : len(escaped)-1]
	}
	return escaped
}

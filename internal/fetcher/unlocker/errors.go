package unlocker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Classified upstream error codes.
const (
	CodeAuth      = "AUTH"
	CodeRateLimit = "RATE_LIMIT"
	CodeUpstream  = "UPSTREAM"
	CodeTimeout   = "TIMEOUT"
	CodeNetwork   = "NETWORK"
	CodeUnknown   = "UNKNOWN"
)

// UpstreamError is a classified failure from the scraping API. Retryable
// reflects the classification, not whether retries remain; after the retry
// budget is exhausted the error is surfaced with Retryable forced false.
type UpstreamError struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
	Attempts  int
}

// HTTPStatus reports the upstream HTTP status, zero for transport failures.
func (e *UpstreamError) HTTPStatus() int { return e.Status }

// ErrorCode reports the classification code.
func (e *UpstreamError) ErrorCode() string { return e.Code }

// AttemptCount reports how many physical calls were made.
func (e *UpstreamError) AttemptCount() int { return e.Attempts }

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream %s (status %d, %d attempts): %s", e.Code, e.Status, e.Attempts, e.Message)
	}
	return fmt.Sprintf("upstream %s (%d attempts): %s", e.Code, e.Attempts, e.Message)
}

// classifyStatus maps an HTTP response code to an UpstreamError. Only 429,
// 503 and 504 are retryable; every other non-2xx code is terminal.
func classifyStatus(status int) *UpstreamError {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &UpstreamError{Status: status, Code: CodeAuth, Message: "authentication rejected", Retryable: false}
	case status == http.StatusTooManyRequests:
		return &UpstreamError{Status: status, Code: CodeRateLimit, Message: "rate limited", Retryable: true}
	case status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return &UpstreamError{Status: status, Code: CodeUpstream, Message: "upstream unavailable", Retryable: true}
	default:
		return &UpstreamError{Status: status, Code: CodeUnknown, Message: fmt.Sprintf("unexpected status %d", status), Retryable: false}
	}
}

// classifyTransport maps a transport-level error. Deadline expiry is TIMEOUT,
// everything else NETWORK; both are retryable.
func classifyTransport(err error) *UpstreamError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &UpstreamError{Code: CodeTimeout, Message: "request timed out", Retryable: true}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &UpstreamError{Code: CodeTimeout, Message: "request timed out", Retryable: true}
	default:
		return &UpstreamError{Code: CodeNetwork, Message: err.Error(), Retryable: true}
	}
}

package polymarket

import (
	"fmt"
	"net/http"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

// APIError is a non-2xx response from a Polymarket REST API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated: server
// errors and rate limiting are transient, every other status is final.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Unwrap maps well-known statuses onto domain sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	default:
		return nil
	}
}

// RejectedError is an order the CLOB accepted over HTTP but refused to place.
type RejectedError struct {
	Message     string
	ShouldRetry bool
}

func (e *RejectedError) Error() string {
	return "order rejected: " + e.Message
}

func (e *RejectedError) Retryable() bool { return e.ShouldRetry }

// checkHTTPStatus returns an *APIError for non-2xx statuses.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &APIError{StatusCode: statusCode, Body: string(body)}
}

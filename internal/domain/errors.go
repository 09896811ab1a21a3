package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")

	// Scan cycle outcomes.
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrGatewayRejected    = errors.New("gateway rejected request")
	ErrExposureExceeded   = errors.New("exposure exceeded")
	ErrDuplicatePosition  = errors.New("duplicate position")
	ErrSubmissionFailed   = errors.New("order submission failed")
	ErrConfigInvalid      = errors.New("config invalid")
)

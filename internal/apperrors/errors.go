// Package apperrors holds the sentinel errors shared across the call
// pipeline and the policy that maps a failed step to a webhook response.
package apperrors

import "errors"

// Infrastructure failures. Storage and transport errors are wrapped with one
// of these so callers can branch with errors.Is.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrValidation = errors.New("validation failed")
	ErrDatabase   = errors.New("database error")
	ErrNATS       = errors.New("nats communication error")
	ErrDuplicate  = errors.New("duplicate resource")
	ErrBadRequest = errors.New("bad request")
	ErrTimeout    = errors.New("operation timeout")
)

// Pipeline outcomes.
var (
	// ErrMalformed is a webhook body that is not a JSON object.
	ErrMalformed = errors.New("malformed payload")
	// ErrTenantNotFound means no agent owns the assistant or phone number.
	ErrTenantNotFound = errors.New("tenant not found")
	ErrWorkspaceInactive = errors.New("workspace inactive")
	// ErrLeaseRejected is an admission denial, not a failure.
	ErrLeaseRejected = errors.New("lease rejected")
	// ErrLeaseInternal means the lease store failed while deciding.
	ErrLeaseInternal = errors.New("lease internal error")
	ErrToolCall      = errors.New("tool call failed")
)

// IsNotFoundError checks if the error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDatabaseError checks if the error is or wraps ErrDatabase.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsBadRequestError checks if the error is or wraps ErrBadRequest.
func IsBadRequestError(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

// IsTimeoutError checks if the error is or wraps ErrTimeout.
func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func IsTenantNotFoundError(err error) bool {
	return errors.Is(err, ErrTenantNotFound)
}

func IsWorkspaceInactiveError(err error) bool {
	return errors.Is(err, ErrWorkspaceInactive)
}

package domain

import "errors"

// Domain errors
var (
	ErrEmptyPayload    = errors.New("no data received")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidImage    = errors.New("invalid image payload")
	ErrInternalError   = errors.New("internal server error")
	ErrInvalidUsername = errors.New("username must be at most 64 characters")
)

// IsClientError reports whether err was caused by the caller's payload
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyPayload) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidUsername)
}

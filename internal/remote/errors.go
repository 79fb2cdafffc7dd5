package remote

import (
	"errors"
	"fmt"
)

// Code classifies a record-store failure. Network unavailability, service
// unavailability and rate limiting are transient and retried; everything
// else is terminal and surfaced immediately.
type Code string

const (
	// CodeNetworkUnavailable means the device has no connectivity.
	CodeNetworkUnavailable Code = "NetworkUnavailable"

	// CodeServiceUnavailable means the backend is temporarily down.
	CodeServiceUnavailable Code = "ServiceUnavailable"

	// CodeRateLimited means the backend asked us to slow down.
	CodeRateLimited Code = "RateLimited"

	// CodeConflict means the server copy changed under us, including the
	// concurrent-zone-creation race.
	CodeConflict Code = "Conflict"

	// CodePermissionDenied means the account may not touch the target.
	CodePermissionDenied Code = "PermissionDenied"

	// CodeUnknownItem means the record, share or account does not exist.
	CodeUnknownItem Code = "UnknownItem"

	// CodeZoneNotFound means the target zone does not exist.
	CodeZoneNotFound Code = "ZoneNotFound"

	// CodeInvalidRequest means the request was malformed.
	CodeInvalidRequest Code = "InvalidRequest"
)

// Error is a classified record-store failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// NewError creates a classified error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error.
func WrapError(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the classification of err, or "" when err carries none.
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeNetworkUnavailable, CodeServiceUnavailable, CodeRateLimited:
		return true
	default:
		return false
	}
}

// IsUnknownItem reports whether err means the target does not exist.
func IsUnknownItem(err error) bool {
	return CodeOf(err) == CodeUnknownItem
}

// IsConflict reports whether err is a server-copy conflict.
func IsConflict(err error) bool {
	return CodeOf(err) == CodeConflict
}

package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy shared by store, ledger, uploader and client engine.
// Callers match with errors.Is; concrete causes are wrapped with %w.
var (
	// ErrValidation empty message, oversized attachment, malformed input. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrAuthorization actor is not allowed to act on the scope. Never retried.
	ErrAuthorization = errors.New("not authorized")
	// ErrConflict duplicate or out-of-order submission detected
	ErrConflict = errors.New("conflict")
	// ErrNotFound reply target, scope or reacted message missing
	ErrNotFound = errors.New("not found")
	// ErrTransient network or timeout failure, retryable by explicit user action
	ErrTransient = errors.New("temporary failure")
	// ErrUnavailable dependent service down
	ErrUnavailable = errors.New("service unavailable")
)

// UploadError reports an attachment failure separately from a send failure,
// so the user knows whether text, media or both must be resent.
type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %q failed: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// IsUploadError reports whether err carries an UploadError
func IsUploadError(err error) bool {
	var ue *UploadError
	return errors.As(err, &ue)
}

// Validationf builds a validation error with a detail message
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Retryable reports whether an explicit retry can succeed
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrAuthorization) || errors.Is(err, ErrNotFound) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrUnavailable) || IsUploadError(err)
}

// FromContext maps context cancellation/deadline into the transient class
func FromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// StatusFor maps an error onto an HTTP status code
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case IsUploadError(err):
		return http.StatusBadGateway
	case errors.Is(err, ErrTransient), errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorFromStatus is the client-side inverse of StatusFor
func ErrorFromStatus(status int, code, message string) error {
	var base error
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		base = ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		base = ErrAuthorization
	case http.StatusNotFound:
		base = ErrNotFound
	case http.StatusConflict:
		base = ErrConflict
	case http.StatusServiceUnavailable:
		if code == "UNAVAILABLE" {
			base = ErrUnavailable
		} else {
			base = ErrTransient
		}
	case http.StatusTooManyRequests, http.StatusGatewayTimeout, http.StatusRequestTimeout:
		base = ErrTransient
	case http.StatusBadGateway:
		return &UploadError{Err: fmt.Errorf("%w: %s", ErrUnavailable, message)}
	default:
		base = ErrUnavailable
	}
	if message == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, message)
}

// errorCode is the machine readable code carried in error envelopes
func errorCode(err error, status int) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrAuthorization):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case IsUploadError(err):
		return "UPLOAD_FAILED"
	case errors.Is(err, ErrTransient):
		return "TEMPORARY"
	case errors.Is(err, ErrUnavailable):
		return "UNAVAILABLE"
	}
	return getErrorCode(status)
}

package model

import "errors"

var (
	// ErrNotFound is returned for unknown image ids and missing blobs.
	ErrNotFound = errors.New("not found")

	// ErrDispatchFailed is returned when a processing request could not be
	// published. Nothing has been written, the caller may retry.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrTransformFailed marks a corrupt source image or an unsupported
	// operation during worker processing.
	ErrTransformFailed = errors.New("transform failed")

	// ErrStoreUnavailable marks a failed object or document store call.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStaleWrite is returned when a status update carries a version older
	// than the one already stored.
	ErrStaleWrite = errors.New("stale write")

	// ErrMalformedMessage marks a broker message that can never be handled.
	ErrMalformedMessage = errors.New("malformed message")
)

// ValidationError is returned for bad input. It is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

package delivery

import (
	"errors"
	"fmt"
)

// ErrSweepInProgress is returned when a sweep is requested while another is running.
var ErrSweepInProgress = errors.New("herald: sweep already in progress")

// Class is the failure taxonomy for a delivery attempt.
type Class string

const (
	// ClassConfiguration marks a malformed subscription. Not retried.
	ClassConfiguration Class = "configuration"

	// ClassNetwork marks a connection-level failure.
	ClassNetwork Class = "network"

	// ClassTimeout marks a call that exceeded the subscription's timeout.
	ClassTimeout Class = "timeout"

	// ClassHTTP marks a non-2xx response.
	ClassHTTP Class = "http"

	// ClassSignature marks a payload that could not be signed. Not retried.
	ClassSignature Class = "signature"
)

// Retryable reports whether failures of this class may be retried.
func (c Class) Retryable() bool {
	switch c {
	case ClassNetwork, ClassTimeout, ClassHTTP:
		return true
	}
	return false
}

// Error describes why one delivery attempt failed.
type Error struct {
	Class      Class
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Class == ClassHTTP {
		return fmt.Sprintf("%s: receiver responded %d", e.Class, e.StatusCode)
	}
	if e.Err == nil {
		return string(e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ClassOf returns the class of err, or "" when err is not a delivery error.
func ClassOf(err error) Class {
	var de *Error
	if errors.As(err, &de) {
		return de.Class
	}
	return ""
}

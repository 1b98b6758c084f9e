package analysis

import (
	"errors"
	"fmt"

	"github.com/segsight/segsight/internal/models"
)

// ErrorKind classifies analysis failures for retry decisions.
type ErrorKind string

const (
	// KindSegmentMissing indicates the segment file does not exist or is
	// unreadable. Permanent: the file will not reappear.
	KindSegmentMissing ErrorKind = "segment_missing"
	// KindFrameDecode indicates no frame could be decoded from the segment.
	// Permanent: the bytes will not change.
	KindFrameDecode ErrorKind = "frame_decode_failed"
	// KindUnconfigured indicates no active provider claims the capability.
	// Permanent until an operator changes configuration.
	KindUnconfigured ErrorKind = "unconfigured_capability"
	// KindAdapterTransient indicates a retryable adapter failure (model
	// still loading, busy subprocess).
	KindAdapterTransient ErrorKind = "adapter_transient"
	// KindRemoteTimeout indicates the remote worker did not answer in time.
	KindRemoteTimeout ErrorKind = "remote_timeout"
	// KindRemoteUnreachable indicates the remote worker could not be reached.
	KindRemoteUnreachable ErrorKind = "remote_unreachable"
	// KindInvalidResponse indicates the backend answered with a payload that
	// could not be interpreted. Retryable: often a transient backend hiccup.
	KindInvalidResponse ErrorKind = "invalid_response"
)

// Error is a classified analysis failure.
type Error struct {
	Kind       ErrorKind
	Capability models.Capability
	Err        error
}

// NewError wraps err with a kind and the capability it failed.
func NewError(kind ErrorKind, capability models.Capability, err error) *Error {
	return &Error{Kind: kind, Capability: capability, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Capability, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Capability, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying can help.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindAdapterTransient, KindRemoteTimeout, KindRemoteUnreachable, KindInvalidResponse:
		return true
	}
	return false
}

// IsTransient reports whether err is a transient analysis failure. Unknown
// errors count as transient so an unexpected hiccup gets its retries before
// the queue gives up on the event.
func IsTransient(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Transient()
	}
	return true
}

// KindOf extracts the error kind, or empty for unclassified errors.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

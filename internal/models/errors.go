package models

import "errors"

// Validation and invariant errors surfaced by models and repositories.
var (
	// ErrStreamNameRequired indicates a stream was created without a name.
	ErrStreamNameRequired = errors.New("stream name is required")
	// ErrStreamKeyRequired indicates a stream was created without a stream key.
	ErrStreamKeyRequired = errors.New("stream key is required")
	// ErrStreamAlreadyActive indicates a second stream activation was attempted
	// while another stream is active. At most one stream may be active.
	ErrStreamAlreadyActive = errors.New("another stream is already active")
	// ErrProviderNameRequired indicates a provider was created without a name.
	ErrProviderNameRequired = errors.New("provider name is required")
	// ErrCapabilityClaimed indicates activating a provider would leave two
	// active providers claiming the same capability.
	ErrCapabilityClaimed = errors.New("capability already claimed by an active provider")
	// ErrBrandNameRequired indicates a brand was created without a name.
	ErrBrandNameRequired = errors.New("brand name is required")
	// ErrDuplicateSegmentAnalysis indicates an analysis already exists for the
	// (stream_key, segment_path, capability) triple. Callers treat this as
	// success: the replayed event has nothing left to do.
	ErrDuplicateSegmentAnalysis = errors.New("analysis already exists for this segment and capability")
	// ErrLeaseNotFound indicates an ack/nack referenced an unknown or already
	// settled lease token.
	ErrLeaseNotFound = errors.New("lease token not found")
)

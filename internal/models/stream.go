package models

import "gorm.io/gorm"

// StreamStatus represents the lifecycle state of a stream.
type StreamStatus string

const (
	// StreamStatusInactive indicates the stream is declared but not running.
	StreamStatusInactive StreamStatus = "inactive"
	// StreamStatusStarting indicates the segmenter is being brought up.
	StreamStatusStarting StreamStatus = "starting"
	// StreamStatusActive indicates segments are being produced.
	StreamStatusActive StreamStatus = "active"
	// StreamStatusStopping indicates the segmenter is shutting down.
	StreamStatusStopping StreamStatus = "stopping"
	// StreamStatusError indicates the stream failed.
	StreamStatusError StreamStatus = "error"
)

// SourceType represents where a stream's media comes from.
type SourceType string

const (
	// SourceTypeRTMP is a push-protocol ingest endpoint.
	SourceTypeRTMP SourceType = "rtmp"
	// SourceTypeFile is an uploaded file.
	SourceTypeFile SourceType = "file"
	// SourceTypeWebcam is a local capture device.
	SourceTypeWebcam SourceType = "webcam"
)

// Stream represents a declared live stream. The StreamKey doubles as the URL
// path component and the filename prefix of the stream's segments.
type Stream struct {
	BaseModel

	Name string `gorm:"not null;size:200" json:"name"`

	// StreamKey is the opaque, globally unique stream identifier.
	StreamKey string `gorm:"not null;uniqueIndex;size:64" json:"stream_key"`

	SourceType SourceType `gorm:"not null;default:'rtmp';size:20" json:"source_type"`

	// SourceURL is set for rtmp sources; SourcePath for file sources.
	SourceURL  string `gorm:"size:500" json:"source_url,omitempty"`
	SourcePath string `gorm:"size:500" json:"source_path,omitempty"`

	Status StreamStatus `gorm:"not null;default:'inactive';size:20;index" json:"status"`

	// SessionID is an opaque per-activation token. It is minted when the
	// stream transitions to active and carried on every event and analysis
	// produced during that activation.
	SessionID string `gorm:"size:64;index" json:"session_id,omitempty"`
}

// TableName returns the table name for Stream.
func (Stream) TableName() string {
	return "streams"
}

// IsActive returns true while segments are being produced.
func (s *Stream) IsActive() bool {
	return s.Status == StreamStatusActive
}

// Validate performs basic validation on the stream.
func (s *Stream) Validate() error {
	if s.Name == "" {
		return ErrStreamNameRequired
	}
	if s.StreamKey == "" {
		return ErrStreamKeyRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the stream and generates its ULID.
func (s *Stream) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the stream before update.
func (s *Stream) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// QueueState represents the durable processing state of a segment event.
type QueueState string

const (
	// QueueStatePending indicates the event is waiting for a lease.
	QueueStatePending QueueState = "pending"
	// QueueStateLeased indicates a worker holds an un-expired lease.
	QueueStateLeased QueueState = "leased"
	// QueueStateDone indicates processing finished successfully.
	QueueStateDone QueueState = "done"
	// QueueStateFailed is terminal: the event exhausted its retries or hit a
	// non-retryable failure. It is never retried automatically.
	QueueStateFailed QueueState = "failed"
)

// DefaultMaxAttempts is the retry budget for transient failures.
const DefaultMaxAttempts = 3

// maxBackoff caps the exponential retry delay.
const maxBackoff = 60 * time.Second

// QueueItem is a durable segment-ready event. Items are ordered per stream
// by EnqueuedAt; cross-stream ordering is not preserved. Duplicate delivery
// is possible by design and absorbed downstream by the analysis uniqueness
// constraint.
type QueueItem struct {
	BaseModel

	StreamKey   string `gorm:"not null;size:64;index" json:"stream_key"`
	SegmentPath string `gorm:"not null;size:500" json:"segment_path"`
	SessionID   string `gorm:"size:64" json:"session_id,omitempty"`

	// SourceTag names the event source that emitted this event.
	SourceTag string `gorm:"size:50" json:"source_tag"`

	// EventType is currently always new_segment.
	EventType string `gorm:"not null;default:'new_segment';size:30" json:"event_type"`

	// QueueName is the capability sub-queue this item belongs to.
	QueueName string `gorm:"not null;size:50;index" json:"queue_name"`

	// Capabilities requested for this segment.
	Capabilities CapabilityList `gorm:"type:text;serializer:json" json:"capabilities"`

	State QueueState `gorm:"not null;default:'pending';size:20;index" json:"state"`

	EnqueuedAt Time `gorm:"not null;index" json:"enqueued_at"`

	// NotBefore delays availability of a nacked item.
	NotBefore *Time `gorm:"index" json:"not_before,omitempty"`

	Attempts    int `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int `gorm:"not null;default:3" json:"max_attempts"`

	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// LeaseToken identifies the outstanding lease; empty when not leased.
	LeaseToken     string `gorm:"size:26;index" json:"-"`
	LeaseExpiresAt *Time  `gorm:"index" json:"lease_expires_at,omitempty"`
}

// TableName returns the table name for QueueItem.
func (QueueItem) TableName() string {
	return "queue_items"
}

// IsTerminal reports whether the item reached done or failed.
func (q *QueueItem) IsTerminal() bool {
	return q.State == QueueStateDone || q.State == QueueStateFailed
}

// CanRetry reports whether the item has retry budget left.
func (q *QueueItem) CanRetry() bool {
	return q.Attempts < q.MaxAttempts
}

// MarkLeased claims the item for a worker.
func (q *QueueItem) MarkLeased(token string, ttl time.Duration) {
	q.State = QueueStateLeased
	q.LeaseToken = token
	expires := Now().Add(ttl)
	q.LeaseExpiresAt = &expires
	q.Attempts++
}

// MarkDone settles the item successfully.
func (q *QueueItem) MarkDone() {
	q.State = QueueStateDone
	q.LeaseToken = ""
	q.LeaseExpiresAt = nil
	q.LastError = ""
}

// MarkFailed settles the item terminally with the failure recorded.
func (q *QueueItem) MarkFailed(errMsg string) {
	q.State = QueueStateFailed
	q.LeaseToken = ""
	q.LeaseExpiresAt = nil
	q.LastError = errMsg
}

// ScheduleRetry returns the item to pending, delayed by retryAfter.
// If retryAfter is zero the exponential backoff 2^attempts seconds
// (capped at 60s) is applied.
func (q *QueueItem) ScheduleRetry(retryAfter time.Duration, errMsg string) {
	if retryAfter <= 0 {
		retryAfter = q.Backoff()
	}
	notBefore := Now().Add(retryAfter)
	q.State = QueueStatePending
	q.NotBefore = &notBefore
	q.LeaseToken = ""
	q.LeaseExpiresAt = nil
	q.LastError = errMsg
}

// Backoff computes the exponential retry delay for the current attempt count.
func (q *QueueItem) Backoff() time.Duration {
	attempts := q.Attempts
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 6 {
		attempts = 6
	}
	d := time.Duration(1<<attempts) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// BeforeCreate is a GORM hook that stamps EnqueuedAt and generates the ULID.
func (q *QueueItem) BeforeCreate(tx *gorm.DB) error {
	if err := q.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if q.EnqueuedAt.IsZero() {
		q.EnqueuedAt = Now()
	}
	if q.MaxAttempts == 0 {
		q.MaxAttempts = DefaultMaxAttempts
	}
	return nil
}

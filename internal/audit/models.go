package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - studio_id is required for tenancy isolation.
// - actor capture is best-effort; do not block clinical flows on audit failures.
type Event struct {
	ID       string `json:"id" db:"id"`
	StudioID string `json:"studio_id" db:"studio_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event (empty for pipeline runs).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	RecordingID string `json:"recording_id,omitempty" db:"recording_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details. It never carries clinical content.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventRecordingCreated       EventType = "recording.created"
	EventRecordingUpdated       EventType = "recording.updated"
	EventRecordingDeleted       EventType = "recording.deleted"
	EventRecordingProcessed     EventType = "recording.processed"
	EventRecordingProcessFailed EventType = "recording.process_failed"
	EventAudioCleanupFailed     EventType = "recording.audio_cleanup_failed"
)

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"medical-ai-platform/internal/auth"
	"medical-ai-platform/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to studio users by default.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.StudioID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// Record appends a recording lifecycle event, taking the actor from ctx.
// Failures are logged and swallowed.
func (s *Service) Record(ctx context.Context, studioID, recordingID string, typ EventType, message string, metadata map[string]any) {
	if s == nil {
		return
	}
	e := Event{
		StudioID:    studioID,
		Type:        typ,
		RecordingID: recordingID,
		Message:     message,
	}
	e.ActorUserID, _ = auth.UserID(ctx)
	e.ActorRole, _ = auth.Role(ctx)
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			e.Metadata = string(b)
		}
	}
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", string(typ), "recording_id", recordingID, "err", err)
	}
}

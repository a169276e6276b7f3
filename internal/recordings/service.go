package recordings

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"medical-ai-platform/internal/audiostore"
	"medical-ai-platform/internal/audit"
	"medical-ai-platform/internal/referto"
	"medical-ai-platform/pkg/logger"

	"github.com/google/uuid"
)

// Auditor receives lifecycle events. *audit.Service satisfies it.
type Auditor interface {
	Record(ctx context.Context, studioID, recordingID string, typ audit.EventType, message string, metadata map[string]any)
}

// Service owns recording CRUD: audio persistence, validation of clinician
// edits and soft deletion. AI processing lives in the pipeline package.
type Service struct {
	repo  Repository
	audio audiostore.Store
	audit Auditor
	clock func() time.Time
	newID func() string
}

func NewService(repo Repository, audio audiostore.Store, auditor Auditor) *Service {
	return &Service{
		repo:  repo,
		audio: audio,
		audit: auditor,
		clock: time.Now,
		newID: uuid.NewString,
	}
}

// CreateRequest is the metadata accompanying an uploaded recording.
type CreateRequest struct {
	StudioID        string `json:"studio_id"`
	PatientID       string `json:"patient_id"`
	UserID          string `json:"user_id"`
	DurationSeconds int    `json:"duration"`
	VisitType       string `json:"visit_type"`
	DoctorName      string `json:"doctor_name"`
}

// DecodeAudioPayload accepts plain base64 or a data URL
// ("data:audio/webm;base64,...") and returns the raw bytes.
func DecodeAudioPayload(payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.HasSuffix(s[:i], ";base64") {
			return nil, invalid("audio_data", "unsupported data URL")
		}
		s = s[i+1:]
	}
	if s == "" {
		return nil, invalid("audio_data", "required")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, invalid("audio_data", "not valid base64")
	}
	return b, nil
}

// Create stores the audio and inserts a pending recording. When the insert
// fails the stored audio is removed again.
func (s *Service) Create(ctx context.Context, req CreateRequest, audio []byte) (Recording, error) {
	req.StudioID = strings.TrimSpace(req.StudioID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.StudioID == "" {
		return Recording{}, invalid("studio_id", "required")
	}
	if req.PatientID == "" {
		return Recording{}, invalid("patient_id", "required")
	}
	if req.DurationSeconds < 0 {
		return Recording{}, invalid("duration", "must not be negative")
	}
	vt, ok := ParseVisitType(req.VisitType)
	if !ok {
		return Recording{}, invalid("visit_type", "unknown visit type")
	}
	if len(audio) == 0 {
		return Recording{}, invalid("audio_data", "required")
	}

	now := s.clock().UTC()
	id := s.newID()
	name := fmt.Sprintf("recording_%s_%d.webm", id, now.UnixMilli())
	ref, err := s.audio.Save(ctx, name, bytes.NewReader(audio))
	if err != nil {
		return Recording{}, fmt.Errorf("recordings: save audio: %w", err)
	}

	rec := Recording{
		ID:               id,
		StudioID:         req.StudioID,
		PatientID:        req.PatientID,
		UserID:           req.UserID,
		DurationSeconds:  req.DurationSeconds,
		VisitType:        vt,
		DoctorName:       strings.TrimSpace(req.DoctorName),
		AudioURL:         ref,
		ProcessingStatus: ProcessingPending,
		Status:           RecordActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if derr := s.audio.Delete(ctx, ref); derr != nil {
			logger.From(ctx).Warn("orphan audio cleanup failed", "audio_url", ref, "err", derr)
		}
		return Recording{}, err
	}

	s.record(ctx, rec, audit.EventRecordingCreated, "recording created", map[string]any{
		"visit_type": string(vt),
		"duration":   rec.DurationSeconds,
		"bytes":      len(audio),
	})
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id string) (Recording, error) {
	if strings.TrimSpace(id) == "" {
		return Recording{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Recording, error) {
	if strings.TrimSpace(f.StudioID) == "" {
		return nil, invalid("studio_id", "required")
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, invalid("from", "must be before to")
	}
	return s.repo.List(ctx, f)
}

// Update applies clinician edits. Report and chart payloads are decoded and
// normalized before they are stored, so edited data keeps the canonical shape.
func (s *Service) Update(ctx context.Context, studioID, id string, p Patch) (Recording, error) {
	if strings.TrimSpace(studioID) == "" {
		return Recording{}, invalid("studio_id", "required")
	}
	if p.Empty() {
		return Recording{}, invalid("body", "no editable field provided")
	}

	clearsTranscript := p.Transcript != nil && strings.TrimSpace(*p.Transcript) == ""
	if p.RefertoData != nil || p.OdontogrammaData != nil || clearsTranscript {
		cur, err := s.repo.Get(ctx, id)
		if err != nil {
			return Recording{}, err
		}
		if cur.StudioID != studioID {
			return Recording{}, ErrNotFound
		}
		// a completed recording always keeps its transcript
		if clearsTranscript && cur.ProcessingStatus == ProcessingCompleted {
			return Recording{}, invalid("transcript", "cannot be empty on a completed recording")
		}
		doctor := cur.DoctorName
		if p.DoctorName != nil {
			doctor = *p.DoctorName
		}
		if p.RefertoData != nil {
			raw, err := normalizeReport(*p.RefertoData, referto.Header{
				Date:      cur.CreatedAt.Format("02/01/2006"),
				Clinician: doctor,
			})
			if err != nil {
				return Recording{}, err
			}
			p.RefertoData = &raw
		}
		if p.OdontogrammaData != nil {
			raw, err := normalizeChart(*p.OdontogrammaData)
			if err != nil {
				return Recording{}, err
			}
			p.OdontogrammaData = &raw
		}
	}

	rec, err := s.repo.Update(ctx, studioID, id, p)
	if err != nil {
		return Recording{}, err
	}
	s.record(ctx, rec, audit.EventRecordingUpdated, "recording edited", map[string]any{"fields": p.fields()})
	return rec, nil
}

// Delete soft-deletes the recording, then removes its audio. A failed audio
// removal does not fail the delete.
func (s *Service) Delete(ctx context.Context, studioID, id string) error {
	if strings.TrimSpace(studioID) == "" {
		return invalid("studio_id", "required")
	}
	rec, err := s.repo.SoftDelete(ctx, studioID, id)
	if err != nil {
		return err
	}
	s.record(ctx, rec, audit.EventRecordingDeleted, "recording deleted", nil)

	if rec.AudioURL == "" {
		return nil
	}
	if err := s.audio.Delete(ctx, rec.AudioURL); err != nil && !errors.Is(err, audiostore.ErrNotFound) {
		logger.From(ctx).Warn("audio cleanup failed", "recording_id", rec.ID, "audio_url", rec.AudioURL, "err", err)
		s.record(ctx, rec, audit.EventAudioCleanupFailed, err.Error(), map[string]any{"audio_url": rec.AudioURL})
	}
	return nil
}

func (s *Service) record(ctx context.Context, rec Recording, typ audit.EventType, msg string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, rec.StudioID, rec.ID, typ, msg, meta)
}

func normalizeReport(raw json.RawMessage, defaults referto.Header) (json.RawMessage, error) {
	r, err := referto.Decode(raw)
	if err != nil {
		return nil, invalid("referto_data", err.Error())
	}
	referto.Normalize(&r, defaults)
	return json.Marshal(r)
}

func normalizeChart(raw json.RawMessage) (json.RawMessage, error) {
	c, err := referto.DecodeChart(raw)
	if err != nil {
		return nil, invalid("odontogramma_data", err.Error())
	}
	return json.Marshal(c)
}

func (p Patch) fields() []string {
	var out []string
	if p.DoctorName != nil {
		out = append(out, "doctor_name")
	}
	if p.Transcript != nil {
		out = append(out, "transcript")
	}
	if p.RefertoData != nil {
		out = append(out, "referto_data")
	}
	if p.OdontogrammaData != nil {
		out = append(out, "odontogramma_data")
	}
	return out
}

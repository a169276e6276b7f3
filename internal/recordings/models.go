package recordings

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Recording is one captured consultation and its AI outputs.
//
// Invariants:
//   - studio_id and patient_id are required and immutable.
//   - processing_status moves pending -> processing -> completed; it only goes
//     back through an explicit re-trigger or a released failed run.
//   - A completed recording carries transcript, report and chart.
//   - status=deleted is a soft delete; such rows are invisible to every read.
type Recording struct {
	ID               string           `json:"id"`
	StudioID         string           `json:"studio_id"`
	PatientID        string           `json:"patient_id"`
	UserID           string           `json:"user_id,omitempty"`
	DurationSeconds  int              `json:"duration"`
	VisitType        VisitType        `json:"visit_type"`
	DoctorName       string           `json:"doctor_name"`
	AudioURL         string           `json:"audio_url"`
	Transcript       string           `json:"transcript,omitempty"`
	RefertoData      json.RawMessage  `json:"referto_data,omitempty"`
	OdontogrammaData json.RawMessage  `json:"odontogramma_data,omitempty"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ProcessingError  string           `json:"processing_error,omitempty"`
	Status           RecordStatus     `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// RecordStatus is the lifecycle of the row itself, independent of AI processing.
type RecordStatus string

const (
	RecordActive  RecordStatus = "completed"
	RecordDeleted RecordStatus = "deleted"
)

// Outputs is what a successful pipeline run persists in one atomic update.
type Outputs struct {
	Transcript string
	Report     json.RawMessage
	Chart      json.RawMessage
}

// Patch carries the clinician-editable fields; nil means unchanged.
type Patch struct {
	DoctorName       *string          `json:"doctor_name"`
	Transcript       *string          `json:"transcript"`
	RefertoData      *json.RawMessage `json:"referto_data"`
	OdontogrammaData *json.RawMessage `json:"odontogramma_data"`
}

func (p Patch) Empty() bool {
	return p.DoctorName == nil && p.Transcript == nil && p.RefertoData == nil && p.OdontogrammaData == nil
}

// ListFilter scopes a listing to one studio, optionally to one patient and time window.
type ListFilter struct {
	StudioID  string
	PatientID string
	From      time.Time
	To        time.Time
	Limit     uint64
}

var (
	ErrNotFound          = errors.New("recordings: not found")
	ErrAlreadyProcessing = errors.New("recordings: already processing")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

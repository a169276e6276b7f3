package reporting

import (
	"time"

	"medical-ai-platform/internal/recordings"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SummaryRequest asks for activity totals of one studio.
// Studio isolation: StudioID is required.
type SummaryRequest struct {
	StudioID string    `json:"studio_id"`
	Range    TimeRange `json:"range"`
}

// Row is one (visit type, processing status) bucket as stored.
type Row struct {
	VisitType       recordings.VisitType
	Status          recordings.ProcessingStatus
	Count           int
	DurationSeconds int
}

type Summary struct {
	StudioID string    `json:"studio_id"`
	Range    TimeRange `json:"range"`

	TotalRecordings int `json:"total_recordings"`
	Pending         int `json:"pending"`
	Processing      int `json:"processing"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// CompletionRate is completed / total, 0 when there are no recordings.
	CompletionRate float64 `json:"completion_rate"`

	ByVisitType []VisitTypeCount `json:"by_visit_type"`
}

type VisitTypeCount struct {
	VisitType   recordings.VisitType `json:"visit_type"`
	DisplayName string               `json:"display_name"`
	Count       int                  `json:"count"`
	Completed   int                  `json:"completed"`
}

// Package reporting aggregates per-studio recording activity.
package reporting

import (
	"context"
	"errors"
	"time"

	"medical-ai-platform/internal/recordings"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Implementations must filter by studio and exclude soft-deleted rows.
// - Range is half-open: From inclusive, To exclusive.
type Repository interface {
	SummaryRows(ctx context.Context, studioID string, from, to time.Time) ([]Row, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) StudioSummary(ctx context.Context, req SummaryRequest) (Summary, error) {
	if req.StudioID == "" {
		return Summary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return Summary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Summary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.SummaryRows(ctx, req.StudioID, req.Range.From, req.Range.To)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{StudioID: req.StudioID, Range: req.Range}
	byType := map[recordings.VisitType]*VisitTypeCount{}
	for _, r := range rows {
		out.TotalRecordings += r.Count
		out.TotalDurationSeconds += r.DurationSeconds
		switch r.Status {
		case recordings.ProcessingPending:
			out.Pending += r.Count
		case recordings.ProcessingProcessing:
			out.Processing += r.Count
		case recordings.ProcessingCompleted:
			out.Completed += r.Count
		case recordings.ProcessingFailed:
			out.Failed += r.Count
		}

		vc, ok := byType[r.VisitType]
		if !ok {
			vc = &VisitTypeCount{VisitType: r.VisitType, DisplayName: r.VisitType.DisplayName()}
			byType[r.VisitType] = vc
		}
		vc.Count += r.Count
		if r.Status == recordings.ProcessingCompleted {
			vc.Completed += r.Count
		}
	}

	// menu order first, then anything unknown that is still stored
	out.ByVisitType = make([]VisitTypeCount, 0, len(byType))
	for _, vt := range recordings.VisitTypes() {
		if vc, ok := byType[vt]; ok {
			out.ByVisitType = append(out.ByVisitType, *vc)
			delete(byType, vt)
		}
	}
	for _, vc := range byType {
		out.ByVisitType = append(out.ByVisitType, *vc)
	}

	if out.TotalRecordings > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalRecordings
		out.CompletionRate = float64(out.Completed) / float64(out.TotalRecordings)
	}
	return out, nil
}

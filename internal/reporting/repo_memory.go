package reporting

import (
	"context"
	"errors"
	"time"

	"medical-ai-platform/internal/recordings"
)

// Lister is the read side of a recordings repository.
type Lister interface {
	List(ctx context.Context, f recordings.ListFilter) ([]recordings.Recording, error)
}

// MemoryRepo aggregates in process over any recordings lister. It backs
// tests and local runs that use recordings.MemoryRepo.
type MemoryRepo struct {
	src Lister
}

func NewMemoryRepo(src Lister) *MemoryRepo { return &MemoryRepo{src: src} }

func (r *MemoryRepo) SummaryRows(ctx context.Context, studioID string, from, to time.Time) ([]Row, error) {
	if studioID == "" {
		return nil, errors.New("studio_id required")
	}
	recs, err := r.src.List(ctx, recordings.ListFilter{StudioID: studioID, From: from, To: to})
	if err != nil {
		return nil, err
	}
	type key struct {
		vt recordings.VisitType
		st recordings.ProcessingStatus
	}
	idx := map[key]int{}
	out := make([]Row, 0)
	for _, rec := range recs {
		k := key{rec.VisitType, rec.ProcessingStatus}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, Row{VisitType: rec.VisitType, Status: rec.ProcessingStatus})
		}
		out[i].Count++
		out[i].DurationSeconds += rec.DurationSeconds
	}
	return out, nil
}

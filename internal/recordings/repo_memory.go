package recordings

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository useful for tests and local runs.
// It is not intended for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	rows  map[string]Recording
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: map[string]Recording{}, clock: time.Now}
}

func (r *MemoryRepo) Create(ctx context.Context, rec Recording) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[rec.ID] = rec
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.Status == RecordDeleted {
		return Recording{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recording, 0)
	for _, rec := range r.rows {
		if rec.StudioID != f.StudioID || rec.Status == RecordDeleted {
			continue
		}
		if f.PatientID != "" && rec.PatientID != f.PatientID {
			continue
		}
		if !f.From.IsZero() && rec.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !rec.CreatedAt.Before(f.To) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && uint64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, studioID, id string, p Patch) (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.Status == RecordDeleted || rec.StudioID != studioID {
		return Recording{}, ErrNotFound
	}
	if p.DoctorName != nil {
		rec.DoctorName = *p.DoctorName
	}
	if p.Transcript != nil {
		rec.Transcript = *p.Transcript
	}
	if p.RefertoData != nil {
		rec.RefertoData = *p.RefertoData
	}
	if p.OdontogrammaData != nil {
		rec.OdontogrammaData = *p.OdontogrammaData
	}
	rec.UpdatedAt = r.clock()
	r.rows[id] = rec
	return rec, nil
}

func (r *MemoryRepo) SoftDelete(ctx context.Context, studioID, id string) (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.Status == RecordDeleted || rec.StudioID != studioID {
		return Recording{}, ErrNotFound
	}
	rec.Status = RecordDeleted
	rec.UpdatedAt = r.clock()
	r.rows[id] = rec
	return rec, nil
}

func (r *MemoryRepo) Claim(ctx context.Context, id string, staleBefore time.Time) (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.Status == RecordDeleted {
		return Recording{}, ErrNotFound
	}
	if rec.ProcessingStatus == ProcessingProcessing && !rec.UpdatedAt.Before(staleBefore) {
		return Recording{}, ErrAlreadyProcessing
	}
	rec.ProcessingStatus = ProcessingProcessing
	rec.ProcessingError = ""
	rec.UpdatedAt = r.clock()
	r.rows[id] = rec
	return rec, nil
}

func (r *MemoryRepo) Complete(ctx context.Context, id string, o Outputs) (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.Status == RecordDeleted {
		return Recording{}, ErrNotFound
	}
	rec.Transcript = o.Transcript
	rec.RefertoData = o.Report
	rec.OdontogrammaData = o.Chart
	rec.ProcessingStatus = ProcessingCompleted
	rec.ProcessingError = ""
	rec.UpdatedAt = r.clock()
	r.rows[id] = rec
	return rec, nil
}

func (r *MemoryRepo) Release(ctx context.Context, id string, status ProcessingStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.ProcessingStatus != ProcessingProcessing {
		return nil
	}
	rec.ProcessingStatus = status
	rec.ProcessingError = reason
	rec.UpdatedAt = r.clock()
	r.rows[id] = rec
	return nil
}

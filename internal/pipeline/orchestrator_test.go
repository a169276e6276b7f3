package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"medical-ai-platform/internal/ai"
	"medical-ai-platform/internal/audiostore"
	"medical-ai-platform/internal/audit"
	"medical-ai-platform/internal/recordings"
	"medical-ai-platform/internal/referto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranscriber struct {
	text  string
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return f.text, f.err
}

// fakeGenerator answers by schema name.
type fakeGenerator struct {
	mu       sync.Mutex
	report   json.RawMessage
	chart    json.RawMessage
	reportEr error
	chartErr error
	requests []ai.JSONRequest
}

func (f *fakeGenerator) GenerateJSON(ctx context.Context, req ai.JSONRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if req.SchemaName == "odontogramma" {
		return f.chart, f.chartErr
	}
	return f.report, f.reportEr
}

func (f *fakeGenerator) schemas() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.SchemaName)
	}
	return out
}

type fakeGuard struct{ err error }

func (g fakeGuard) Acquire(context.Context, string, string) (func(), error) {
	if g.err != nil {
		return nil, g.err
	}
	return func() {}, nil
}

type harness struct {
	repo  *recordings.MemoryRepo
	audio *audiostore.LocalStore
	audit *audit.MemoryRepo
	tr    *fakeTranscriber
	gen   *fakeGenerator
	orch  *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := audiostore.NewLocalStore(t.TempDir(), "/api/uploads/recordings")
	require.NoError(t, err)
	h := &harness{
		repo:  recordings.NewMemoryRepo(),
		audio: store,
		audit: audit.NewMemoryRepo(),
		tr:    &fakeTranscriber{text: "Paziente con dolore al 3.6, carie profonda."},
		gen:   &fakeGenerator{},
	}
	h.orch = New(Deps{
		Store:       h.repo,
		Audio:       h.audio,
		Transcriber: h.tr,
		Generator:   h.gen,
		Audit:       audit.NewService(h.audit),
	}, Config{})
	return h
}

func (h *harness) seed(t *testing.T, doctor string, withAudio bool) recordings.Recording {
	t.Helper()
	rec := recordings.Recording{
		ID:               "rec-1",
		StudioID:         "studio-1",
		PatientID:        "patient-1",
		DurationSeconds:  95,
		VisitType:        recordings.VisitGeneralFirst,
		DoctorName:       doctor,
		ProcessingStatus: recordings.ProcessingPending,
		Status:           recordings.RecordActive,
		CreatedAt:        time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		UpdatedAt:        time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	if withAudio {
		ref, err := h.audio.Save(context.Background(), "recording_rec-1_1.webm", strings.NewReader("opus"))
		require.NoError(t, err)
		rec.AudioURL = ref
	} else {
		rec.AudioURL = "/api/uploads/recordings/recording_gone.webm"
	}
	require.NoError(t, h.repo.Create(context.Background(), rec))
	return rec
}

func reportJSON(t *testing.T, embedded *referto.Chart) json.RawMessage {
	t.Helper()
	r := referto.Report{}
	r.Header = referto.Header{Date: "14/03/2025", Clinician: "Dr. Altro"}
	r.Anamnesis.VisitReason.Content = "Dolore al 3.6"
	r.Caries.Lesions = []referto.Lesion{{Tooth: "3.6", Surface: "occlusale", Severity: "profonda"}}
	r.Chart = embedded
	referto.Normalize(&r, referto.Header{})
	b, err := json.Marshal(r)
	require.NoError(t, err)
	return b
}

func chartJSON(t *testing.T, teeth map[referto.Category][]referto.ToothID) json.RawMessage {
	t.Helper()
	c := referto.Chart{Teeth: teeth}
	c.Normalize()
	b, err := json.Marshal(c)
	require.NoError(t, err)
	return b
}

func TestProcess_HappyPath(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Dr. Rossi", true)
	h.gen.report = reportJSON(t, nil)
	h.gen.chart = chartJSON(t, map[referto.Category][]referto.ToothID{referto.CategoryCaries: {"3.6"}})

	res, err := h.orch.Process(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.False(t, res.ChartFallback)
	assert.Equal(t, []string{"referto", "odontogramma"}, h.gen.schemas())
	assert.Equal(t, "Dr. Rossi", res.Report.Header.Clinician)
	assert.Equal(t, "14/03/2025", res.Report.Header.Date)
	assert.Equal(t, []referto.ToothID{"36"}, res.Chart.Teeth[referto.CategoryCaries])

	stored, err := h.repo.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, recordings.ProcessingCompleted, stored.ProcessingStatus)
	assert.Equal(t, "Paziente con dolore al 3.6, carie profonda.", stored.Transcript)
	assert.Empty(t, stored.ProcessingError)

	var persisted map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(stored.RefertoData, &persisted))
	assert.NotContains(t, persisted, "odontogramma")
	chart, err := referto.DecodeChart(stored.OdontogrammaData)
	require.NoError(t, err)
	assert.Equal(t, 1, chart.ChartedTeeth())

	events := h.audit.Find(audit.Filter{RecordingID: "rec-1"})
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventRecordingProcessed, events[0].Type)
}

func TestProcess_ReportPromptCarriesVisitContext(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Dr. Rossi", true)
	h.gen.report = reportJSON(t, nil)
	h.gen.chart = chartJSON(t, nil)

	_, err := h.orch.Process(context.Background(), "rec-1")
	require.NoError(t, err)

	req := h.gen.requests[0]
	assert.Equal(t, "gpt-4o", req.Model)
	assert.InDelta(t, 0.2, req.Temperature, 1e-9)
	assert.Contains(t, req.User, "Dr. Rossi")
	assert.Contains(t, req.User, "14/03/2025")
	assert.Contains(t, req.User, "dolore al 3.6")
	assert.NotEmpty(t, req.System)
}

func TestProcess_ReusesEmbeddedChart(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Dr. Rossi", true)
	embedded := &referto.Chart{Teeth: map[referto.Category][]referto.ToothID{referto.CategoryCaries: {"3.6"}}}
	h.gen.report = reportJSON(t, embedded)

	res, err := h.orch.Process(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"referto"}, h.gen.schemas())
	assert.Equal(t, []referto.ToothID{"36"}, res.Chart.Teeth[referto.CategoryCaries])
	assert.Nil(t, res.Report.Chart)
}

func TestProcess_EmptyEmbeddedChartFallsThroughToExtraction(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Dr. Rossi", true)
	empty := referto.EmptyChart()
	h.gen.report = reportJSON(t, &empty)
	h.gen.chart = chartJSON(t, map[referto.Category][]referto.ToothID{referto.CategoryCaries: {"3.6"}})

	res, err := h.orch.Process(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"referto", "odontogramma"}, h.gen.schemas())
	assert.Equal(t, 1, res.Chart.ChartedTeeth())
}

func TestProcess_ChartFailureStoresEmptyChart(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Dr. Rossi", true)
	h.gen.report = reportJSON(t, nil)
	h.gen.chartErr = errors.New("upstream 500")

	res, err := h.orch.Process(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.True(t, res.ChartFallback)
	assert.Equal(t, 0, res.Chart.ChartedTeeth())
	assert.Len(t, res.Chart.Teeth, len(referto.Categories()))
	assert.Contains(t, strings.Join(res.Report.Validation.Warnings, "\n"), "Odontogramma non disponibile")

	stored, err := h.repo.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, recordings.ProcessingCompleted, stored.ProcessingStatus)
	assert.NotEmpty(t, stored.OdontogrammaData)
}

func TestProcess_EmptyTranscriptReleasesToPending(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Dr. Rossi", true)
	h.tr.text = "   "

	_, err := h.orch.Process(context.Background(), "rec-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTranscription))
	assert.Empty(t, h.gen.schemas())

	stored, err := h.repo.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, recordings.ProcessingPending, stored.ProcessingStatus)
	assert.Contains(t, stored.ProcessingError, "transcription")
	assert.Empty(t, stored.RefertoData)

	events := h.audit.Find(audit.Filter{Type: audit.EventRecordingProcessFailed})
	require.Len(t, events, 1)
	assert.Equal(t, "rec-1", events[0].RecordingID)
}

func TestProcess_LongFailureReasonStaysValidUTF8(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Dr. Rossi", true)
	h.tr.err = errors.New("rifiuto: " + strings.Repeat("è", 400))

	_, err := h.orch.Process(context.Background(), "rec-1")
	require.Error(t, err)

	stored, err := h.repo.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, recordings.ProcessingPending, stored.ProcessingStatus)
	assert.True(t, utf8.ValidString(stored.ProcessingError))
	assert.LessOrEqual(t, len(stored.ProcessingError), maxReasonBytes)
	assert.True(t, strings.HasPrefix(stored.ProcessingError, "transcription: "))
}

func TestProcess_MissingAudioMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Dr. Rossi", false)

	_, err := h.orch.Process(context.Background(), "rec-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingAudio))
	assert.Zero(t, h.tr.calls.Load())

	stored, err := h.repo.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, recordings.ProcessingFailed, stored.ProcessingStatus)
}

func TestProcess_MalformedReport(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Dr. Rossi", true)
	h.gen.report = json.RawMessage(`{"anamnesi":{}}`)

	_, err := h.orch.Process(context.Background(), "rec-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReportGeneration))

	stored, err := h.repo.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, recordings.ProcessingPending, stored.ProcessingStatus)
	assert.Empty(t, stored.Transcript)
	assert.Empty(t, stored.OdontogrammaData)
}

func TestProcess_RequiresDoctorName(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "  ", true)

	_, err := h.orch.Process(context.Background(), "rec-1")
	assert.True(t, errors.Is(err, ErrDoctorNameRequired))

	stored, err := h.repo.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, recordings.ProcessingPending, stored.ProcessingStatus)
	assert.Zero(t, h.tr.calls.Load())
}

func TestProcess_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Process(context.Background(), "missing")
	assert.True(t, errors.Is(err, recordings.ErrNotFound))
}

func TestProcess_AlreadyProcessing(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Dr. Rossi", true)
	_, err := h.repo.Claim(context.Background(), "rec-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = h.orch.Process(context.Background(), "rec-1")
	assert.True(t, errors.Is(err, ErrAlreadyProcessing))
	assert.Zero(t, h.tr.calls.Load())
}

func TestProcess_GuardBusy(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Dr. Rossi", true)
	h.orch.guard = fakeGuard{err: ErrBusy}

	_, err := h.orch.Process(context.Background(), "rec-1")
	assert.True(t, errors.Is(err, ErrBusy))

	stored, err := h.repo.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, recordings.ProcessingPending, stored.ProcessingStatus)
}

func TestProcess_ConcurrentCallsShareOneRun(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Dr. Rossi", true)
	h.gen.report = reportJSON(t, nil)
	h.gen.chart = chartJSON(t, nil)
	h.tr.gate = make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.orch.Process(context.Background(), "rec-1")
		}(i)
	}
	// let both callers reach the shared run before the transcriber returns
	time.Sleep(50 * time.Millisecond)
	close(h.tr.gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), h.tr.calls.Load())
}

func TestProcess_SurvivesCallerCancellation(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Dr. Rossi", true)
	h.gen.report = reportJSON(t, nil)
	h.gen.chart = chartJSON(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.orch.Process(ctx, "rec-1")
	require.NoError(t, err)
}

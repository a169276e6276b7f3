package recordings

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"medical-ai-platform/internal/audiostore"
	"medical-ai-platform/internal/audit"
	"medical-ai-platform/internal/referto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc    *Service
	repo   *MemoryRepo
	store  *audiostore.LocalStore
	events *audit.MemoryRepo
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := audiostore.NewLocalStore(t.TempDir(), "/api/uploads/recordings")
	require.NoError(t, err)
	repo := NewMemoryRepo()
	events := audit.NewMemoryRepo()
	svc := NewService(repo, store, audit.NewService(events))
	svc.clock = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) }
	svc.newID = func() string { return "11111111-2222-3333-4444-555555555555" }
	return fixture{svc: svc, repo: repo, store: store, events: events}
}

func validRequest() CreateRequest {
	return CreateRequest{StudioID: "studio-1", PatientID: "patient-1", UserID: "user-1", DurationSeconds: 95, DoctorName: "Dr. Rossi"}
}

func TestDecodeAudioPayload(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString([]byte("opus"))

	b, err := DecodeAudioPayload(enc)
	require.NoError(t, err)
	assert.Equal(t, "opus", string(b))

	b, err = DecodeAudioPayload("data:audio/webm;codecs=opus;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, "opus", string(b))

	for _, bad := range []string{"", "   ", "data:audio/webm,plain", "%%%"} {
		_, err := DecodeAudioPayload(bad)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, "payload %q", bad)
		assert.Equal(t, "audio_data", ve.Field)
	}
}

func TestService_CreateStoresAudioAndPendingRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, validRequest(), []byte("opus-bytes"))
	require.NoError(t, err)

	assert.Equal(t, ProcessingPending, rec.ProcessingStatus)
	assert.Equal(t, RecordActive, rec.Status)
	assert.Equal(t, VisitGeneralFirst, rec.VisitType)
	assert.Equal(t, "/api/uploads/recordings/recording_11111111-2222-3333-4444-555555555555_1741944600000.webm", rec.AudioURL)

	rc, err := f.store.Open(ctx, rec.AudioURL)
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "opus-bytes", string(b))

	got, err := f.svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	evs := f.events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventRecordingCreated, evs[0].Type)
}

func TestService_CreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name  string
		edit  func(*CreateRequest)
		audio []byte
		field string
	}{
		{"missing studio", func(r *CreateRequest) { r.StudioID = " " }, []byte("a"), "studio_id"},
		{"missing patient", func(r *CreateRequest) { r.PatientID = "" }, []byte("a"), "patient_id"},
		{"negative duration", func(r *CreateRequest) { r.DurationSeconds = -1 }, []byte("a"), "duration"},
		{"unknown visit", func(r *CreateRequest) { r.VisitType = "igiene" }, []byte("a"), "visit_type"},
		{"no audio", func(r *CreateRequest) {}, nil, "audio_data"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.edit(&req)
			_, err := f.svc.Create(context.Background(), req, tc.audio)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

type failingCreateRepo struct{ *MemoryRepo }

func (failingCreateRepo) Create(context.Context, Recording) error { return errors.New("db down") }

func TestService_CreateRemovesAudioWhenInsertFails(t *testing.T) {
	f := newFixture(t)
	f.svc.repo = failingCreateRepo{f.repo}

	_, err := f.svc.Create(context.Background(), validRequest(), []byte("opus"))
	require.Error(t, err)

	ok, err := f.store.Exists(context.Background(), "recording_11111111-2222-3333-4444-555555555555_1741944600000.webm")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_ListRequiresStudio(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.List(context.Background(), ListFilter{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = f.svc.Create(context.Background(), validRequest(), []byte("a"))
	require.NoError(t, err)
	out, err := f.svc.List(context.Background(), ListFilter{StudioID: "studio-1", PatientID: "patient-1"})
	require.NoError(t, err)
	assert.Len(t, out, 1)

	out, err = f.svc.List(context.Background(), ListFilter{StudioID: "studio-2"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestService_UpdateNormalizesReportAndChart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, validRequest(), []byte("a"))
	require.NoError(t, err)

	report := json.RawMessage(`{"referto":{
		"intestazione":{"data":"","medico":""},
		"anamnesi":{"motivo_visita":{"contenuto":"dolore al 36"}},
		"1_elementi_dentali":{"mancanti":["1.8","48"]},
		"2_carie":{"lesioni":[{"dente":"36","superficie":"occlusale"}]},
		"3_conservativa":{},"4_endodonzia":{},"5_chirurgia":{},"6_implantoprotesi":{},
		"7_parodontologia_igiene":{},"8_estetica":{},"9_ortodonzia_pedodonzia":{}
	}}`)
	chart := json.RawMessage(`{"denti":{"36":{"numero":"36","status":"carie"},"46":{"numero":"46","procedure":"impianto"}}}`)

	updated, err := f.svc.Update(ctx, "studio-1", rec.ID, Patch{RefertoData: &report, OdontogrammaData: &chart})
	require.NoError(t, err)

	r, err := referto.Decode(updated.RefertoData)
	require.NoError(t, err)
	assert.Equal(t, referto.SchemaVersion, r.SchemaVersion)
	assert.Equal(t, "14/03/2025", r.Header.Date)
	assert.Equal(t, "Dr. Rossi", r.Header.Clinician)
	assert.Equal(t, []referto.ToothID{"18", "48"}, r.Teeth.Missing)
	assert.Equal(t, 1, r.Caries.Statistics.Lesions)

	c, err := referto.DecodeChart(updated.OdontogrammaData)
	require.NoError(t, err)
	assert.Equal(t, []referto.ToothID{"36"}, c.Teeth[referto.CategoryCaries])
	assert.Equal(t, []referto.ToothID{"46"}, c.Teeth[referto.CategoryImplants])

	evs := f.events.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, audit.EventRecordingUpdated, evs[1].Type)
}

func TestService_UpdateRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, validRequest(), []byte("a"))
	require.NoError(t, err)

	var ve *ValidationError
	_, err = f.svc.Update(ctx, "studio-1", rec.ID, Patch{})
	require.ErrorAs(t, err, &ve)

	bad := json.RawMessage(`{"anamnesi":{}}`)
	_, err = f.svc.Update(ctx, "studio-1", rec.ID, Patch{RefertoData: &bad})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "referto_data", ve.Field)

	name := "Dr. Bianchi"
	_, err = f.svc.Update(ctx, "studio-2", rec.ID, Patch{DoctorName: &name})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Update(ctx, "studio-2", rec.ID, Patch{RefertoData: &bad})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_UpdateKeepsTranscriptOfCompletedRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, validRequest(), []byte("a"))
	require.NoError(t, err)

	// a pending recording may still have its transcript cleared
	blank := "  "
	_, err = f.svc.Update(ctx, "studio-1", rec.ID, Patch{Transcript: &blank})
	require.NoError(t, err)

	_, err = f.repo.Complete(ctx, rec.ID, Outputs{Transcript: "Paziente riferisce dolore al 36"})
	require.NoError(t, err)

	empty := ""
	var ve *ValidationError
	_, err = f.svc.Update(ctx, "studio-1", rec.ID, Patch{Transcript: &empty})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "transcript", ve.Field)

	stored, err := f.repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Paziente riferisce dolore al 36", stored.Transcript)

	edited := "Paziente riferisce dolore al 36 e al 37"
	updated, err := f.svc.Update(ctx, "studio-1", rec.ID, Patch{Transcript: &edited})
	require.NoError(t, err)
	assert.Equal(t, edited, updated.Transcript)
}

func TestService_DeleteIsSoftAndRemovesAudio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, validRequest(), []byte("a"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, "studio-2", rec.ID), ErrNotFound)
	require.NoError(t, f.svc.Delete(ctx, "studio-1", rec.ID))

	_, err = f.svc.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, "studio-1", rec.ID), ErrNotFound)

	ok, err := f.store.Exists(ctx, rec.AudioURL)
	require.NoError(t, err)
	assert.False(t, ok)
}

type brokenStore struct{ audiostore.Store }

func (brokenStore) Delete(context.Context, string) error { return errors.New("bucket unavailable") }

func TestService_DeleteSurvivesAudioCleanupFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, validRequest(), []byte("a"))
	require.NoError(t, err)

	f.svc.audio = brokenStore{f.store}
	require.NoError(t, f.svc.Delete(ctx, "studio-1", rec.ID))

	var types []string
	for _, e := range f.events.Events() {
		types = append(types, string(e.Type))
	}
	assert.Equal(t, "recording.created,recording.deleted,recording.audio_cleanup_failed", strings.Join(types, ","))
}

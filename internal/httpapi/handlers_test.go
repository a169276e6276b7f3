package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"medical-ai-platform/internal/audiostore"
	"medical-ai-platform/internal/auth"
	"medical-ai-platform/internal/config"
	"medical-ai-platform/internal/pipeline"
	"medical-ai-platform/internal/recordings"
	"medical-ai-platform/internal/referto"
	"medical-ai-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// fakeProcessor completes the recording with a fixed report and chart.
type fakeProcessor struct {
	repo  *recordings.MemoryRepo
	err   error
	calls int
}

func (p *fakeProcessor) Process(ctx context.Context, id string) (pipeline.Result, error) {
	p.calls++
	if p.err != nil {
		return pipeline.Result{}, p.err
	}
	var r referto.Report
	referto.Normalize(&r, referto.Header{Date: "14/03/2025", Clinician: "Dr. Rossi"})
	reportJSON, _ := json.Marshal(r)
	chart := referto.EmptyChart()
	chartJSON, _ := json.Marshal(chart)
	rec, err := p.repo.Complete(ctx, id, recordings.Outputs{Transcript: "Paziente in buona salute.", Report: reportJSON, Chart: chartJSON})
	if err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{Recording: rec, Report: r, Chart: chart}, nil
}

type testEnv struct {
	router *gin.Engine
	repo   *recordings.MemoryRepo
	proc   *fakeProcessor
}

// identity injects a caller without a token so handlers can be exercised directly.
func identity(studioID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if studioID != "" {
			ctx := auth.WithIdentity(c.Request.Context(), auth.Identity{UserID: "user-1", StudioID: studioID, Role: role})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

func newEnv(t *testing.T, studioID, role string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := audiostore.NewLocalStore(t.TempDir(), "/api/uploads/recordings")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	repo := recordings.NewMemoryRepo()
	proc := &fakeProcessor{repo: repo}
	h := Handlers{
		Recordings: recordings.NewService(repo, store, nil),
		Pipeline:   proc,
		Reporting:  reporting.NewService(reporting.NewMemoryRepo(repo)),
		Audio:      store,
		MaxUpload:  1 << 20,
	}
	r := gin.New()
	h.Register(r, identity(studioID, role), false)
	return &testEnv{router: r, repo: repo, proc: proc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func createBody(studioID string) map[string]any {
	return map[string]any{
		"studio_id":   studioID,
		"patient_id":  "patient-1",
		"visit_type":  "prima_visita_generica",
		"doctor_name": "Dr. Rossi",
		"duration":    42,
		"audio_data":  "data:audio/webm;base64," + base64.StdEncoding.EncodeToString([]byte("opus-frames")),
	}
}

func (e *testEnv) create(t *testing.T) recordings.Recording {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/recordings", createBody("studio-1"))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode[recordings.Recording](t, w)
}

func TestCreateRecording_JSON(t *testing.T) {
	env := newEnv(t, "studio-1", "doctor")
	rec := env.create(t)

	if rec.ProcessingStatus != recordings.ProcessingPending {
		t.Fatalf("expected pending, got %s", rec.ProcessingStatus)
	}
	if rec.DurationSeconds != 42 || rec.DoctorName != "Dr. Rossi" || rec.UserID != "user-1" {
		t.Fatalf("unexpected recording: %+v", rec)
	}
	if !strings.HasPrefix(rec.AudioURL, "/api/uploads/recordings/recording_"+rec.ID+"_") {
		t.Fatalf("unexpected audio url %q", rec.AudioURL)
	}
	if rec.Transcript != "" || len(rec.RefertoData) != 0 {
		t.Fatalf("processing fields must be empty on create")
	}
}

func TestCreateRecording_Multipart(t *testing.T) {
	env := newEnv(t, "studio-1", "assistant")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("patient_id", "patient-9")
	_ = mw.WriteField("duration", "17")
	_ = mw.WriteField("visit_type", "visita_parodontale")
	fw, err := mw.CreateFormFile("audio", "recording.webm")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write([]byte("opus-frames"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/recordings", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	rec := decode[recordings.Recording](t, w)
	// studio defaults to the caller's
	if rec.StudioID != "studio-1" || rec.PatientID != "patient-9" || rec.VisitType != recordings.VisitPeriodontal {
		t.Fatalf("unexpected recording: %+v", rec)
	}
}

func TestCreateRecording_ValidationError(t *testing.T) {
	env := newEnv(t, "studio-1", "doctor")
	body := createBody("studio-1")
	delete(body, "patient_id")

	w := env.do(t, http.MethodPost, "/api/recordings", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	out := decode[map[string]string](t, w)
	if out["code"] != "validation_error" || out["field"] != "patient_id" {
		t.Fatalf("unexpected body: %v", out)
	}
}

func TestCreateRecording_OtherStudioForbidden(t *testing.T) {
	env := newEnv(t, "studio-1", "doctor")
	w := env.do(t, http.MethodPost, "/api/recordings", createBody("studio-2"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestRequiresIdentity(t *testing.T) {
	env := newEnv(t, "", "")
	w := env.do(t, http.MethodGet, "/api/recordings", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestProcessAndReadReferto(t *testing.T) {
	env := newEnv(t, "studio-1", "doctor")
	rec := env.create(t)

	w := env.do(t, http.MethodPost, "/api/recordings/"+rec.ID+"/process", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("process: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	proc := decode[map[string]json.RawMessage](t, w)
	for _, k := range []string{"recording_id", "transcript", "referto", "odontogramma", "processing_status"} {
		if _, ok := proc[k]; !ok {
			t.Fatalf("process response missing %q", k)
		}
	}

	w = env.do(t, http.MethodGet, "/api/recordings/"+rec.ID+"/referto", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("referto: expected 200, got %d", w.Code)
	}
	var out struct {
		ProcessingStatus string                     `json:"processing_status"`
		Transcript       string                     `json:"transcript"`
		Referto          map[string]json.RawMessage `json:"referto"`
		Odontogramma     struct {
			Teeth map[string][]string `json:"denti_da_evidenziare"`
		} `json:"odontogramma"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ProcessingStatus != "completed" || out.Transcript == "" {
		t.Fatalf("unexpected status/transcript: %+v", out)
	}
	for _, k := range append(referto.SectionKeys(), "anamnesi") {
		if _, ok := out.Referto[k]; !ok {
			t.Fatalf("referto missing %q", k)
		}
	}
	if len(out.Odontogramma.Teeth) != 8 {
		t.Fatalf("expected 8 chart categories, got %d", len(out.Odontogramma.Teeth))
	}
}

func TestRefertoBeforeProcessingIsNull(t *testing.T) {
	env := newEnv(t, "studio-1", "doctor")
	rec := env.create(t)

	w := env.do(t, http.MethodGet, "/api/recordings/"+rec.ID+"/referto", nil)
	out := decode[map[string]json.RawMessage](t, w)
	if string(out["referto"]) != "null" || string(out["processing_status"]) != `"pending"` {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestProcessErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{pipeline.ErrMissingAudio, http.StatusUnprocessableEntity},
		{errors.Join(pipeline.ErrTranscription, errors.New("empty")), http.StatusBadGateway},
		{pipeline.ErrReportGeneration, http.StatusBadGateway},
		{pipeline.ErrAlreadyProcessing, http.StatusConflict},
		{pipeline.ErrBusy, http.StatusTooManyRequests},
		{pipeline.ErrDoctorNameRequired, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		env := newEnv(t, "studio-1", "doctor")
		rec := env.create(t)
		env.proc.err = tc.err

		w := env.do(t, http.MethodPost, "/api/recordings/"+rec.ID+"/process", nil)
		if w.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, w.Code)
		}
	}
}

func TestOtherStudioRecordingIsNotFound(t *testing.T) {
	env := newEnv(t, "studio-1", "doctor")
	now := time.Now().UTC()
	if err := env.repo.Create(context.Background(), recordings.Recording{
		ID: "foreign", StudioID: "studio-2", PatientID: "p", VisitType: recordings.VisitGeneralFirst,
		ProcessingStatus: recordings.ProcessingPending, Status: recordings.RecordActive, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/recordings/foreign"},
		{http.MethodPost, "/api/recordings/foreign/process"},
		{http.MethodDelete, "/api/recordings/foreign"},
	} {
		w := env.do(t, tc.method, tc.path, nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, w.Code)
		}
	}
	if env.proc.calls != 0 {
		t.Fatalf("pipeline must not run for another studio's recording")
	}
}

func TestDeleteHidesRecording(t *testing.T) {
	env := newEnv(t, "studio-1", "doctor")
	rec := env.create(t)

	w := env.do(t, http.MethodDelete, "/api/recordings/"+rec.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/recordings/"+rec.ID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/recordings?studio_id=studio-1", nil)
	out := decode[struct {
		Count int `json:"count"`
	}](t, w)
	if out.Count != 0 {
		t.Fatalf("deleted recording still listed")
	}
}

func TestUpdateRecording(t *testing.T) {
	env := newEnv(t, "studio-1", "doctor")
	rec := env.create(t)

	w := env.do(t, http.MethodPut, "/api/recordings/"+rec.ID, map[string]any{"doctor_name": "Dr. Verdi"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[recordings.Recording](t, w).DoctorName; got != "Dr. Verdi" {
		t.Fatalf("doctor_name not updated: %q", got)
	}

	w = env.do(t, http.MethodPut, "/api/recordings/"+rec.ID, map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty patch: expected 400, got %d", w.Code)
	}
}

func TestListRecordingsFilters(t *testing.T) {
	env := newEnv(t, "studio-1", "doctor")
	env.create(t)

	if w := env.do(t, http.MethodGet, "/api/recordings?studio_id=studio-2", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another studio, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/recordings?from=yesterday", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", w.Code)
	}
	w := env.do(t, http.MethodGet, "/api/recordings?patient_id=patient-1", nil)
	out := decode[struct {
		Count int `json:"count"`
	}](t, w)
	if out.Count != 1 {
		t.Fatalf("expected 1 recording, got %d", out.Count)
	}
}

func TestServeAudio(t *testing.T) {
	env := newEnv(t, "studio-1", "doctor")
	rec := env.create(t)

	w := env.do(t, http.MethodGet, rec.AudioURL, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/webm" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if w.Body.String() != "opus-frames" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}

	if w := env.do(t, http.MethodGet, "/api/uploads/recordings/recording_nope_1.webm", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown file, got %d", w.Code)
	}
}

func TestRecordingIDFromName(t *testing.T) {
	id, ok := recordingIDFromName("recording_11111111-2222-3333-4444-555555555555_1741944600000.webm")
	if !ok || id != "11111111-2222-3333-4444-555555555555" {
		t.Fatalf("unexpected parse: %q %v", id, ok)
	}
	for _, bad := range []string{"x.webm", "recording_abc.webm", "recording_abc_12.mp3", "recording__12.webm"} {
		if _, ok := recordingIDFromName(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestSummaryRoleRestricted(t *testing.T) {
	env := newEnv(t, "studio-1", "assistant")
	if w := env.do(t, http.MethodGet, "/api/recordings/summary", nil); w.Code != http.StatusForbidden {
		t.Fatalf("assistant: expected 403, got %d", w.Code)
	}

	env = newEnv(t, "studio-1", "owner")
	env.create(t)
	w := env.do(t, http.MethodGet, "/api/recordings/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("owner: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[reporting.Summary](t, w).TotalRecordings; got != 1 {
		t.Fatalf("expected 1 recording in summary, got %d", got)
	}
}

func TestVisitTypesAndHealth(t *testing.T) {
	env := newEnv(t, "", "")
	w := env.do(t, http.MethodGet, "/api/visit-types", nil)
	out := decode[struct {
		VisitTypes []visitTypeView `json:"visit_types"`
	}](t, w)
	if len(out.VisitTypes) != 5 || out.VisitTypes[0].ID != recordings.VisitGeneralFirst {
		t.Fatalf("unexpected visit types: %+v", out.VisitTypes)
	}
	if w := env.do(t, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
}

func TestReadyzReportsFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := Handlers{Ready: func(context.Context) error { return errors.New("postgres down") }}
	r := gin.New()
	r.GET("/readyz", h.Readyz)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestAuthFlow_LoginRefreshMe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	h := Handlers{Auth: m, Recordings: recordings.NewService(recordings.NewMemoryRepo(), nil, nil)}
	r := gin.New()
	h.Register(r, auth.RequireAccessToken(m), true)

	post := func(path string, body any) *httptest.ResponseRecorder {
		b, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := post("/api/auth/login", map[string]string{"user_id": "u1", "studio_id": "studio-1", "role": "assistant"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	pair := decode[auth.TokenPair](t, w)

	// a refresh cannot be used to pick another role
	w = post("/api/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken, "role": "owner"})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	next := decode[auth.TokenPair](t, w)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+next.AccessToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rec.Code)
	}
	if got := decode[auth.Identity](t, rec); got != (auth.Identity{UserID: "u1", StudioID: "studio-1", Role: "assistant"}) {
		t.Fatalf("unexpected identity %+v", got)
	}

	if w := post("/api/auth/refresh", map[string]string{"refresh_token": pair.AccessToken}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected access token refused for refresh, got %d", w.Code)
	}
}

func TestLoginNotMountedInProduction(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	Handlers{}.Register(r, identity("", ""), false)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

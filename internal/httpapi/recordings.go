package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"medical-ai-platform/internal/auth"
	"medical-ai-platform/internal/pipeline"
	"medical-ai-platform/internal/rbac"
	"medical-ai-platform/internal/recordings"
	"medical-ai-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

const defaultMaxUpload = 50 << 20

type createRecordingRequest struct {
	recordings.CreateRequest
	AudioData string `json:"audio_data"`
}

// CreateRecording accepts either JSON with base64 audio_data or a multipart
// form whose "audio" part carries the raw recording.
func (h Handlers) CreateRecording(c *gin.Context) {
	limit := h.MaxUpload
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	// base64 inflates by 4/3
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit*4/3+1<<20)

	var (
		req   recordings.CreateRequest
		audio []byte
		err   error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req, audio, err = readMultipart(c, limit)
	} else {
		var body createRecordingRequest
		if err = c.ShouldBindJSON(&body); err == nil {
			req = body.CreateRequest
			audio, err = recordings.DecodeAudioPayload(body.AudioData)
		} else if !isTooLarge(err) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	if err != nil {
		if isTooLarge(err) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio too large"})
			return
		}
		writeError(c, err)
		return
	}
	if int64(len(audio)) > limit {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio too large"})
		return
	}

	if req.StudioID == "" {
		req.StudioID, _ = auth.StudioID(c.Request.Context())
	}
	if !rbac.CanAccessStudio(c.Request.Context(), req.StudioID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	req.UserID, _ = auth.UserID(c.Request.Context())

	rec, err := h.Recordings.Create(c.Request.Context(), req, audio)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func readMultipart(c *gin.Context, limit int64) (recordings.CreateRequest, []byte, error) {
	duration := 0
	if raw := strings.TrimSpace(c.PostForm("duration")); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			return recordings.CreateRequest{}, nil, &recordings.ValidationError{Field: "duration", Reason: "not a number"}
		}
		duration = d
	}
	req := recordings.CreateRequest{
		StudioID:        c.PostForm("studio_id"),
		PatientID:       c.PostForm("patient_id"),
		DurationSeconds: duration,
		VisitType:       c.PostForm("visit_type"),
		DoctorName:      c.PostForm("doctor_name"),
	}
	fh, err := c.FormFile("audio")
	if err != nil {
		if isTooLarge(err) {
			return req, nil, err
		}
		return req, nil, &recordings.ValidationError{Field: "audio_data", Reason: "required"}
	}
	if fh.Size > limit {
		return req, nil, &http.MaxBytesError{Limit: limit}
	}
	f, err := fh.Open()
	if err != nil {
		return req, nil, err
	}
	defer f.Close()
	audio, err := io.ReadAll(io.LimitReader(f, limit+1))
	return req, audio, err
}

// loadAccessible fetches a recording the caller may see. Recordings of other
// studios answer 404 so their existence does not leak.
func (h Handlers) loadAccessible(c *gin.Context) (recordings.Recording, bool) {
	rec, err := h.Recordings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return recordings.Recording{}, false
	}
	if !rbac.CanAccessStudio(c.Request.Context(), rec.StudioID) {
		writeError(c, recordings.ErrNotFound)
		return recordings.Recording{}, false
	}
	return rec, true
}

func (h Handlers) GetRecording(c *gin.Context) {
	rec, ok := h.loadAccessible(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) ListRecordings(c *gin.Context) {
	ctx := c.Request.Context()
	f := recordings.ListFilter{
		StudioID:  c.Query("studio_id"),
		PatientID: c.Query("patient_id"),
	}
	if f.StudioID == "" {
		f.StudioID, _ = auth.StudioID(ctx)
	}
	if !rbac.CanAccessStudio(ctx, f.StudioID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	var err error
	if f.From, err = parseTime(c.Query("from"), "from"); err != nil {
		writeError(c, err)
		return
	}
	if f.To, err = parseTime(c.Query("to"), "to"); err != nil {
		writeError(c, err)
		return
	}
	f.Limit = 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || n == 0 || n > 500 {
			writeError(c, &recordings.ValidationError{Field: "limit", Reason: "must be between 1 and 500"})
			return
		}
		f.Limit = n
	}

	out, err := h.Recordings.List(ctx, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": out, "count": len(out)})
}

func (h Handlers) UpdateRecording(c *gin.Context) {
	rec, ok := h.loadAccessible(c)
	if !ok {
		return
	}
	var p recordings.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	out, err := h.Recordings.Update(c.Request.Context(), rec.StudioID, rec.ID, p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// DeleteRecording soft-deletes; audio removal failures are logged by the
// service and never change the response.
func (h Handlers) DeleteRecording(c *gin.Context) {
	rec, ok := h.loadAccessible(c)
	if !ok {
		return
	}
	if err := h.Recordings.Delete(c.Request.Context(), rec.StudioID, rec.ID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": rec.ID, "deleted": true})
}

type processResponse struct {
	RecordingID      string                      `json:"recording_id"`
	DoctorName       string                      `json:"doctor_name"`
	Transcript       string                      `json:"transcript"`
	Referto          json.RawMessage             `json:"referto"`
	Odontogramma     json.RawMessage             `json:"odontogramma"`
	ProcessingStatus recordings.ProcessingStatus `json:"processing_status"`
	ChartFallback    bool                        `json:"chart_fallback,omitempty"`
}

// ProcessRecording runs the pipeline synchronously and answers with its outputs.
func (h Handlers) ProcessRecording(c *gin.Context) {
	if h.Pipeline == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "pipeline not configured"})
		return
	}
	rec, ok := h.loadAccessible(c)
	if !ok {
		return
	}
	res, err := h.Pipeline.Process(c.Request.Context(), rec.ID)
	if err != nil {
		if errors.Is(err, pipeline.ErrAlreadyProcessing) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":             "recording is already being processed",
				"code":              "already_processing",
				"processing_status": recordings.ProcessingProcessing,
			})
			return
		}
		writeError(c, err)
		return
	}
	done := res.Recording
	c.JSON(http.StatusOK, processResponse{
		RecordingID:      done.ID,
		DoctorName:       done.DoctorName,
		Transcript:       done.Transcript,
		Referto:          done.RefertoData,
		Odontogramma:     done.OdontogrammaData,
		ProcessingStatus: done.ProcessingStatus,
		ChartFallback:    res.ChartFallback,
	})
}

type refertoResponse struct {
	RecordingID      string                      `json:"recording_id"`
	PatientID        string                      `json:"patient_id"`
	VisitType        recordings.VisitType        `json:"visit_type"`
	DoctorName       string                      `json:"doctor_name"`
	Transcript       string                      `json:"transcript,omitempty"`
	Referto          json.RawMessage             `json:"referto"`
	Odontogramma     json.RawMessage             `json:"odontogramma"`
	ProcessingStatus recordings.ProcessingStatus `json:"processing_status"`
	ProcessingError  string                      `json:"processing_error,omitempty"`
	CreatedAt        time.Time                   `json:"created_at"`
}

// GetReferto is the cheap read the client poller uses.
func (h Handlers) GetReferto(c *gin.Context) {
	rec, ok := h.loadAccessible(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, refertoResponse{
		RecordingID:      rec.ID,
		PatientID:        rec.PatientID,
		VisitType:        rec.VisitType,
		DoctorName:       rec.DoctorName,
		Transcript:       rec.Transcript,
		Referto:          orNull(rec.RefertoData),
		Odontogramma:     orNull(rec.OdontogrammaData),
		ProcessingStatus: rec.ProcessingStatus,
		ProcessingError:  rec.ProcessingError,
		CreatedAt:        rec.CreatedAt,
	})
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// ServeAudio streams a stored recording back. The file name embeds the
// recording id, which is checked against the caller's studio.
func (h Handlers) ServeAudio(c *gin.Context) {
	name := c.Param("name")
	id, ok := recordingIDFromName(name)
	if !ok || h.Audio == nil {
		writeError(c, recordings.ErrNotFound)
		return
	}
	rec, err := h.Recordings.Get(c.Request.Context(), id)
	if err != nil || !rbac.CanAccessStudio(c.Request.Context(), rec.StudioID) {
		writeError(c, recordings.ErrNotFound)
		return
	}
	if !strings.HasSuffix(rec.AudioURL, "/"+name) && rec.AudioURL != name {
		writeError(c, recordings.ErrNotFound)
		return
	}
	rc, err := h.Audio.Open(c.Request.Context(), rec.AudioURL)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()
	c.Header("Content-Disposition", "inline")
	c.Header("Cache-Control", "private, max-age=3600")
	c.DataFromReader(http.StatusOK, -1, "audio/webm", rc, nil)
}

// recordingIDFromName parses "recording_<id>_<unix ms>.webm".
func recordingIDFromName(name string) (string, bool) {
	s, ok := strings.CutPrefix(name, "recording_")
	if !ok {
		return "", false
	}
	s, ok = strings.CutSuffix(s, ".webm")
	if !ok {
		return "", false
	}
	i := strings.LastIndex(s, "_")
	if i <= 0 {
		return "", false
	}
	if _, err := strconv.ParseInt(s[i+1:], 10, 64); err != nil {
		return "", false
	}
	return s[:i], true
}

func (h Handlers) StudioSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	ctx := c.Request.Context()
	studioID := c.Query("studio_id")
	if studioID == "" {
		studioID, _ = auth.StudioID(ctx)
	}
	if !rbac.CanAccessStudio(ctx, studioID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	from, err := parseTime(c.Query("from"), "from")
	if err != nil {
		writeError(c, err)
		return
	}
	to, err := parseTime(c.Query("to"), "to")
	if err != nil {
		writeError(c, err)
		return
	}
	// default window: the last 30 days
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	out, err := h.Reporting.StudioSummary(ctx, reporting.SummaryRequest{
		StudioID: studioID,
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// parseTime accepts RFC 3339 or a bare YYYY-MM-DD date (UTC midnight).
func parseTime(raw, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, &recordings.ValidationError{Field: field, Reason: "expected RFC 3339 or YYYY-MM-DD"}
}

// Package apiclient is a typed HTTP client for the recordings API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"medical-ai-platform/internal/auth"
	"medical-ai-platform/internal/recordings"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
	Field      string `json:"field"`
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("api %d: %s (field %s)", e.StatusCode, e.Message, e.Field)
	}
	return fmt.Sprintf("api %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == code
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New returns a client for baseURL (e.g. "http://localhost:8080").
// A nil hc uses a client without a global timeout; callers bound calls with ctx.
func New(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: hc,
	}
}

// WithToken returns a copy of c authenticating as token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ae := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(raw, ae) != nil || ae.Message == "" {
			ae.Message = strings.TrimSpace(string(raw))
		}
		return ae
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("apiclient: decode %s %s: %w", method, path, err)
	}
	return nil
}

// Login requests a development token pair.
func (c *Client) Login(ctx context.Context, userID, studioID, role string) (auth.TokenPair, error) {
	var out auth.TokenPair
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"user_id":   userID,
		"studio_id": studioID,
		"role":      role,
	}, &out)
	return out, err
}

type CreateRecordingRequest struct {
	StudioID   string
	PatientID  string
	VisitType  string
	DoctorName string
	Duration   time.Duration
	Audio      []byte
}

// CreateRecording uploads audio as a base64 data URL.
func (c *Client) CreateRecording(ctx context.Context, req CreateRecordingRequest) (recordings.Recording, error) {
	var out recordings.Recording
	err := c.do(ctx, http.MethodPost, "/api/recordings", map[string]any{
		"studio_id":   req.StudioID,
		"patient_id":  req.PatientID,
		"visit_type":  req.VisitType,
		"doctor_name": req.DoctorName,
		"duration":    int(req.Duration.Round(time.Second) / time.Second),
		"audio_data":  "data:audio/webm;base64," + base64.StdEncoding.EncodeToString(req.Audio),
	}, &out)
	return out, err
}

func (c *Client) GetRecording(ctx context.Context, id string) (recordings.Recording, error) {
	var out recordings.Recording
	err := c.do(ctx, http.MethodGet, "/api/recordings/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) ListRecordings(ctx context.Context, studioID, patientID string) ([]recordings.Recording, error) {
	q := url.Values{}
	if studioID != "" {
		q.Set("studio_id", studioID)
	}
	if patientID != "" {
		q.Set("patient_id", patientID)
	}
	path := "/api/recordings"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Recordings []recordings.Recording `json:"recordings"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Recordings, err
}

func (c *Client) DeleteRecording(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/recordings/"+url.PathEscape(id), nil, nil)
}

// ProcessResult is the answer of a completed pipeline run.
type ProcessResult struct {
	RecordingID      string          `json:"recording_id"`
	DoctorName       string          `json:"doctor_name"`
	Transcript       string          `json:"transcript"`
	Referto          json.RawMessage `json:"referto"`
	Odontogramma     json.RawMessage `json:"odontogramma"`
	ProcessingStatus string          `json:"processing_status"`
	ChartFallback    bool            `json:"chart_fallback"`
}

// Process triggers the pipeline and blocks until it finishes.
func (c *Client) Process(ctx context.Context, id string) (ProcessResult, error) {
	var out ProcessResult
	err := c.do(ctx, http.MethodPost, "/api/recordings/"+url.PathEscape(id)+"/process", nil, &out)
	return out, err
}

// Referto is the lightweight status read used while polling.
type Referto struct {
	RecordingID      string          `json:"recording_id"`
	PatientID        string          `json:"patient_id"`
	VisitType        string          `json:"visit_type"`
	DoctorName       string          `json:"doctor_name"`
	Transcript       string          `json:"transcript"`
	Referto          json.RawMessage `json:"referto"`
	Odontogramma     json.RawMessage `json:"odontogramma"`
	ProcessingStatus string          `json:"processing_status"`
	ProcessingError  string          `json:"processing_error"`
	CreatedAt        time.Time       `json:"created_at"`
}

// HasReport reports whether a report payload is present.
func (r Referto) HasReport() bool {
	s := strings.TrimSpace(string(r.Referto))
	return s != "" && s != "null"
}

func (c *Client) Referto(ctx context.Context, id string) (Referto, error) {
	var out Referto
	err := c.do(ctx, http.MethodGet, "/api/recordings/"+url.PathEscape(id)+"/referto", nil, &out)
	return out, err
}

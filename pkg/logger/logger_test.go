package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger")
	}
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if From(With(context.Background(), l)) != l {
		t.Fatalf("expected stored logger")
	}
}

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "rid-1" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	dec := json.NewDecoder(&buf)
	lines := 0
	for dec.More() {
		var entry map[string]any
		if err := dec.Decode(&entry); err != nil {
			t.Fatalf("decode log: %v", err)
		}
		if entry["request_id"] != "rid-1" {
			t.Fatalf("expected request_id on every line, got %v", entry)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 log lines, got %d", lines)
	}
}

func TestNew_RedactsClinicalContent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production")
	l.Info("processed", "recording_id", "rec-1", "transcript", "Paziente con dolore al 36", "Authorization", "Bearer x")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["recording_id"] != "rec-1" {
		t.Fatalf("expected recording_id kept, got %v", entry)
	}
	if entry["transcript"] != Redacted || entry["Authorization"] != Redacted {
		t.Fatalf("expected sensitive values redacted, got %v", entry)
	}
}

func TestNew_LevelByEnvironment(t *testing.T) {
	cases := map[string]slog.Level{
		"dev":        slog.LevelDebug,
		"local":      slog.LevelDebug,
		"test":       slog.LevelWarn,
		"production": slog.LevelInfo,
	}
	for env, want := range cases {
		l := NewWithWriter(io.Discard, env)
		if !l.Enabled(context.Background(), want) {
			t.Fatalf("%s: expected %v enabled", env, want)
		}
		if want > slog.LevelDebug && l.Enabled(context.Background(), want-4) {
			t.Fatalf("%s: expected %v disabled", env, want-4)
		}
	}
}

func TestMiddleware_LevelsAndRecordingID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/recordings/:id/process", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected health check to be logged below info, got %s", buf.String())
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/recordings/rec-9/process", nil))
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["level"] != "ERROR" || entry["recording_id"] != "rec-9" {
		t.Fatalf("expected error line tagged with recording_id, got %v", entry)
	}
	if entry["path"] != "/api/recordings/:id/process" {
		t.Fatalf("expected route template as path, got %v", entry["path"])
	}
}

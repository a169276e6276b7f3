package openai

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"strings"

	"medical-ai-platform/internal/ai"
)

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcriber adapts the audio transcription endpoint to ai.Transcriber.
type Transcriber struct {
	client   *Client
	model    string
	language string
}

func NewTranscriber(c *Client, model, language string) *Transcriber {
	if model == "" {
		model = "whisper-1"
	}
	return &Transcriber{client: c, model: model, language: language}
}

// Transcribe uploads the WebM/Opus recording and returns the transcript.
// An empty transcript is reported as ai.ErrEmptyOutput.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "audio.webm")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	fields := [][2]string{
		{"model", t.model},
		{"response_format", "json"},
		{"temperature", "0"},
	}
	if t.language != "" {
		fields = append(fields, [2]string{"language", t.language})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	var out transcriptionResponse
	if err := t.client.do(ctx, "/v1/audio/transcriptions", w.FormDataContentType(), buf.Bytes(), &out); err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", ai.ErrEmptyOutput
	}
	return text, nil
}

// Package ai declares the provider-neutral contracts used by the processing
// pipeline. Implementations live in the openai and gcpspeech subpackages.
package ai

import (
	"context"
	"encoding/json"
	"errors"
)

// Transcriber turns a recorded consultation into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// JSONRequest asks a language model for a single JSON document conforming to Schema.
type JSONRequest struct {
	Model       string
	System      string
	User        string
	SchemaName  string
	Schema      map[string]any
	Temperature float64
	MaxTokens   int
}

// Generator produces schema-constrained JSON.
type Generator interface {
	GenerateJSON(ctx context.Context, req JSONRequest) (json.RawMessage, error)
}

var (
	ErrEmptyOutput = errors.New("ai: empty output")
	ErrRefused     = errors.New("ai: model refused the request")
	ErrTruncated   = errors.New("ai: output truncated")
)

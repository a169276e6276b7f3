// Package gcpspeech transcribes recordings with Google Cloud Speech-to-Text.
package gcpspeech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"medical-ai-platform/internal/ai"
)

// MaxInlineBytes is the largest recording sent as inline content.
const MaxInlineBytes = 10 << 20

type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)
}

type longRunning struct{ c *speech.Client }

func (l longRunning) Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	op, err := l.c.LongRunningRecognize(ctx, req)
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

type Config struct {
	// Language is an ISO 639-1 code ("it") or a BCP-47 tag ("it-IT").
	Language        string
	Model           string
	CredentialsFile string
	MaxRetries      int
}

type Transcriber struct {
	rec        recognizer
	closer     func() error
	language   string
	model      string
	maxRetries int
	log        *slog.Logger
	sleep      func(time.Duration)
}

func New(ctx context.Context, cfg Config, log *slog.Logger) (*Transcriber, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	t := newTranscriber(longRunning{c}, cfg, log)
	t.closer = c.Close
	return t, nil
}

func newTranscriber(rec recognizer, cfg Config, log *slog.Logger) *Transcriber {
	if log == nil {
		log = slog.Default()
	}
	model := cfg.Model
	if model == "" || model == "whisper-1" {
		model = "latest_long"
	}
	return &Transcriber{
		rec:        rec,
		language:   languageTag(cfg.Language),
		model:      model,
		maxRetries: cfg.MaxRetries,
		log:        log,
		sleep:      time.Sleep,
	}
}

func (t *Transcriber) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	return t.closer()
}

func languageTag(lang string) string {
	lang = strings.TrimSpace(lang)
	switch {
	case lang == "":
		return "it-IT"
	case strings.Contains(lang, "-"):
		return lang
	default:
		return strings.ToLower(lang) + "-" + strings.ToUpper(lang)
	}
}

// Transcribe runs a long-running recognition over the WebM/Opus recording.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ai.ErrEmptyOutput
	}
	if len(audio) > MaxInlineBytes {
		return "", fmt.Errorf("speech: recording of %d bytes exceeds inline limit", len(audio))
	}
	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_WEBM_OPUS,
			SampleRateHertz:            48000,
			LanguageCode:               t.language,
			Model:                      t.model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	}

	resp, err := t.retry(ctx, req)
	if err != nil {
		return "", fmt.Errorf("speech longrunningrecognize: %w", err)
	}

	parts := make([]string, 0, len(resp.GetResults()))
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if s := strings.TrimSpace(alts[0].GetTranscript()); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "", ai.ErrEmptyOutput
	}
	return strings.Join(parts, " "), nil
}

func (t *Transcriber) retry(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := t.rec.Recognize(ctx, req)
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == t.maxRetries {
			break
		}
		t.log.Warn("speech recognize retrying", "attempt", attempt+1, "code", code.String())
		t.sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	if last == nil {
		last = errors.New("speech: no attempt made")
	}
	return nil, last
}

// Package openai is a minimal client for the OpenAI audio transcription and
// chat completion endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"medical-ai-platform/pkg/utils"
)

const defaultBaseURL = "https://api.openai.com"

type Config struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	HTTPClient *http.Client
}

type Client struct {
	apiKey     string
	baseURL    string
	maxRetries int
	httpClient *http.Client
	log        *slog.Logger

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, log *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		// Per-call deadlines come from ctx.
		hc = &http.Client{}
	}
	if log == nil {
		log = slog.Default()
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    base,
		maxRetries: retries,
		httpClient: hc,
		log:        log,
		sleep:      sleepCtx,
	}, nil
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func retryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

func retryable(err error) bool {
	var he *httpError
	if errors.As(err, &he) {
		return retryableStatus(he.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func retryAfter(resp *http.Response, fallback, limit time.Duration) time.Duration {
	d := fallback
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				d = time.Duration(secs) * time.Second
			}
		}
	}
	if d > limit {
		d = limit
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// doOnce sends one request. body is re-read from payload on every attempt.
func (c *Client) doOnce(ctx context.Context, path, contentType string, payload []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	return resp, raw, nil
}

func (c *Client) do(ctx context.Context, path, contentType string, payload []byte, out any) error {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, raw, err := c.doOnce(ctx, path, contentType, payload)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode: %w", uErr)
			}
			return nil
		}
		if ctx.Err() != nil || !retryable(err) || attempt >= c.maxRetries {
			return err
		}

		wait := retryAfter(resp, backoff, 10*time.Second)
		c.log.Warn("openai request retrying", "path", path, "attempt", attempt+1, "max_retries", c.maxRetries, "sleep", wait.String(), "err", err)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		backoff *= 2
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return utils.Truncate(s, n) + "..."
}

// Package poller waits for a recording's report to become available,
// triggering processing once when the recording is still pending.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"medical-ai-platform/internal/apiclient"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 24
)

var (
	// ErrTimedOut means the report did not appear within the attempt ceiling.
	// The recording is not failed server-side; the caller should retry later.
	ErrTimedOut = errors.New("poller: report not ready yet, try again later")
	// ErrUnexpectedStatus is a non-retryable status the poller does not know.
	ErrUnexpectedStatus = errors.New("poller: unexpected processing status")
	// ErrProcessingFailed means the server gave up on the recording.
	ErrProcessingFailed = errors.New("poller: processing failed")
)

type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
	StateErrored   State = "errored"
)

// API is what the poller needs from the server.
type API interface {
	Referto(ctx context.Context, id string) (apiclient.Referto, error)
	Process(ctx context.Context, id string) (apiclient.ProcessResult, error)
}

type Config struct {
	Interval    time.Duration
	MaxAttempts int
	// RequestTimeout bounds each status read. A read that runs out counts as
	// a failed attempt. Defaults to Interval.
	RequestTimeout time.Duration
	// OnAttempt, when set, observes every poll.
	OnAttempt func(attempt int, status string, err error)
}

// Outcome is where a Poll ended.
type Outcome struct {
	State     State
	Attempts  int
	Triggered bool
	Result    apiclient.Referto
}

type Poller struct {
	api   API
	cfg   Config
	log   *slog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

func New(api API, cfg Config, log *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = cfg.Interval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{api: api, cfg: cfg, log: log, sleep: sleepCtx}
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

// Poll reads the report status until it is completed, the attempt ceiling is
// reached, or ctx is cancelled. On the first poll of a pending recording it
// fires one processing request in the background; that request's failure is
// logged and does not stop polling. Transport errors, reads that exceed
// RequestTimeout and 5xx count as pending;
// other 4xx answers end the poll.
func (p *Poller) Poll(ctx context.Context, id string) (Outcome, error) {
	out := Outcome{State: StatePolling}
	log := p.log.With("recording_id", id)

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		out.Attempts = attempt + 1
		res, err := p.read(ctx, id)
		if p.cfg.OnAttempt != nil {
			p.cfg.OnAttempt(attempt, res.ProcessingStatus, err)
		}
		if err != nil {
			if ctx.Err() != nil {
				out.State = StateIdle
				return out, ctx.Err()
			}
			if permanent(err) {
				out.State = StateErrored
				return out, err
			}
			log.Warn("poll failed, retrying", "attempt", attempt, "err", err)
		} else {
			out.Result = res
			switch res.ProcessingStatus {
			case "completed":
				if res.HasReport() {
					out.State = StateCompleted
					return out, nil
				}
			case "pending":
				if attempt == 0 && !out.Triggered {
					out.Triggered = true
					p.trigger(ctx, id, log)
				}
			case "processing":
			case "failed":
				out.State = StateErrored
				return out, fmt.Errorf("%w: %s", ErrProcessingFailed, res.ProcessingError)
			default:
				out.State = StateErrored
				return out, fmt.Errorf("%w: %q", ErrUnexpectedStatus, res.ProcessingStatus)
			}
		}

		if attempt+1 == p.cfg.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, p.cfg.Interval); err != nil {
			out.State = StateIdle
			return out, err
		}
	}
	out.State = StateTimedOut
	return out, ErrTimedOut
}

func (p *Poller) read(ctx context.Context, id string) (apiclient.Referto, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	return p.api.Referto(ctx, id)
}

// permanent reports client errors that no amount of retrying will fix.
// Anything else, including network failures and 5xx, counts as pending.
func permanent(err error) bool {
	var ae *apiclient.APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return ae.StatusCode >= 400 && ae.StatusCode < 500
}

func (p *Poller) trigger(ctx context.Context, id string, log *slog.Logger) {
	go func() {
		if _, err := p.api.Process(ctx, id); err != nil {
			log.Warn("processing trigger failed", "err", err)
			return
		}
		log.Debug("processing trigger finished")
	}()
}

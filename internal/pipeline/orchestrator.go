// Package pipeline runs a recording through transcription, structured report
// generation and tooth chart extraction, and persists the outputs atomically.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"medical-ai-platform/internal/ai"
	"medical-ai-platform/internal/audiostore"
	"medical-ai-platform/internal/audit"
	"medical-ai-platform/internal/prompts"
	"medical-ai-platform/internal/recordings"
	"medical-ai-platform/internal/referto"
	"medical-ai-platform/pkg/logger"
	"medical-ai-platform/pkg/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// maxReasonBytes caps the processing_error stored on a released recording.
const maxReasonBytes = 500

// Store is the subset of recordings.Repository the pipeline writes through.
type Store interface {
	Get(ctx context.Context, id string) (recordings.Recording, error)
	Claim(ctx context.Context, id string, staleBefore time.Time) (recordings.Recording, error)
	Complete(ctx context.Context, id string, out recordings.Outputs) (recordings.Recording, error)
	Release(ctx context.Context, id string, status recordings.ProcessingStatus, reason string) error
}

type Config struct {
	ReportModel string
	ChartModel  string

	TranscriptionTimeout time.Duration
	ReportTimeout        time.Duration
	ChartTimeout         time.Duration
	// RunTimeout bounds a whole run, independent of the triggering request.
	RunTimeout time.Duration
	// StaleAfter lets a new run take over a processing claim older than this.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReportModel == "" {
		c.ReportModel = "gpt-4o"
	}
	if c.ChartModel == "" {
		c.ChartModel = "gpt-4o-mini"
	}
	if c.TranscriptionTimeout <= 0 {
		c.TranscriptionTimeout = 5 * time.Minute
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = 2 * time.Minute
	}
	if c.ChartTimeout <= 0 {
		c.ChartTimeout = 45 * time.Second
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 10 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Guard and Audit are optional.
type Deps struct {
	Store       Store
	Audio       audiostore.Store
	Transcriber ai.Transcriber
	Generator   ai.Generator
	Guard       Guard
	Audit       recordings.Auditor
}

type Orchestrator struct {
	store       Store
	audio       audiostore.Store
	transcriber ai.Transcriber
	generator   ai.Generator
	guard       Guard
	audit       recordings.Auditor
	cfg         Config

	group  singleflight.Group
	tracer trace.Tracer
	now    func() time.Time
}

func New(d Deps, cfg Config) *Orchestrator {
	g := d.Guard
	if g == nil {
		g = NopGuard{}
	}
	return &Orchestrator{
		store:       d.Store,
		audio:       d.Audio,
		transcriber: d.Transcriber,
		generator:   d.Generator,
		guard:       g,
		audit:       d.Audit,
		cfg:         cfg.withDefaults(),
		tracer:      otel.Tracer("medical-ai-platform/pipeline"),
		now:         time.Now,
	}
}

// Result is a completed run.
type Result struct {
	Recording recordings.Recording
	Report    referto.Report
	Chart     referto.Chart
	// ChartFallback is set when extraction failed and an empty chart was stored.
	ChartFallback bool
}

// Process runs the pipeline for one recording and returns once its outputs
// are persisted. Concurrent calls for the same id in this process share a
// single run. The run is detached from ctx cancellation and bounded by
// Config.RunTimeout, so a disconnecting client does not abort a paid call.
func (o *Orchestrator) Process(ctx context.Context, id string) (Result, error) {
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := o.group.Do(id, func() (any, error) {
		return o.run(runCtx, id)
	})
	if shared {
		logger.From(ctx).Debug("pipeline run shared", "recording_id", id)
	}
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (o *Orchestrator) run(ctx context.Context, id string) (res Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(attribute.String("recording.id", id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		span.End()
	}()
	log := logger.From(ctx).With("recording_id", id)
	ctx = logger.With(ctx, log)
	started := o.now()

	// Fetched
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(rec.DoctorName) == "" {
		return Result{}, ErrDoctorNameRequired
	}
	span.SetAttributes(
		attribute.String("studio.id", rec.StudioID),
		attribute.String("visit.type", string(rec.VisitType)),
	)

	release, err := o.guard.Acquire(ctx, rec.StudioID, rec.ID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	rec, err = o.store.Claim(ctx, id, o.now().Add(-o.cfg.StaleAfter))
	if err != nil {
		return Result{}, err
	}
	log.Info("pipeline claimed", "stage", "fetched", "visit_type", rec.VisitType)

	// AudioVerified
	audio, err := o.loadAudio(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrMissingAudio) {
			return Result{}, o.fail(ctx, rec, "audio", recordings.ProcessingFailed, err)
		}
		return Result{}, o.fail(ctx, rec, "audio", recordings.ProcessingPending, err)
	}

	// Transcribed
	transcript, err := o.transcribe(ctx, audio)
	if err != nil {
		return Result{}, o.fail(ctx, rec, "transcription", recordings.ProcessingPending, err)
	}

	// ReportGenerated
	report, err := o.generateReport(ctx, rec, transcript)
	if err != nil {
		return Result{}, o.fail(ctx, rec, "report", recordings.ProcessingPending, err)
	}

	// ChartExtracted
	chart, fallback := o.extractChart(ctx, &report)
	report.Chart = nil

	// Persisted
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return Result{}, o.fail(ctx, rec, "persist", recordings.ProcessingPending, err)
	}
	chartJSON, err := json.Marshal(chart)
	if err != nil {
		return Result{}, o.fail(ctx, rec, "persist", recordings.ProcessingPending, err)
	}
	stageStart := o.now()
	done, err := o.store.Complete(ctx, id, recordings.Outputs{
		Transcript: transcript,
		Report:     reportJSON,
		Chart:      chartJSON,
	})
	if err != nil {
		return Result{}, o.fail(ctx, rec, "persist", recordings.ProcessingPending, err)
	}
	o.stageDone(ctx, "persisted", stageStart)

	total := o.now().Sub(started)
	log.Info("pipeline completed", "duration_ms", total.Milliseconds(), "chart_fallback", fallback)
	o.record(ctx, done, audit.EventRecordingProcessed, "pipeline completed", map[string]any{
		"duration_ms":       total.Milliseconds(),
		"transcript_chars":  len(transcript),
		"chart_fallback":    fallback,
		"sections_complete": report.Validation.ClinicalSectionsComplete,
	})
	return Result{Recording: done, Report: report, Chart: chart, ChartFallback: fallback}, nil
}

func (o *Orchestrator) loadAudio(ctx context.Context, rec recordings.Recording) ([]byte, error) {
	if rec.AudioURL == "" {
		return nil, ErrMissingAudio
	}
	ok, err := o.audio.Exists(ctx, rec.AudioURL)
	if err != nil {
		if errors.Is(err, audiostore.ErrInvalidRef) {
			return nil, fmt.Errorf("%w: %v", ErrMissingAudio, err)
		}
		return nil, fmt.Errorf("pipeline: audio check: %w", err)
	}
	if !ok {
		return nil, ErrMissingAudio
	}
	rc, err := o.audio.Open(ctx, rec.AudioURL)
	if err != nil {
		if errors.Is(err, audiostore.ErrNotFound) {
			return nil, ErrMissingAudio
		}
		return nil, fmt.Errorf("pipeline: open audio: %w", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read audio: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty audio file", ErrMissingAudio)
	}
	return b, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, audio []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.TranscriptionTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "pipeline.transcribe", trace.WithAttributes(attribute.Int("audio.bytes", len(audio))))
	defer span.End()
	start := o.now()

	text, err := o.transcriber.Transcribe(ctx, audio)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ai.ErrEmptyOutput
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "transcription failed")
		return "", fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	o.stageDone(ctx, "transcribed", start, "transcript_chars", len(text))
	return strings.TrimSpace(text), nil
}

func (o *Orchestrator) generateReport(ctx context.Context, rec recordings.Recording, transcript string) (referto.Report, error) {
	system, err := prompts.ReportSystem(string(rec.VisitType))
	if err != nil {
		return referto.Report{}, fmt.Errorf("%w: %v", ErrReportGeneration, err)
	}
	visitDate := rec.CreatedAt.Format("02/01/2006")

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ReportTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "pipeline.report", trace.WithAttributes(attribute.String("ai.model", o.cfg.ReportModel)))
	defer span.End()
	start := o.now()

	raw, err := o.generator.GenerateJSON(ctx, ai.JSONRequest{
		Model:       o.cfg.ReportModel,
		System:      system,
		User:        prompts.ReportUser(transcript, rec.DoctorName, visitDate),
		SchemaName:  "referto",
		Schema:      referto.ReportJSONSchema(),
		Temperature: 0.2,
		MaxTokens:   4096,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "generation failed")
		return referto.Report{}, fmt.Errorf("%w: %v", ErrReportGeneration, err)
	}
	report, err := referto.Decode(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "malformed report")
		return referto.Report{}, fmt.Errorf("%w: %v", ErrReportGeneration, err)
	}

	report.Header.Clinician = rec.DoctorName
	referto.Normalize(&report, referto.Header{Date: visitDate, Clinician: rec.DoctorName})
	o.stageDone(ctx, "report_generated", start, "warnings", len(report.Validation.Warnings))
	return report, nil
}

// extractChart reuses the chart embedded in the report when it covers the
// report's findings, and otherwise asks the model for a chart. Failures yield
// an empty chart and a validation warning; they never fail the run.
func (o *Orchestrator) extractChart(ctx context.Context, report *referto.Report) (referto.Chart, bool) {
	log := logger.From(ctx)
	if report.Chart.HasCategories() && (report.Chart.ChartedTeeth() > 0 || len(report.ReferencedTeeth()) == 0) {
		c := *report.Chart
		c.Normalize()
		log.Info("pipeline stage", "stage", "chart_extracted", "source", "embedded")
		return c, false
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ChartTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "pipeline.chart", trace.WithAttributes(attribute.String("ai.model", o.cfg.ChartModel)))
	defer span.End()
	start := o.now()

	chart, err := o.requestChart(ctx, report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "chart extraction failed")
		log.Warn("chart extraction failed, using empty chart", "err", err)
		report.AddWarning("Odontogramma non disponibile: estrazione automatica non riuscita")
		return referto.EmptyChart(), true
	}
	o.stageDone(ctx, "chart_extracted", start, "source", "model", "teeth", chart.ChartedTeeth())
	return chart, false
}

func (o *Orchestrator) requestChart(ctx context.Context, report *referto.Report) (referto.Chart, error) {
	stripped := *report
	stripped.Chart = nil
	reportJSON, err := json.Marshal(stripped)
	if err != nil {
		return referto.Chart{}, err
	}
	raw, err := o.generator.GenerateJSON(ctx, ai.JSONRequest{
		Model:       o.cfg.ChartModel,
		System:      prompts.ChartSystem(),
		User:        prompts.ChartUser(reportJSON),
		SchemaName:  "odontogramma",
		Schema:      referto.ChartJSONSchema(),
		Temperature: 0.1,
		MaxTokens:   2048,
	})
	if err != nil {
		return referto.Chart{}, err
	}
	return referto.DecodeChart(raw)
}

// fail ends a run that could not complete. The claim is released on a
// detached context so that a timed-out run still leaves the row re-triggerable.
func (o *Orchestrator) fail(ctx context.Context, rec recordings.Recording, stage string, status recordings.ProcessingStatus, cause error) error {
	log := logger.From(ctx)
	reason := utils.Truncate(stage+": "+cause.Error(), maxReasonBytes)
	err := detached(ctx, func(c context.Context) error {
		return o.store.Release(c, rec.ID, status, reason)
	})
	if err != nil {
		log.Error("pipeline release failed", "stage", stage, "err", err)
	}
	log.Error("pipeline failed", "stage", stage, "status", string(status), "err", cause)
	o.record(ctx, rec, audit.EventRecordingProcessFailed, reason, map[string]any{"stage": stage, "status": string(status)})
	return cause
}

func (o *Orchestrator) stageDone(ctx context.Context, stage string, start time.Time, attrs ...any) {
	args := append([]any{"stage", stage, "duration_ms", o.now().Sub(start).Milliseconds()}, attrs...)
	logger.From(ctx).Info("pipeline stage", args...)
}

func (o *Orchestrator) record(ctx context.Context, rec recordings.Recording, typ audit.EventType, msg string, meta map[string]any) {
	if o.audit == nil {
		return
	}
	o.audit.Record(ctx, rec.StudioID, rec.ID, typ, msg, meta)
}

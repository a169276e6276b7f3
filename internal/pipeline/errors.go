package pipeline

import (
	"errors"

	"medical-ai-platform/internal/recordings"
)

var (
	// ErrMissingAudio is fatal: there is nothing to transcribe. The recording is marked failed.
	ErrMissingAudio = errors.New("pipeline: audio file missing")
	// ErrTranscription and ErrReportGeneration end the run; the recording is
	// released back to pending so it can be triggered again.
	ErrTranscription    = errors.New("pipeline: transcription failed")
	ErrReportGeneration = errors.New("pipeline: report generation failed")

	ErrDoctorNameRequired = errors.New("pipeline: doctor name is required before processing")
	ErrBusy               = errors.New("pipeline: studio processing capacity reached")
	ErrAlreadyProcessing  = recordings.ErrAlreadyProcessing
)

package httpapi

import (
	"errors"
	"net/http"

	"medical-ai-platform/internal/audiostore"
	"medical-ai-platform/internal/pipeline"
	"medical-ai-platform/internal/recordings"
	"medical-ai-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// writeError maps domain errors onto status codes. Unknown errors are
// attached to the gin context, so the request log carries them, and answered
// with a generic 500.
func writeError(c *gin.Context, err error) {
	var verr *recordings.ValidationError
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "code": "validation_error", "field": verr.Field})
	case errors.Is(err, pipeline.ErrDoctorNameRequired):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error", "field": "doctor_name"})
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
	case errors.Is(err, recordings.ErrNotFound), errors.Is(err, audiostore.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found", "code": "not_found"})
	case errors.Is(err, pipeline.ErrMissingAudio):
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "missing_audio"})
	case errors.Is(err, pipeline.ErrTranscription):
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "transcription failed", "code": "transcription_error"})
	case errors.Is(err, pipeline.ErrReportGeneration):
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "report generation failed", "code": "report_generation_error"})
	case errors.Is(err, pipeline.ErrBusy):
		c.Header("Retry-After", "30")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "code": "busy"})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

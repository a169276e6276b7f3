package httpapi

import (
	"context"
	"net/http"
	"time"

	"medical-ai-platform/internal/audiostore"
	"medical-ai-platform/internal/auth"
	"medical-ai-platform/internal/pipeline"
	"medical-ai-platform/internal/rbac"
	"medical-ai-platform/internal/recordings"
	"medical-ai-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Processor runs the AI pipeline for one recording.
type Processor interface {
	Process(ctx context.Context, id string) (pipeline.Result, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth       *auth.Manager
	Recordings *recordings.Service
	Pipeline   Processor
	Reporting  *reporting.Service
	Audio      audiostore.Store

	// MaxUpload caps request bodies carrying audio. Zero means 50 MiB.
	MaxUpload int64
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) Readyz(c *gin.Context) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := h.Ready(ctx); err != nil {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	StudioID string `json:"studio_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: identity is asserted by the caller; this endpoint is only mounted
// outside production, where the studio app's identity provider issues tokens.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.StudioID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, studio_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), auth.Identity{UserID: req.UserID, StudioID: req.StudioID, Role: req.Role})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new pair.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Me echoes the caller identity carried by the access token.
func (h Handlers) Me(c *gin.Context) {
	id, _ := auth.IdentityFrom(c.Request.Context())
	c.JSON(http.StatusOK, id)
}

// --- Catalog ---

type visitTypeView struct {
	ID          recordings.VisitType `json:"id"`
	DisplayName string               `json:"display_name"`
}

func (h Handlers) VisitTypes(c *gin.Context) {
	out := make([]visitTypeView, 0, len(recordings.VisitTypes()))
	for _, vt := range recordings.VisitTypes() {
		out = append(out, visitTypeView{ID: vt, DisplayName: vt.DisplayName()})
	}
	c.JSON(http.StatusOK, gin.H{"visit_types": out})
}

// Convenience middleware bundles.

func RequireStudioAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireStudio(), rbac.RequireAnyRole(roles...)}
}

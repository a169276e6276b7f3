package httpapi

import (
	"medical-ai-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts every endpoint on r. authMW must inject the caller identity
// (see auth.RequireAccessToken). devLogin mounts the token issuing endpoint.
func (h Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc, devLogin bool) {
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	api := r.Group("/api")
	api.GET("/visit-types", h.VisitTypes)

	authGroup := api.Group("/auth")
	{
		if devLogin {
			authGroup.POST("/login", h.Login)
		}
		authGroup.POST("/refresh", h.Refresh)
	}

	protected := api.Group("")
	protected.Use(authMW)
	protected.Use(RequireStudioAndAnyRole(rbac.ClinicalRoles()...)...)
	{
		protected.GET("/me", h.Me)

		recs := protected.Group("/recordings")
		recs.GET("", h.ListRecordings)
		recs.POST("", h.CreateRecording)
		recs.GET("/:id", h.GetRecording)
		recs.PUT("/:id", h.UpdateRecording)
		recs.DELETE("/:id", h.DeleteRecording)
		recs.POST("/:id/process", h.ProcessRecording)
		recs.GET("/:id/referto", h.GetReferto)

		// Owners and doctors only; assistants do not see studio activity.
		recs.GET("/summary", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleDoctor), h.StudioSummary)

		protected.GET("/uploads/recordings/:name", h.ServeAudio)
	}
}

// Package handler exposes the relay hub over gin: the WebSocket endpoint,
// the message REST API, presence lookups and health.
package handler

import (
	"log/slog"
	"net/http"

	"tutorhub/backend/internal/apperrors"
	"tutorhub/backend/internal/chathub"
	"tutorhub/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// Handler holds what the HTTP layer needs from the rest of the service.
type Handler struct {
	Hub    *chathub.ManagerService
	Auth   chathub.IdentityResolver
	Health *HealthChecker

	// AuthRequired rejects requests without a bearer token. Otherwise an
	// X-Identity header is trusted.
	AuthRequired bool

	logger *slog.Logger
}

func NewHandler(hub *chathub.ManagerService, resolver chathub.IdentityResolver, health *HealthChecker, authRequired bool) *Handler {
	return &Handler{
		Hub:          hub,
		Auth:         resolver,
		Health:       health,
		AuthRequired: authRequired,
		logger:       slog.Default().With("component", "http"),
	}
}

// RegisterRoutes mounts every endpoint on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.GetHealth)
	r.GET("/ws", h.ServeWebSocket)

	api := r.Group("/api", h.authenticate())
	{
		api.GET("/messages/:user1Id/:user2Id", h.GetHistory)
		api.POST("/messages", h.PostMessage)
		api.GET("/messages/conversations/:identity", h.GetCorrespondents)

		api.GET("/presence", h.ListOnline)
		api.GET("/presence/:identity", h.GetPresence)
	}
}

// abortWithError writes err in the same shape as the WebSocket error
// envelope.
func abortWithError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Default().Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": models.ErrorPayload{
		Code:    apperrors.GetCode(err),
		Kind:    string(apperrors.KindOf(err)),
		Message: apperrors.GetMessage(err),
	}})
}

package handler

import (
	"net/http"

	"tutorhub/backend/internal/apperrors"
	"tutorhub/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// GetPresence returns the presence record of an identity. Identities that
// were never seen are reported offline with no lastSeen.
func (h *Handler) GetPresence(c *gin.Context) {
	identity := c.Param("identity")
	if !models.ValidIdentity(identity) {
		abortWithError(c, apperrors.Validation("invalid identity %q", identity))
		return
	}

	rec, err := h.Hub.Presence(c.Request.Context(), identity)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if rec == nil {
		rec = &models.PresenceRecord{Identity: identity}
	}
	c.JSON(http.StatusOK, rec.StatusChanged())
}

// ListOnline returns every identity with a live session on this instance.
func (h *Handler) ListOnline(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": h.Hub.OnlineIdentities()})
}

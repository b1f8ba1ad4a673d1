package handler

import (
	"net/http"

	"tutorhub/backend/internal/apperrors"
	"tutorhub/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type sendMessageRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
	Text       string `json:"text" binding:"required"`
}

// GetHistory returns the conversation between two identities, oldest
// first. An authenticated caller may only read conversations they are
// part of.
func (h *Handler) GetHistory(c *gin.Context) {
	a, b := c.Param("user1Id"), c.Param("user2Id")
	if caller, ok := callerIdentity(c); ok && caller != a && caller != b {
		abortWithError(c, apperrors.ErrUnauthorized.WithMessage("not a participant of this conversation"))
		return
	}

	history, err := h.Hub.History(c.Request.Context(), a, b)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// PostMessage sends a message as the authenticated caller. It is
// persisted and broadcast exactly like a WebSocket send.
func (h *Handler) PostMessage(c *gin.Context) {
	sender, ok := callerIdentity(c)
	if !ok {
		abortWithError(c, apperrors.ErrUnauthorized.WithMessage("sender identity required"))
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.ErrValidation.Wrap(err).WithMessage("receiver_id and text are required"))
		return
	}

	msg, err := h.Hub.SendAs(c.Request.Context(), sender, req.ReceiverID, req.Text)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.NewMessageCreated(msg))
}

// GetCorrespondents lists identities that have sent messages to identity.
func (h *Handler) GetCorrespondents(c *gin.Context) {
	identity := c.Param("identity")
	if caller, ok := callerIdentity(c); ok && caller != identity {
		abortWithError(c, apperrors.ErrUnauthorized.WithMessage("cannot list another identity's conversations"))
		return
	}

	peers, err := h.Hub.Correspondents(c.Request.Context(), identity)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity, "correspondents": peers})
}

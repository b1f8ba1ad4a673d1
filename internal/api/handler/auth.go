package handler

import (
	"tutorhub/backend/internal/apperrors"
	"tutorhub/backend/internal/auth"
	"tutorhub/backend/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	identityKey    = "identity"
	identityHeader = "X-Identity"
)

// authenticate resolves the caller's identity from the bearer token and
// stores it on the context. Without a token the X-Identity header is used
// unless authentication is required.
func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := auth.BearerToken(c.GetHeader("Authorization")); token != "" {
			if h.Auth == nil {
				abortWithError(c, apperrors.ErrAuth.WithMessage("token authentication is not configured"))
				return
			}
			identity, err := h.Auth.ResolveIdentity(token)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.Set(identityKey, identity)
			c.Next()
			return
		}

		if h.AuthRequired {
			abortWithError(c, apperrors.ErrAuth.WithMessage("authorization token missing"))
			return
		}
		if identity := c.GetHeader(identityHeader); identity != "" {
			if !models.ValidIdentity(identity) {
				abortWithError(c, apperrors.Validation("invalid identity %q", identity))
				return
			}
			c.Set(identityKey, identity)
		}
		c.Next()
	}
}

// callerIdentity returns the identity authenticate resolved, if any.
func callerIdentity(c *gin.Context) (string, bool) {
	identity := c.GetString(identityKey)
	return identity, identity != ""
}

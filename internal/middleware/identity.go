package middleware

import (
	"net/http"

	"salon_backend/internal/logger"
	modelChat "salon_backend/internal/models/chat"
	"salon_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

// Заголовки, которые проставляет шлюз аутентификации перед сервисом.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderUserRole  = "X-User-Role"
	HeaderGroupID   = "X-Group-ID"
	HeaderGroupName = "X-Group-Name"

	identityKey = "identity"
)

// IdentityMiddleware собирает chat.Identity из заголовков шлюза.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := identityFromHeaders(c.Request.Header)
		if err != nil {
			apperrors.HandleError(c, err)
			c.Abort()
			return
		}

		ctx := logger.WithUserID(c.Request.Context(), ident.ID)
		if ident.GroupID != "" {
			ctx = logger.WithGroupID(ctx, ident.GroupID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(identityKey, ident)
		c.Next()
	}
}

func identityFromHeaders(h http.Header) (modelChat.Identity, error) {
	ident := modelChat.Identity{
		ID:          h.Get(HeaderUserID),
		DisplayName: h.Get(HeaderUserName),
		Role:        modelChat.SenderRole(h.Get(HeaderUserRole)),
		GroupID:     h.Get(HeaderGroupID),
		GroupName:   h.Get(HeaderGroupName),
	}
	if ident.ID == "" {
		return ident, apperrors.NewUnauthorizedError("missing " + HeaderUserID)
	}
	if !ident.Role.Valid() {
		return ident, apperrors.NewUnauthorizedError("unknown role " + string(ident.Role))
	}
	if ident.Role == modelChat.RoleBranchAdmin && ident.GroupID == "" {
		return ident, apperrors.NewUnauthorizedError("branch staff without " + HeaderGroupID)
	}
	return ident, nil
}

// GetIdentity достаёт участника, сохранённого IdentityMiddleware.
func GetIdentity(c *gin.Context) (modelChat.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return modelChat.Identity{}, false
	}
	ident, ok := v.(modelChat.Identity)
	return ident, ok
}

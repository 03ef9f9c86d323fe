package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatbot-app/internal/auth"
	"chatbot-app/internal/workspace"
)

const (
	sessionCookie = "chat_session"
	workspaceKey  = "workspace"
	sessionIDKey  = "session_id"
)

// SessionMiddleware resuelve la cookie de sesión a su workspace.
// Las rutas de API responden 401; las páginas redirigen a /sign-in.
func SessionMiddleware(registry *workspace.Registry, logger *zap.Logger, api bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(sessionCookie)
		ws, err := registry.Get(c.Request.Context(), id)
		if err != nil {
			if !errors.Is(err, auth.ErrNotAuthenticated) {
				logger.Warn("workspace lookup failed", zap.Error(err))
			}
			if api {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
				return
			}
			c.Redirect(http.StatusFound, "/sign-in")
			c.Abort()
			return
		}

		c.Set(workspaceKey, ws)
		c.Set(sessionIDKey, id)
		c.Next()
	}
}

// GetWorkspace obtiene el workspace resuelto por SessionMiddleware.
func GetWorkspace(c *gin.Context) (*workspace.Workspace, bool) {
	val, ok := c.Get(workspaceKey)
	if !ok {
		return nil, false
	}
	ws, ok := val.(*workspace.Workspace)
	return ws, ok
}

func setSessionCookie(c *gin.Context, id string, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, id, int(auth.DefaultSessionTTL.Seconds()), "/", "", secure, true)
}

func clearSessionCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, "", -1, "/", "", secure, true)
}

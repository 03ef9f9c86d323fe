package http

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatbot-app/internal/service"
	"chatbot-app/internal/workspace"
)

//go:embed templates/*.html
var templateFS embed.FS

// RouterDeps agrupa lo que necesitan las rutas.
type RouterDeps struct {
	Registry *workspace.Registry
	Auth     *AuthHandler
	Chat     *ChatHandler
	Action   *ActionHandler

	// ActionJWT valida el bearer reenviado por Hasura; sin secreto configurado no se exige.
	ActionJWT    *service.JWTService
	ActionSecret string
}

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(logger *zap.Logger, deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))

	// Middlewares basicos: logging y recovery.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/sign-in", deps.Auth.SignInPage)
	r.POST("/sign-in", deps.Auth.SignIn)
	r.GET("/sign-up", deps.Auth.SignUpPage)
	r.POST("/sign-up", deps.Auth.SignUp)
	r.POST("/sign-out", deps.Auth.SignOut)

	r.GET("/", SessionMiddleware(deps.Registry, logger, false), deps.Chat.Index)

	api := r.Group("/api", SessionMiddleware(deps.Registry, logger, true))
	api.GET("/stream", deps.Chat.Stream)

	// El stream es un upgrade; el resto de la API es JSON.
	jsonAPI := api.Group("", jsonContentTypeMiddleware())
	jsonAPI.GET("/chats", deps.Chat.ListChats)
	jsonAPI.POST("/chats", deps.Chat.CreateChat)
	jsonAPI.PUT("/selection", deps.Chat.Select)
	jsonAPI.GET("/chats/:id/messages", deps.Chat.Messages)
	jsonAPI.POST("/chats/:id/messages", deps.Chat.SendMessage)

	if deps.Action != nil {
		actions := r.Group("/actions", jsonContentTypeMiddleware(), ActionSecretMiddleware(deps.ActionSecret))
		if deps.ActionJWT.Configured() {
			actions.Use(JWTAuthMiddleware(deps.ActionJWT))
		}
		actions.POST("/send-message", deps.Action.SendMessage)
	}

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}

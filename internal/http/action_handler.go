package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatbot-app/internal/bot"
	"chatbot-app/internal/domain"
	"chatbot-app/internal/repository"
	"chatbot-app/internal/service"
)

// ReplyStore devuelve dónde guardar la respuesta del bot para userID; nil no la guarda.
type ReplyStore func(userID string) repository.MessageRepository

// ActionHandler atiende la acción sendMessage que Hasura reenvía a este servicio.
type ActionHandler struct {
	logger  *zap.Logger
	bot     bot.Client
	replies ReplyStore
}

func NewActionHandler(logger *zap.Logger, client bot.Client, replies ReplyStore) *ActionHandler {
	return &ActionHandler{logger: logger, bot: client, replies: replies}
}

type actionPayload struct {
	Action struct {
		Name string `json:"name"`
	} `json:"action"`
	Input struct {
		ChatID  string `json:"chat_id"`
		Message string `json:"message"`
	} `json:"input"`
	SessionVariables map[string]string `json:"session_variables"`
}

// SendMessage maneja POST /actions/send-message. Las fallas del webhook se informan con
// success=false y status 200 para que el cliente escriba el mensaje de fallback.
func (h *ActionHandler) SendMessage(c *gin.Context) {
	var req actionPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid action payload"})
		return
	}
	chatID := strings.TrimSpace(req.Input.ChatID)
	message := strings.TrimSpace(req.Input.Message)
	if chatID == "" || message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "chat_id and message are required"})
		return
	}

	userID := sessionUserID(req.SessionVariables)
	if claims, ok := GetAuthClaims(c); ok {
		if userID != "" && userID != claims.UserID() {
			c.JSON(http.StatusForbidden, gin.H{"message": "session does not match token"})
			return
		}
		userID = claims.UserID()
	}

	var replies repository.MessageRepository
	if h.replies != nil && userID != "" {
		replies = h.replies(userID)
	}

	delegation := service.NewLocalDelegation(h.bot, replies, userID, h.logger)
	result, err := delegation.Delegate(c.Request.Context(), chatID, message)
	if err != nil {
		h.logger.Error("action reply persist failed", zap.String("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusOK, domain.ActionResult{Success: false, Message: "could not store reply"})
		return
	}
	if !result.Success {
		h.logger.Warn("action delegation failed", zap.String("chat_id", chatID), zap.String("reason", result.Message))
	}
	c.JSON(http.StatusOK, result)
}

func sessionUserID(vars map[string]string) string {
	for k, v := range vars {
		if strings.EqualFold(k, "x-hasura-user-id") {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ActionSecretMiddleware exige el header X-Action-Secret configurado en la acción de Hasura.
func ActionSecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"message": "action secret not configured"})
			return
		}
		got := c.GetHeader("X-Action-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid action secret"})
			return
		}
		c.Next()
	}
}

package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// ChatHandler expone el workspace del usuario: página, API JSON y stream.
type ChatHandler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewChatHandler(logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Index maneja GET /.
func (h *ChatHandler) Index(c *gin.Context) {
	ws, _ := GetWorkspace(c)
	c.HTML(http.StatusOK, "chat.html", gin.H{"user": ws.User()})
}

// ListChats maneja GET /api/chats.
func (h *ChatHandler) ListChats(c *gin.Context) {
	ws, _ := GetWorkspace(c)
	state := ws.State()
	c.JSON(http.StatusOK, gin.H{"chats": state.Chats, "selected_id": state.SelectedID})
}

// CreateChat maneja POST /api/chats. El chat nuevo queda seleccionado.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	ws, _ := GetWorkspace(c)
	chat, err := ws.CreateChat(c.Request.Context())
	if err != nil {
		h.logger.Error("create chat failed", zap.String("user_id", ws.User().ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not create chat"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"chat": chat})
}

// Select maneja PUT /api/selection.
func (h *ChatHandler) Select(c *gin.Context) {
	var req struct {
		ChatID string `json:"chat_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ws, _ := GetWorkspace(c)
	ws.Select(req.ChatID)
	c.JSON(http.StatusOK, gin.H{"transcript": ws.State().Transcript})
}

// Messages maneja GET /api/chats/:id/messages; selecciona el chat si no lo estaba.
func (h *ChatHandler) Messages(c *gin.Context) {
	ws, _ := GetWorkspace(c)
	ws.Select(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"transcript": ws.State().Transcript})
}

// SendMessage maneja POST /api/chats/:id/messages. El flujo corre en segundo plano y
// su progreso llega por el stream.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ws, _ := GetWorkspace(c)
	ws.Select(c.Param("id"))
	if !ws.Send(req.Content) {
		c.JSON(http.StatusConflict, gin.H{"error": "no chat selected"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sending"})
}

// Stream maneja GET /api/stream: envía el estado completo del workspace en cada cambio.
func (h *ChatHandler) Stream(c *gin.Context) {
	ws, _ := GetWorkspace(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	changes, stop := ws.Watch()
	defer stop()

	// El cliente no manda nada; leer detecta el cierre y procesa los pongs.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	write := func() bool {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(ws.State()); err != nil {
			h.logger.Debug("stream write failed", zap.Error(err))
			return false
		}
		return true
	}
	if !write() {
		return
	}

	for {
		select {
		case _, ok := <-changes:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "signed out"), time.Now().Add(time.Second))
				return
			}
			if !write() {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

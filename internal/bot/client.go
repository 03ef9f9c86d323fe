package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("bot webhook not configured")
	ErrEmptyReply    = errors.New("bot returned an empty reply")
)

// Client genera la respuesta del bot para un mensaje de chat.
type Client interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// Request es el cuerpo que recibe el workflow de n8n.
type Request struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

// WebhookClient implementa Client llamando al webhook de un workflow n8n.
type WebhookClient struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookClient construye el cliente; timeout <= 0 usa 60s.
func NewWebhookClient(url string, timeout time.Duration, logger *zap.Logger) *WebhookClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookClient{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *WebhookClient) Reply(ctx context.Context, in Request) (string, error) {
	if c.url == "" {
		return "", ErrNotConfigured
	}

	bodyBytes, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.logger.Warn("bot webhook error",
			zap.Int("status", resp.StatusCode),
			zap.String("chat_id", in.ChatID),
			zap.String("body", truncate(string(respBody), 512)),
		)
		return "", fmt.Errorf("bot webhook http error: status=%d", resp.StatusCode)
	}

	reply, err := parseReply(respBody)
	if err != nil {
		return "", err
	}
	return reply, nil
}

type replyPayload struct {
	Response string `json:"response"`
	Output   string `json:"output"`
	Text     string `json:"text"`
}

func (p replyPayload) text() string {
	for _, s := range []string{p.Response, p.Output, p.Text} {
		if strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// parseReply acepta las formas que devuelve n8n: objeto, lista de items o texto plano.
func parseReply(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", ErrEmptyReply
	}

	switch trimmed[0] {
	case '{':
		var p replyPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return "", fmt.Errorf("unmarshal response: %w", err)
		}
		if t := p.text(); t != "" {
			return t, nil
		}
		return "", ErrEmptyReply
	case '[':
		var items []replyPayload
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return "", fmt.Errorf("unmarshal response: %w", err)
		}
		if len(items) > 0 {
			if t := items[0].text(); t != "" {
				return t, nil
			}
		}
		return "", ErrEmptyReply
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("unmarshal response: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return "", ErrEmptyReply
		}
		return strings.TrimSpace(s), nil
	}
	return string(trimmed), nil
}

// truncate corta a lo sumo n bytes sin partir una runa.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

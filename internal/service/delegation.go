package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"chatbot-app/internal/bot"
	"chatbot-app/internal/domain"
	"chatbot-app/internal/graphql"
	"chatbot-app/internal/repository"
)

var ErrDelegationFailed = errors.New("bot delegation failed")

// Delegator pide la respuesta del bot para un mensaje ya guardado.
type Delegator interface {
	Delegate(ctx context.Context, chatID, content string) (domain.ActionResult, error)
}

// HasuraDelegation invoca la acción sendMessage; el handler de la acción llama a n8n
// y escribe la respuesta, que llega al cliente por el canal de sincronización.
type HasuraDelegation struct {
	client *graphql.Client
}

func NewHasuraDelegation(client *graphql.Client) *HasuraDelegation {
	return &HasuraDelegation{client: client}
}

func (d *HasuraDelegation) Delegate(ctx context.Context, chatID, content string) (domain.ActionResult, error) {
	var out struct {
		SendMessage *domain.ActionResult `json:"sendMessage"`
	}
	err := d.client.Do(ctx, graphql.Request{
		Query:         repository.SendMessageActionMutation,
		Variables:     map[string]any{"chatId": chatID, "message": content},
		OperationName: "SendMessageAction",
	}, &out)
	if err != nil {
		return domain.ActionResult{}, err
	}
	if out.SendMessage == nil {
		return domain.ActionResult{Success: false, Message: "empty action result"}, nil
	}
	return *out.SendMessage, nil
}

// LocalDelegation llama al webhook en proceso y, si tiene repositorio, guarda la respuesta
// como mensaje del bot. Lo usan el backend postgres y el handler de la acción.
type LocalDelegation struct {
	bot     bot.Client
	replies repository.MessageRepository
	userID  string
	logger  *zap.Logger
}

// NewLocalDelegation construye la delegación; replies nil no persiste la respuesta.
func NewLocalDelegation(client bot.Client, replies repository.MessageRepository, userID string, logger *zap.Logger) *LocalDelegation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalDelegation{bot: client, replies: replies, userID: userID, logger: logger}
}

// Delegate nunca devuelve error por fallas del webhook: las informa como Success=false.
func (d *LocalDelegation) Delegate(ctx context.Context, chatID, content string) (domain.ActionResult, error) {
	if d.bot == nil {
		return domain.ActionResult{Success: false, Message: bot.ErrNotConfigured.Error()}, nil
	}

	reply, err := d.bot.Reply(ctx, bot.Request{ChatID: chatID, Message: content, UserID: d.userID})
	if err != nil {
		d.logger.Warn("bot webhook failed", zap.String("chat_id", chatID), zap.Error(err))
		return domain.ActionResult{Success: false, Message: err.Error()}, nil
	}
	reply = strings.TrimSpace(reply)

	if d.replies != nil {
		if _, err := d.replies.Create(ctx, domain.NewMessage{ChatID: chatID, Content: reply, IsBot: true}); err != nil {
			d.logger.Warn("persist bot reply failed", zap.String("chat_id", chatID), zap.Error(err))
			return domain.ActionResult{}, err
		}
	}

	return domain.ActionResult{Success: true, Message: "ok", Response: reply}, nil
}

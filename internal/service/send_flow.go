package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatbot-app/internal/domain"
)

// FallbackMessage se guarda como mensaje del bot cuando la delegación falla.
const FallbackMessage = "⚠️ Sorry, I encountered an error. Please try again."

// SendObserver recibe los cambios visibles del flujo de envío.
type SendObserver interface {
	MessageAppended(msg domain.Message)
	ComposingChanged(chatID string, composing bool)
	StateChanged(chatID string, state domain.SendState)
}

type nopObserver struct{}

func (nopObserver) MessageAppended(domain.Message)        {}
func (nopObserver) ComposingChanged(string, bool)         {}
func (nopObserver) StateChanged(string, domain.SendState) {}

// SendResult resume una ejecución del flujo.
type SendResult struct {
	State       domain.SendState
	UserMessage *domain.Message
	Fallback    *domain.Message
	Reply       string
	Err         error
}

// SendFlow implementa la máquina de estados del envío:
// idle -> sending-user-message -> awaiting-bot -> settled | error.
type SendFlow struct {
	messages        *MessageService
	delegation      Delegator
	logger          *zap.Logger
	fallbackTimeout time.Duration
}

func NewSendFlow(messages *MessageService, delegation Delegator, logger *zap.Logger) *SendFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendFlow{
		messages:        messages,
		delegation:      delegation,
		logger:          logger,
		fallbackTimeout: 10 * time.Second,
	}
}

// Send ejecuta el flujo completo. Un chat vacío o un texto en blanco no hacen nada.
func (f *SendFlow) Send(ctx context.Context, chatID, content string, obs SendObserver) SendResult {
	if obs == nil {
		obs = nopObserver{}
	}
	chatID = strings.TrimSpace(chatID)
	text := strings.TrimSpace(content)
	if chatID == "" || text == "" {
		return SendResult{State: domain.SendIdle}
	}

	obs.StateChanged(chatID, domain.SendSendingUserMessage)
	appended, err := f.messages.Append(ctx, domain.NewMessage{ChatID: chatID, Content: text})
	if err != nil {
		f.logger.Warn("user message append failed", zap.String("chat_id", chatID), zap.Error(err))
		obs.StateChanged(chatID, domain.SendError)
		return SendResult{State: domain.SendError, Err: err}
	}
	userMsg := appended.Message
	obs.MessageAppended(userMsg)

	obs.StateChanged(chatID, domain.SendAwaitingBot)
	obs.ComposingChanged(chatID, true)

	result, err := f.delegate(ctx, chatID, text)
	if err == nil && result.Success {
		_ = f.messages.Touch(ctx, chatID)
		obs.ComposingChanged(chatID, false)
		obs.StateChanged(chatID, domain.SendSettled)
		return SendResult{State: domain.SendSettled, UserMessage: &userMsg, Reply: result.Response}
	}

	cause := err
	if cause == nil {
		cause = fmt.Errorf("%w: %s", ErrDelegationFailed, result.Message)
	} else {
		cause = fmt.Errorf("%w: %w", ErrDelegationFailed, err)
	}
	f.logger.Warn("bot delegation failed", zap.String("chat_id", chatID), zap.Error(cause))

	obs.ComposingChanged(chatID, false)
	out := SendResult{State: domain.SendError, UserMessage: &userMsg, Err: cause}

	// El fallback se escribe aunque el contexto de la request ya haya vencido.
	fbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.fallbackTimeout)
	defer cancel()
	fb, err := f.messages.Append(fbCtx, domain.NewMessage{ChatID: chatID, Content: FallbackMessage, IsBot: true})
	if err != nil {
		f.logger.Error("fallback message append failed", zap.String("chat_id", chatID), zap.Error(err))
	} else {
		out.Fallback = &fb.Message
		obs.MessageAppended(fb.Message)
	}

	obs.StateChanged(chatID, domain.SendError)
	return out
}

func (f *SendFlow) delegate(ctx context.Context, chatID, text string) (domain.ActionResult, error) {
	if f.delegation == nil {
		return domain.ActionResult{Success: false, Message: "no delegation configured"}, nil
	}
	return f.delegation.Delegate(ctx, chatID, text)
}

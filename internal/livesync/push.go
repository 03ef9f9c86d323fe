package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"chatbot-app/internal/domain"
	"chatbot-app/internal/graphql"
	"chatbot-app/internal/repository"
)

// Subscriber abre una suscripción GraphQL; *graphql.Subscriber lo implementa.
type Subscriber interface {
	Subscribe(ctx context.Context, req graphql.Request) (<-chan graphql.Event, error)
}

// PushChannel usa una suscripción graphql-transport-ws por stream.
// Sin reintentos: un error de transporte llega como snapshot y termina el stream.
type PushChannel struct {
	subscriber Subscriber
	logger     *zap.Logger
	now        func() time.Time
}

func NewPushChannel(subscriber Subscriber, logger *zap.Logger) *PushChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushChannel{subscriber: subscriber, logger: logger, now: time.Now}
}

func (p *PushChannel) Messages(ctx context.Context, chatID string) *Subscription[[]domain.Message] {
	req := graphql.Request{
		Query:         repository.MessagesSubscription,
		Variables:     map[string]any{"chatId": chatID},
		OperationName: "MessagesSubscription",
	}
	decode := func(raw json.RawMessage) ([]domain.Message, error) {
		var payload repository.MessagesPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		return payload.Domain(chatID), nil
	}
	logger := p.logger.With(zap.String("stream", "messages"), zap.String("chat_id", chatID))
	return start(ctx, pushLoop(p.subscriber, req, decode, logger, p.now))
}

func (p *PushChannel) Chats(ctx context.Context) *Subscription[[]domain.Chat] {
	req := graphql.Request{Query: repository.ChatsSubscription, OperationName: "ChatsSubscription"}
	decode := func(raw json.RawMessage) ([]domain.Chat, error) {
		var payload repository.ChatsPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		return payload.Domain(), nil
	}
	return start(ctx, pushLoop(p.subscriber, req, decode, p.logger.With(zap.String("stream", "chats")), p.now))
}

func pushLoop[T any](
	subscriber Subscriber,
	req graphql.Request,
	decode func(json.RawMessage) (T, error),
	logger *zap.Logger,
	now func() time.Time,
) producer[T] {
	return func(ctx context.Context, emit func(Snapshot[T]) bool, refresh <-chan struct{}) {
		events, err := subscriber.Subscribe(ctx, req)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("subscription failed", zap.Error(err))
				emit(Snapshot[T]{Err: err, At: now()})
			}
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-refresh:
				// Con push el servidor ya envía cada cambio.
			case ev, ok := <-events:
				if !ok {
					return
				}
				snap := Snapshot[T]{At: now()}
				if ev.Err != nil {
					if errors.Is(ev.Err, graphql.ErrSubscriptionClosed) {
						logger.Info("subscription completed by server")
					} else {
						logger.Warn("subscription error", zap.Error(ev.Err))
					}
					snap.Err = ev.Err
				} else {
					data, err := decode(ev.Data)
					if err != nil {
						snap.Err = &graphql.Error{Kind: graphql.KindDecode, Err: err}
					} else {
						snap.Data = data
					}
				}
				if !emit(snap) {
					return
				}
			}
		}
	}
}

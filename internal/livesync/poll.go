package livesync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chatbot-app/internal/domain"
	"chatbot-app/internal/repository"
)

const (
	DefaultMessagesInterval = 3 * time.Second
	DefaultChatsInterval    = 5 * time.Second
)

// PollChannel vuelve a consultar los repositorios a intervalo fijo.
type PollChannel struct {
	chats         repository.ChatRepository
	messages      repository.MessageRepository
	messagesEvery time.Duration
	chatsEvery    time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewPollChannel(chats repository.ChatRepository, messages repository.MessageRepository, messagesEvery, chatsEvery time.Duration, logger *zap.Logger) *PollChannel {
	if messagesEvery <= 0 {
		messagesEvery = DefaultMessagesInterval
	}
	if chatsEvery <= 0 {
		chatsEvery = DefaultChatsInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollChannel{
		chats:         chats,
		messages:      messages,
		messagesEvery: messagesEvery,
		chatsEvery:    chatsEvery,
		logger:        logger,
		now:           time.Now,
	}
}

func (p *PollChannel) Messages(ctx context.Context, chatID string) *Subscription[[]domain.Message] {
	fetch := func(ctx context.Context) ([]domain.Message, error) {
		msgs, err := p.messages.ListByChatID(ctx, chatID)
		if err == nil {
			domain.SortMessages(msgs)
		}
		return msgs, err
	}
	var cached func() ([]domain.Message, bool)
	if c, ok := p.messages.(repository.CachedMessageLister); ok {
		cached = func() ([]domain.Message, bool) { return c.CachedByChatID(chatID) }
	}
	logger := p.logger.With(zap.String("stream", "messages"), zap.String("chat_id", chatID))
	return start(ctx, pollLoop(p.messagesEvery, fetch, cached, logger, p.now))
}

func (p *PollChannel) Chats(ctx context.Context) *Subscription[[]domain.Chat] {
	fetch := func(ctx context.Context) ([]domain.Chat, error) {
		chats, err := p.chats.List(ctx)
		if err == nil {
			domain.SortChats(chats)
		}
		return chats, err
	}
	var cached func() ([]domain.Chat, bool)
	if c, ok := p.chats.(repository.CachedChatLister); ok {
		cached = c.CachedList
	}
	return start(ctx, pollLoop(p.chatsEvery, fetch, cached, p.logger.With(zap.String("stream", "chats")), p.now))
}

func pollLoop[T any](
	interval time.Duration,
	fetch func(ctx context.Context) (T, error),
	cached func() (T, bool),
	logger *zap.Logger,
	now func() time.Time,
) producer[T] {
	return func(ctx context.Context, emit func(Snapshot[T]) bool, refresh <-chan struct{}) {
		if cached != nil {
			if data, ok := cached(); ok {
				if !emit(Snapshot[T]{Data: data, At: now(), Cached: true}) {
					return
				}
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			data, err := fetch(ctx)
			if ctx.Err() != nil {
				return
			}
			snap := Snapshot[T]{At: now()}
			if err != nil {
				logger.Warn("poll fetch failed", zap.Error(err))
				snap.Err = err
			} else {
				snap.Data = data
			}
			if !emit(snap) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-refresh:
			}
		}
	}
}

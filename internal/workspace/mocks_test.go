package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"chatbot-app/internal/domain"
	"chatbot-app/internal/livesync"
	"chatbot-app/internal/repository"
	"chatbot-app/internal/service"
)

// memBackend implementa los repositorios de chats y mensajes en memoria.
type memBackend struct {
	mu       sync.Mutex
	chats    map[string]domain.Chat
	messages map[string][]domain.Message
	seq      int
	base     time.Time
	touchErr error
	gates    map[string]chan struct{}
}

func newMemBackend() *memBackend {
	return &memBackend{
		chats:    make(map[string]domain.Chat),
		messages: make(map[string][]domain.Message),
		base:     time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		gates:    make(map[string]chan struct{}),
	}
}

func (b *memBackend) tick() time.Time {
	b.seq++
	return b.base.Add(time.Duration(b.seq) * time.Second)
}

func (b *memBackend) addChat(id, title string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	at := b.tick()
	b.chats[id] = domain.Chat{ID: id, Title: title, CreatedAt: at, UpdatedAt: at}
}

func (b *memBackend) gate(chatID string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	b.gates[chatID] = ch
	return ch
}

func (b *memBackend) List(_ context.Context) ([]domain.Chat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Chat, 0, len(b.chats))
	for id, c := range b.chats {
		if msgs := b.messages[id]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			c.LastMessage = &last
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *memBackend) Create(_ context.Context, title string) (domain.Chat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	at := b.tick()
	chat := domain.Chat{ID: fmt.Sprintf("chat-%d", b.seq), Title: title, CreatedAt: at, UpdatedAt: at}
	b.chats[chat.ID] = chat
	return chat, nil
}

func (b *memBackend) Touch(_ context.Context, chatID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.touchErr != nil {
		return b.touchErr
	}
	c, ok := b.chats[chatID]
	if !ok {
		return repository.ErrChatNotFound
	}
	c.UpdatedAt = b.tick()
	b.chats[chatID] = c
	return nil
}

func (b *memBackend) ListByChatID(ctx context.Context, chatID string) ([]domain.Message, error) {
	b.mu.Lock()
	gate := b.gates[chatID]
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Message(nil), b.messages[chatID]...), nil
}

func (b *memBackend) createMessage(m domain.NewMessage) (domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.chats[m.ChatID]; !ok {
		return domain.Message{}, repository.ErrChatNotFound
	}
	msg := domain.Message{
		ID:        fmt.Sprintf("msg-%d", b.seq+1),
		ChatID:    m.ChatID,
		Content:   m.Content,
		IsBot:     m.IsBot,
		CreatedAt: b.tick(),
	}
	if !m.IsBot {
		msg.UserID = "user-1"
	}
	b.messages[m.ChatID] = append(b.messages[m.ChatID], msg)
	return msg, nil
}

// memMessages expone el alta de mensajes con la firma de MessageRepository.
type memMessages struct{ *memBackend }

func (m memMessages) Create(_ context.Context, msg domain.NewMessage) (domain.Message, error) {
	return m.createMessage(msg)
}

// blockingDelegator retiene la delegación hasta que se cierre release.
type blockingDelegator struct {
	release chan struct{}
	started chan string
	result  domain.ActionResult
}

func (d *blockingDelegator) Delegate(ctx context.Context, chatID, _ string) (domain.ActionResult, error) {
	d.started <- chatID
	select {
	case <-d.release:
		return d.result, nil
	case <-ctx.Done():
		return domain.ActionResult{}, ctx.Err()
	}
}

type failingDelegator struct{}

func (failingDelegator) Delegate(context.Context, string, string) (domain.ActionResult, error) {
	return domain.ActionResult{}, errors.New("webhook unreachable")
}

type fixture struct {
	backend *memBackend
	channel livesync.Channel
	chats   *service.ChatService
	flow    *service.SendFlow
}

func newFixture(delegation service.Delegator) *fixture {
	backend := newMemBackend()
	msgs := memMessages{backend}
	return &fixture{
		backend: backend,
		channel: livesync.NewPollChannel(backend, msgs, 10*time.Millisecond, 10*time.Millisecond, nil),
		chats:   service.NewChatService(backend, nil),
		flow:    service.NewSendFlow(service.NewMessageService(msgs, backend, nil), delegation, nil),
	}
}

func (f *fixture) workspace(t *testing.T) *Workspace {
	t.Helper()
	ws := New(Deps{Channel: f.channel, Chats: f.chats, Flow: f.flow}, nil)
	ws.Start()
	t.Cleanup(ws.Close)
	return ws
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

package workspace

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatbot-app/internal/domain"
	"chatbot-app/internal/livesync"
	"chatbot-app/internal/service"
)

// ChatItem es una fila de la barra lateral.
type ChatItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ChatListView struct {
	Chats   []ChatItem `json:"chats"`
	Loading bool       `json:"loading"`
	Err     string     `json:"error,omitempty"`
}

// ChatList mantiene la lista de chats ordenada por actividad reciente.
type ChatList struct {
	channel  livesync.Channel
	chats    *service.ChatService
	logger   *zap.Logger
	onChange func()

	mu      sync.Mutex
	sub     *livesync.Subscription[[]domain.Chat]
	items   []domain.Chat
	created map[string]domain.Chat
	loading bool
	err     string
}

func NewChatList(channel livesync.Channel, chats *service.ChatService, logger *zap.Logger) *ChatList {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatList{
		channel: channel,
		chats:   chats,
		logger:  logger,
		created: make(map[string]domain.Chat),
		loading: true,
	}
}

func (l *ChatList) SetOnChange(fn func()) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// Start abre la suscripción de chats; llamadas repetidas no hacen nada.
func (l *ChatList) Start(ctx context.Context) {
	l.mu.Lock()
	if l.sub != nil {
		l.mu.Unlock()
		return
	}
	sub := l.channel.Chats(ctx)
	l.sub = sub
	l.mu.Unlock()

	go func() {
		for snap := range sub.Updates() {
			l.mu.Lock()
			l.loading = false
			if snap.Err != nil {
				l.err = snap.Err.Error()
			} else {
				l.err = ""
				l.items = l.mergeLocked(snap.Data)
			}
			l.mu.Unlock()
			l.notify()
		}
	}()
}

// mergeLocked mantiene los chats recién creados hasta que un snapshot los trae.
func (l *ChatList) mergeLocked(data []domain.Chat) []domain.Chat {
	out := make([]domain.Chat, 0, len(data)+len(l.created))
	seen := make(map[string]struct{}, len(data))
	for _, c := range data {
		out = append(out, c)
		seen[c.ID] = struct{}{}
	}
	for id, c := range l.created {
		if _, ok := seen[id]; ok {
			delete(l.created, id)
			continue
		}
		out = append(out, c)
	}
	domain.SortChats(out)
	return out
}

// Create crea un chat con el título por defecto y lo agrega a la lista.
func (l *ChatList) Create(ctx context.Context) (domain.Chat, error) {
	chat, err := l.chats.Create(ctx, "")
	if err != nil {
		return domain.Chat{}, err
	}

	l.mu.Lock()
	l.created[chat.ID] = chat
	l.items = l.mergeLocked(l.items)
	sub := l.sub
	l.mu.Unlock()

	if sub != nil {
		sub.Refresh()
	}
	l.notify()
	return chat, nil
}

// Refresh pide un fetch inmediato de la lista.
func (l *ChatList) Refresh() {
	l.mu.Lock()
	sub := l.sub
	l.mu.Unlock()
	if sub != nil {
		sub.Refresh()
	}
}

func (l *ChatList) View() ChatListView {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := make([]ChatItem, 0, len(l.items))
	for _, c := range l.items {
		items = append(items, ChatItem{
			ID:        c.ID,
			Title:     c.Title,
			Preview:   c.Preview(),
			UpdatedAt: c.UpdatedAt,
		})
	}
	return ChatListView{Chats: items, Loading: l.loading, Err: l.err}
}

func (l *ChatList) Close() {
	l.mu.Lock()
	sub := l.sub
	l.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (l *ChatList) notify() {
	l.mu.Lock()
	fn := l.onChange
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

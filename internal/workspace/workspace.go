// Package workspace arma el estado de la pantalla de chat de un usuario: la lista de
// chats, el chat seleccionado y el envío de mensajes.
package workspace

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chatbot-app/internal/auth"
	"chatbot-app/internal/domain"
	"chatbot-app/internal/livesync"
	"chatbot-app/internal/service"
)

// State es la foto completa que consume la UI.
type State struct {
	User       domain.User    `json:"user"`
	Chats      ChatListView   `json:"chats"`
	SelectedID string         `json:"selected_id"`
	Transcript TranscriptView `json:"transcript"`
}

type Deps struct {
	Session *auth.Session
	Channel livesync.Channel
	Chats   *service.ChatService
	Flow    *service.SendFlow
}

type Workspace struct {
	session    *auth.Session
	chats      *ChatList
	transcript *Transcript
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	watchers map[int]chan struct{}
	nextID   int
	closed   bool
}

func New(deps Deps, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Workspace{
		session:    deps.Session,
		chats:      NewChatList(deps.Channel, deps.Chats, logger),
		transcript: NewTranscript(deps.Channel, deps.Flow, logger),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		watchers:   make(map[int]chan struct{}),
	}
	w.chats.SetOnChange(w.notify)
	w.transcript.SetOnChange(w.notify)
	w.transcript.SetAfterSend(func(string) { w.chats.Refresh() })
	return w
}

// Start abre la suscripción de la lista de chats.
func (w *Workspace) Start() {
	w.chats.Start(w.ctx)
}

func (w *Workspace) Session() *auth.Session {
	return w.session
}

func (w *Workspace) User() domain.User {
	if w.session == nil {
		return domain.User{}
	}
	return w.session.User()
}

// Select cambia el chat activo; "" deja la pantalla sin chat.
func (w *Workspace) Select(chatID string) {
	w.transcript.Select(chatID)
}

// CreateChat crea un chat nuevo y lo selecciona.
func (w *Workspace) CreateChat(ctx context.Context) (domain.Chat, error) {
	chat, err := w.chats.Create(ctx)
	if err != nil {
		return domain.Chat{}, err
	}
	w.transcript.Select(chat.ID)
	return chat, nil
}

// Send envía text al chat activo. Devuelve false si no se inició ningún envío.
func (w *Workspace) Send(text string) bool {
	return w.transcript.Send(text)
}

// Wait espera a que terminen los envíos en curso.
func (w *Workspace) Wait() {
	w.transcript.Wait()
}

func (w *Workspace) State() State {
	tv := w.transcript.View()
	return State{
		User:       w.User(),
		Chats:      w.chats.View(),
		SelectedID: tv.ChatID,
		Transcript: tv,
	}
}

// Watch devuelve un canal que recibe una señal por cada ráfaga de cambios.
// Las señales se colapsan: el consumidor debe leer State al recibirla.
func (w *Workspace) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := w.nextID
	w.nextID++
	w.watchers[id] = ch
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			if _, ok := w.watchers[id]; ok {
				delete(w.watchers, id)
				close(ch)
			}
			w.mu.Unlock()
		})
	}
}

func (w *Workspace) notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close corta las suscripciones, espera los envíos y cierra los watchers.
func (w *Workspace) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.transcript.Close()
	w.chats.Close()

	w.mu.Lock()
	for id, ch := range w.watchers {
		delete(w.watchers, id)
		close(ch)
	}
	w.mu.Unlock()
	w.logger.Debug("workspace closed")
}

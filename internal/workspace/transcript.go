package workspace

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chatbot-app/internal/domain"
	"chatbot-app/internal/livesync"
	"chatbot-app/internal/service"
)

// TranscriptView es lo que se renderiza del chat seleccionado.
type TranscriptView struct {
	ChatID    string           `json:"chat_id"`
	Messages  []domain.Message `json:"messages"`
	Loading   bool             `json:"loading"`
	Err       string           `json:"error,omitempty"`
	SendErr   string           `json:"send_error,omitempty"`
	Composing bool             `json:"composing"`
	Sending   bool             `json:"sending"`
}

// Empty indica el estado vacío: chat seleccionado, cargado, sin error y sin mensajes.
func (v TranscriptView) Empty() bool {
	return v.ChatID != "" && !v.Loading && v.Err == "" && v.SendErr == "" && len(v.Messages) == 0
}

// Transcript mantiene los mensajes del chat activo y ejecuta envíos.
//
// Cada snapshot reemplaza la lista completa. Los mensajes escritos por este cliente
// que el backend ya confirmó se reaplican hasta que un snapshot los incluye.
type Transcript struct {
	channel   livesync.Channel
	flow      *service.SendFlow
	logger    *zap.Logger
	onChange  func()
	afterSend func(chatID string)

	ctx    context.Context
	cancel context.CancelFunc
	sends  sync.WaitGroup

	mu        sync.Mutex
	chatID    string
	gen       uint64
	sub       *livesync.Subscription[[]domain.Message]
	messages  []domain.Message
	loading   bool
	err       string
	sendErr   string
	pending   map[string]domain.Message
	composing map[string]int
	sending   map[string]int
}

func NewTranscript(channel livesync.Channel, flow *service.SendFlow, logger *zap.Logger) *Transcript {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transcript{
		channel:   channel,
		flow:      flow,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]domain.Message),
		composing: make(map[string]int),
		sending:   make(map[string]int),
	}
}

// SetOnChange registra el callback de cambios; se llama fuera del lock.
func (t *Transcript) SetOnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// SetAfterSend registra un callback que corre al terminar cada envío.
func (t *Transcript) SetAfterSend(fn func(chatID string)) {
	t.mu.Lock()
	t.afterSend = fn
	t.mu.Unlock()
}

func (t *Transcript) SelectedChat() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID
}

// Select cambia el chat activo. La suscripción anterior termina antes de abrir la nueva
// y ningún snapshot suyo llega a la vista.
func (t *Transcript) Select(chatID string) {
	chatID = strings.TrimSpace(chatID)

	t.mu.Lock()
	if chatID == t.chatID && (t.sub != nil || chatID == "") {
		t.mu.Unlock()
		return
	}
	old := t.sub
	t.gen++
	gen := t.gen
	t.chatID = chatID
	t.sub = nil
	t.messages = nil
	t.err = ""
	t.sendErr = ""
	t.pending = make(map[string]domain.Message)
	t.loading = chatID != ""
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if chatID == "" || t.ctx.Err() != nil {
		t.notify()
		return
	}

	sub := t.channel.Messages(t.ctx, chatID)
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		sub.Close()
		return
	}
	t.sub = sub
	t.mu.Unlock()

	t.logger.Debug("transcript selected", zap.String("chat_id", chatID))
	go t.consume(gen, sub)
	t.notify()
}

func (t *Transcript) consume(gen uint64, sub *livesync.Subscription[[]domain.Message]) {
	for snap := range sub.Updates() {
		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			continue
		}
		t.loading = false
		if snap.Err != nil {
			t.err = snap.Err.Error()
		} else {
			t.err = ""
			t.messages = t.mergeLocked(snap.Data)
		}
		t.mu.Unlock()
		t.notify()
	}
}

func (t *Transcript) mergeLocked(data []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(data)+len(t.pending))
	seen := make(map[string]struct{}, len(data))
	for _, m := range data {
		out = append(out, m)
		seen[m.ID] = struct{}{}
	}
	for id, m := range t.pending {
		if _, ok := seen[id]; ok {
			delete(t.pending, id)
			continue
		}
		out = append(out, m)
	}
	domain.SortMessages(out)
	return out
}

// Send corre el flujo de envío en su propia goroutine. Devuelve false si no hay
// chat seleccionado o el texto está en blanco.
func (t *Transcript) Send(text string) bool {
	chatID := t.SelectedChat()
	if chatID == "" || strings.TrimSpace(text) == "" || t.ctx.Err() != nil {
		return false
	}

	// El error del envío anterior queda visible hasta el próximo envío o cambio de chat;
	// los snapshots sólo limpian el error de la suscripción.
	t.mu.Lock()
	cleared := t.sendErr != ""
	t.sendErr = ""
	t.mu.Unlock()
	if cleared {
		t.notify()
	}

	t.sends.Add(1)
	go func() {
		defer t.sends.Done()
		res := t.flow.Send(t.ctx, chatID, text, transcriptObserver{t})
		if res.State == domain.SendError && res.UserMessage == nil && res.Err != nil {
			t.mu.Lock()
			if t.chatID == chatID {
				t.sendErr = res.Err.Error()
			}
			t.mu.Unlock()
			t.notify()
		}
		t.refresh(chatID)
		t.mu.Lock()
		after := t.afterSend
		t.mu.Unlock()
		if after != nil {
			after(chatID)
		}
	}()
	return true
}

// Wait espera a que terminen los envíos en curso.
func (t *Transcript) Wait() {
	t.sends.Wait()
}

func (t *Transcript) refresh(chatID string) {
	t.mu.Lock()
	sub := t.sub
	active := t.chatID == chatID
	t.mu.Unlock()
	if active && sub != nil {
		sub.Refresh()
	}
}

func (t *Transcript) View() TranscriptView {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := make([]domain.Message, len(t.messages))
	copy(msgs, t.messages)
	return TranscriptView{
		ChatID:    t.chatID,
		Messages:  msgs,
		Loading:   t.loading,
		Err:       t.err,
		SendErr:   t.sendErr,
		Composing: t.composing[t.chatID] > 0,
		Sending:   t.sending[t.chatID] > 0,
	}
}

// Close cancela la suscripción y espera a los envíos en curso.
func (t *Transcript) Close() {
	t.cancel()
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.gen++
	t.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
	t.sends.Wait()
}

func (t *Transcript) notify() {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// transcriptObserver aplica los eventos del flujo de envío a la vista.
type transcriptObserver struct {
	t *Transcript
}

func (o transcriptObserver) MessageAppended(msg domain.Message) {
	t := o.t
	t.mu.Lock()
	if msg.ChatID != t.chatID {
		t.mu.Unlock()
		return
	}
	t.pending[msg.ID] = msg
	present := false
	for _, m := range t.messages {
		if m.ID == msg.ID {
			present = true
			break
		}
	}
	if !present {
		t.messages = append(t.messages, msg)
		domain.SortMessages(t.messages)
	}
	t.mu.Unlock()
	t.notify()
}

func (o transcriptObserver) ComposingChanged(chatID string, composing bool) {
	t := o.t
	t.mu.Lock()
	if composing {
		t.composing[chatID]++
	} else if t.composing[chatID] > 0 {
		t.composing[chatID]--
	}
	if t.composing[chatID] == 0 {
		delete(t.composing, chatID)
	}
	t.mu.Unlock()
	t.notify()
}

func (o transcriptObserver) StateChanged(chatID string, state domain.SendState) {
	t := o.t
	t.mu.Lock()
	switch state {
	case domain.SendSendingUserMessage:
		t.sending[chatID]++
	case domain.SendSettled, domain.SendError:
		if t.sending[chatID] > 0 {
			t.sending[chatID]--
		}
		if t.sending[chatID] == 0 {
			delete(t.sending, chatID)
		}
	}
	t.mu.Unlock()
	t.notify()
}

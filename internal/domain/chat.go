package domain

import (
	"sort"
	"time"
)

// Chat es un hilo de conversación. LastMessage es la vista previa desnormalizada.
type Chat struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastMessage *Message  `json:"last_message,omitempty"`
}

// Preview devuelve el texto de la vista previa, con prefijo para mensajes del bot.
func (c Chat) Preview() string {
	if c.LastMessage == nil {
		return ""
	}
	if c.LastMessage.IsBot {
		return "🤖 " + c.LastMessage.Content
	}
	return c.LastMessage.Content
}

// SortChats ordena por recencia (updated_at descendente).
func SortChats(chats []Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
}

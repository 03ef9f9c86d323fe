package domain

import (
	"sort"
	"time"
)

// Message es una unidad inmutable de conversación, escrita por una persona o por el bot.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id,omitempty"`
	Content   string    `json:"content"`
	IsBot     bool      `json:"is_bot"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage describe un mensaje todavía no confirmado por el backend.
type NewMessage struct {
	ChatID  string
	Content string
	IsBot   bool
}

// SortMessages ordena por fecha de creación; el ID desempata.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

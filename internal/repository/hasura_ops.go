package repository

import (
	"time"

	"chatbot-app/internal/domain"
)

// Documentos GraphQL contra el esquema de Hasura (tablas chats y messages).
const (
	ChatsQuery = `query Chats {
  chats(order_by: {updated_at: desc}) {
    id
    title
    created_at
    updated_at
    messages(order_by: {created_at: desc}, limit: 1) {
      id
      content
      is_bot
      created_at
    }
  }
}`

	ChatsSubscription = `subscription ChatsSubscription {
  chats(order_by: {updated_at: desc}) {
    id
    title
    created_at
    updated_at
    messages(order_by: {created_at: desc}, limit: 1) {
      id
      content
      is_bot
      created_at
    }
  }
}`

	MessagesQuery = `query Messages($chatId: uuid!) {
  messages(where: {chat_id: {_eq: $chatId}}, order_by: {created_at: asc}) {
    id
    content
    is_bot
    created_at
    user_id
  }
}`

	MessagesSubscription = `subscription MessagesSubscription($chatId: uuid!) {
  messages(where: {chat_id: {_eq: $chatId}}, order_by: {created_at: asc}) {
    id
    content
    is_bot
    created_at
    user_id
  }
}`

	CreateChatMutation = `mutation CreateChat($title: String!) {
  insert_chats_one(object: {title: $title}) {
    id
    title
    created_at
    updated_at
  }
}`

	AddMessageMutation = `mutation AddMessage($chatId: uuid!, $content: String!, $isBot: Boolean!) {
  insert_messages_one(object: {chat_id: $chatId, content: $content, is_bot: $isBot}) {
    id
    content
    is_bot
    created_at
    user_id
  }
}`

	UpdateChatTimestampMutation = `mutation UpdateChatTimestamp($chatId: uuid!) {
  update_chats_by_pk(pk_columns: {id: $chatId}, _set: {updated_at: "now()"}) {
    id
    updated_at
  }
}`

	SendMessageActionMutation = `mutation SendMessageAction($chatId: uuid!, $message: String!) {
  sendMessage(chat_id: $chatId, message: $message) {
    success
    message
    response
  }
}`
)

type messageRow struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Content   string    `json:"content"`
	IsBot     bool      `json:"is_bot"`
	CreatedAt time.Time `json:"created_at"`
	UserID    *string   `json:"user_id"`
}

func (r messageRow) toDomain(chatID string) domain.Message {
	m := domain.Message{
		ID:        r.ID,
		ChatID:    r.ChatID,
		Content:   r.Content,
		IsBot:     r.IsBot,
		CreatedAt: r.CreatedAt,
	}
	if m.ChatID == "" {
		m.ChatID = chatID
	}
	if r.UserID != nil {
		m.UserID = *r.UserID
	}
	return m
}

type chatRow struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Messages  []messageRow `json:"messages"`
}

func (r chatRow) toDomain() domain.Chat {
	c := domain.Chat{
		ID:        r.ID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Messages) > 0 {
		last := r.Messages[0].toDomain(r.ID)
		c.LastMessage = &last
	}
	return c
}

// ChatsPayload es la forma de data para Chats y ChatsSubscription.
type ChatsPayload struct {
	Chats []chatRow `json:"chats"`
}

func (p ChatsPayload) Domain() []domain.Chat {
	out := make([]domain.Chat, 0, len(p.Chats))
	for _, r := range p.Chats {
		out = append(out, r.toDomain())
	}
	domain.SortChats(out)
	return out
}

// MessagesPayload es la forma de data para Messages y MessagesSubscription.
type MessagesPayload struct {
	Messages []messageRow `json:"messages"`
}

func (p MessagesPayload) Domain(chatID string) []domain.Message {
	out := make([]domain.Message, 0, len(p.Messages))
	for _, r := range p.Messages {
		out = append(out, r.toDomain(chatID))
	}
	domain.SortMessages(out)
	return out
}

package repository

import (
	"context"
	"fmt"

	"chatbot-app/internal/domain"
	"chatbot-app/internal/graphql"
)

type HasuraMessageRepository struct {
	client *graphql.Client
}

func NewHasuraMessageRepository(client *graphql.Client) *HasuraMessageRepository {
	return &HasuraMessageRepository{client: client}
}

func messagesRequest(chatID string) graphql.Request {
	return graphql.Request{
		Query:         MessagesQuery,
		Variables:     map[string]any{"chatId": chatID},
		OperationName: "Messages",
	}
}

func (r *HasuraMessageRepository) ListByChatID(ctx context.Context, chatID string) ([]domain.Message, error) {
	var out MessagesPayload
	if err := r.client.Do(ctx, messagesRequest(chatID), &out); err != nil {
		return nil, err
	}
	return out.Domain(chatID), nil
}

func (r *HasuraMessageRepository) CachedByChatID(chatID string) ([]domain.Message, bool) {
	var out MessagesPayload
	if !r.client.Cached(messagesRequest(chatID), &out) {
		return nil, false
	}
	return out.Domain(chatID), true
}

func (r *HasuraMessageRepository) Create(ctx context.Context, message domain.NewMessage) (domain.Message, error) {
	var out struct {
		Message *messageRow `json:"insert_messages_one"`
	}
	err := r.client.Do(ctx, graphql.Request{
		Query: AddMessageMutation,
		Variables: map[string]any{
			"chatId":  message.ChatID,
			"content": message.Content,
			"isBot":   message.IsBot,
		},
		OperationName: "AddMessage",
	}, &out)
	if err != nil {
		return domain.Message{}, err
	}
	if out.Message == nil {
		return domain.Message{}, fmt.Errorf("add message: %w", ErrEmptyResult)
	}
	return out.Message.toDomain(message.ChatID), nil
}

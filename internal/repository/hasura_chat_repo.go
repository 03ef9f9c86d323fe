package repository

import (
	"context"
	"fmt"

	"chatbot-app/internal/domain"
	"chatbot-app/internal/graphql"
)

type HasuraChatRepository struct {
	client *graphql.Client
}

func NewHasuraChatRepository(client *graphql.Client) *HasuraChatRepository {
	return &HasuraChatRepository{client: client}
}

func chatsRequest() graphql.Request {
	return graphql.Request{Query: ChatsQuery, OperationName: "Chats"}
}

func (r *HasuraChatRepository) List(ctx context.Context) ([]domain.Chat, error) {
	var out ChatsPayload
	if err := r.client.Do(ctx, chatsRequest(), &out); err != nil {
		return nil, err
	}
	return out.Domain(), nil
}

func (r *HasuraChatRepository) CachedList() ([]domain.Chat, bool) {
	var out ChatsPayload
	if !r.client.Cached(chatsRequest(), &out) {
		return nil, false
	}
	return out.Domain(), true
}

func (r *HasuraChatRepository) Create(ctx context.Context, title string) (domain.Chat, error) {
	var out struct {
		Chat *chatRow `json:"insert_chats_one"`
	}
	err := r.client.Do(ctx, graphql.Request{
		Query:         CreateChatMutation,
		Variables:     map[string]any{"title": title},
		OperationName: "CreateChat",
	}, &out)
	if err != nil {
		return domain.Chat{}, err
	}
	if out.Chat == nil {
		return domain.Chat{}, fmt.Errorf("create chat: %w", ErrEmptyResult)
	}
	return out.Chat.toDomain(), nil
}

func (r *HasuraChatRepository) Touch(ctx context.Context, chatID string) error {
	var out struct {
		Chat *struct {
			ID string `json:"id"`
		} `json:"update_chats_by_pk"`
	}
	err := r.client.Do(ctx, graphql.Request{
		Query:         UpdateChatTimestampMutation,
		Variables:     map[string]any{"chatId": chatID},
		OperationName: "UpdateChatTimestamp",
	}, &out)
	if err != nil {
		return err
	}
	if out.Chat == nil {
		return ErrChatNotFound
	}
	return nil
}

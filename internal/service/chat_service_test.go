package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatbot-app/internal/domain"
)

func TestDefaultChatTitle(t *testing.T) {
	cases := map[string]time.Time{
		"Chat 1/5/2024":   time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC),
		"Chat 12/31/2023": time.Date(2023, 12, 31, 23, 59, 0, 0, time.UTC),
	}
	for want, at := range cases {
		if got := DefaultChatTitle(at); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestChatServiceCreate_DefaultTitleFromClock(t *testing.T) {
	repo := &mockChatRepo{nextChatID: "c9"}
	svc := NewChatService(repo, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC) }

	chat, err := svc.Create(context.Background(), "   ")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if repo.lastTitle != "Chat 3/7/2024" || chat.Title != "Chat 3/7/2024" || chat.ID != "c9" {
		t.Fatalf("unexpected chat %+v (title sent %q)", chat, repo.lastTitle)
	}

	if _, err := svc.Create(context.Background(), " Plans "); err != nil || repo.lastTitle != "Plans" {
		t.Fatalf("expected explicit title kept, got %q %v", repo.lastTitle, err)
	}
}

func TestChatServiceCreate_Error(t *testing.T) {
	svc := NewChatService(&mockChatRepo{createErr: errors.New("insert_chats_one failed")}, nil)
	if _, err := svc.Create(context.Background(), ""); err == nil {
		t.Fatalf("expected error")
	}
	var nilSvc *ChatService
	if _, err := nilSvc.Create(context.Background(), ""); !errors.Is(err, ErrChatServiceNotConfigured) {
		t.Fatalf("expected ErrChatServiceNotConfigured, got %v", err)
	}
}

func TestChatServiceList_OrdersByRecency(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc := NewChatService(&mockChatRepo{listData: []domain.Chat{
		{ID: "old", UpdatedAt: base},
		{ID: "new", UpdatedAt: base.Add(time.Hour)},
	}}, nil)

	chats, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if chats[0].ID != "new" || chats[1].ID != "old" {
		t.Fatalf("expected most recent first, got %+v", chats)
	}
}

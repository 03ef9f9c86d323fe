package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatbot-app/internal/bot"
	"chatbot-app/internal/config"
	"chatbot-app/internal/domain"
	"chatbot-app/internal/graphql"
	apihttp "chatbot-app/internal/http"
)

// fakeHasura aplica el permiso de insert de messages: sólo el dueño del chat escribe.
type fakeHasura struct {
	mu      sync.Mutex
	owners  map[string]string
	inserts []string
}

func (f *fakeHasura) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-hasura-admin-secret") != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req graphql.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if r.Header.Get("x-hasura-role") != "user" {
			t.Errorf("expected user role, got %q", r.Header.Get("x-hasura-role"))
		}
		userID := r.Header.Get("x-hasura-user-id")
		chatID, _ := req.Variables["chatId"].(string)

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.owners[chatID] != userID {
			w.Write([]byte(`{"errors":[{"message":"check constraint of an insert permission has failed","extensions":{"code":"permission-error","path":"$.selectionSet.insert_messages_one.args.object"}}]}`))
			return
		}
		f.inserts = append(f.inserts, chatID)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"insert_messages_one": map[string]any{
				"id":         "m1",
				"chat_id":    chatID,
				"content":    req.Variables["content"],
				"is_bot":     true,
				"created_at": "2024-03-05T10:00:00Z",
				"user_id":    nil,
			},
		}})
	}
}

func (f *fakeHasura) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts)
}

func newHasuraApp(t *testing.T, f *fakeHasura) *App {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return &App{
		Config: &config.Config{ActionPersistReply: true, HasuraAdminSecret: "s3cret"},
		Logger: zap.NewNop(),
		gql:    graphql.NewClient(srv.URL, nil, nil, nil),
	}
}

func TestReplyStore_WritesAsTheRequestingUser(t *testing.T) {
	f := &fakeHasura{owners: map[string]string{"chat-u1": "u1"}}
	store := newHasuraApp(t, f).ReplyStore()
	if store == nil {
		t.Fatalf("expected a reply store")
	}

	if repo := store(""); repo != nil {
		t.Fatalf("expected no repository without a user, got %T", repo)
	}

	if _, err := store("u1").Create(context.Background(), domain.NewMessage{ChatID: "chat-u1", Content: "hola", IsBot: true}); err != nil {
		t.Fatalf("owner insert failed: %v", err)
	}

	_, err := store("u2").Create(context.Background(), domain.NewMessage{ChatID: "chat-u1", Content: "intruso", IsBot: true})
	var gerr *graphql.Error
	if !errors.As(err, &gerr) || gerr.Kind != graphql.KindGraphQL {
		t.Fatalf("expected permission error for another user's chat, got %v", err)
	}
	if got := f.insertCount(); got != 1 {
		t.Fatalf("expected only the owner insert, got %d", got)
	}
}

func TestReplyStore_DisabledWithoutFlagOrSecret(t *testing.T) {
	f := &fakeHasura{}
	a := newHasuraApp(t, f)

	a.Config.ActionPersistReply = false
	if a.ReplyStore() != nil {
		t.Fatalf("expected nil store when ACTION_PERSIST_REPLY is off")
	}
	a.Config.ActionPersistReply = true
	a.Config.HasuraAdminSecret = ""
	if a.ReplyStore() != nil {
		t.Fatalf("expected nil store without admin secret")
	}
}

func TestSendMessageAction_ForeignChatIsNotWritten(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := &fakeHasura{owners: map[string]string{"chat-u1": "u1"}}
	a := newHasuraApp(t, f)
	client := &bot.MockClient{Response: "hola"}

	r := gin.New()
	r.POST("/actions/send-message", apihttp.NewActionHandler(zap.NewNop(), client, a.ReplyStore()).SendMessage)

	body, _ := json.Marshal(map[string]any{
		"action":            map[string]any{"name": "sendMessage"},
		"input":             map[string]any{"chat_id": "chat-u1", "message": "hola"},
		"session_variables": map[string]any{"x-hasura-role": "user", "x-hasura-user-id": "u2"},
	})
	req := httptest.NewRequest(http.MethodPost, "/actions/send-message", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out domain.ActionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if out.Success {
		t.Fatalf("expected success=false for another user's chat, got %+v", out)
	}
	if got := f.insertCount(); got != 0 {
		t.Fatalf("expected no insert, got %d", got)
	}
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatbot-app/internal/auth"
	"chatbot-app/internal/bot"
	"chatbot-app/internal/domain"
	"chatbot-app/internal/livesync"
	"chatbot-app/internal/repository"
	"chatbot-app/internal/service"
	"chatbot-app/internal/workspace"
)

type mockProvider struct {
	mu       sync.Mutex
	signIns  int
	signOuts int
	signUp   *domain.AuthSession
	err      error
}

func (p *mockProvider) Name() string { return "mock" }

func (p *mockProvider) SignIn(_ context.Context, email, password string) (domain.AuthSession, error) {
	p.mu.Lock()
	p.signIns++
	p.mu.Unlock()
	if p.err != nil {
		return domain.AuthSession{}, p.err
	}
	if password != "correct-horse" {
		return domain.AuthSession{}, auth.ErrInvalidCredentials
	}
	return domain.AuthSession{AccessToken: "tok", RefreshToken: "ref", User: domain.User{ID: "u1", Email: email}}, nil
}

func (p *mockProvider) SignUp(context.Context, string, string) (*domain.AuthSession, error) {
	return p.signUp, p.err
}

func (p *mockProvider) Refresh(context.Context, string) (domain.AuthSession, error) {
	return domain.AuthSession{}, auth.ErrNotAuthenticated
}

func (p *mockProvider) SignOut(context.Context, domain.AuthSession) error {
	p.mu.Lock()
	p.signOuts++
	p.mu.Unlock()
	return nil
}

// mockChatStore guarda chats y mensajes en memoria.
type mockChatStore struct {
	mu       sync.Mutex
	chats    map[string]domain.Chat
	messages map[string][]domain.Message
	seq      int
}

func newMockChatStore() *mockChatStore {
	return &mockChatStore{chats: make(map[string]domain.Chat), messages: make(map[string][]domain.Message)}
}

func (s *mockChatStore) next() (int, time.Time) {
	s.seq++
	return s.seq, time.Date(2024, 1, 1, 0, 0, s.seq, 0, time.UTC)
}

func (s *mockChatStore) List(context.Context) ([]domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Chat, 0, len(s.chats))
	for id, c := range s.chats {
		if msgs := s.messages[id]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			c.LastMessage = &last
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *mockChatStore) Create(_ context.Context, title string) (domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, at := s.next()
	c := domain.Chat{ID: fmt.Sprintf("chat-%d", n), Title: title, CreatedAt: at, UpdatedAt: at}
	s.chats[c.ID] = c
	return c, nil
}

func (s *mockChatStore) Touch(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return repository.ErrChatNotFound
	}
	_, c.UpdatedAt = s.next()
	s.chats[chatID] = c
	return nil
}

type mockMessageStore struct{ *mockChatStore }

func (s mockMessageStore) ListByChatID(_ context.Context, chatID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages[chatID]...), nil
}

func (s mockMessageStore) Create(_ context.Context, m domain.NewMessage) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[m.ChatID]; !ok {
		return domain.Message{}, repository.ErrChatNotFound
	}
	n, at := s.next()
	msg := domain.Message{ID: fmt.Sprintf("msg-%d", n), ChatID: m.ChatID, Content: m.Content, IsBot: m.IsBot, CreatedAt: at}
	s.messages[m.ChatID] = append(s.messages[m.ChatID], msg)
	return msg, nil
}

type testApp struct {
	router   *gin.Engine
	provider *mockProvider
	store    auth.TokenStore
	registry *workspace.Registry
}

func newTestApp(t *testing.T, limiter auth.RateLimiter) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	data := newMockChatStore()
	msgs := mockMessageStore{data}
	provider := &mockProvider{}
	store := auth.NewMemoryTokenStore()
	registry := workspace.NewRegistry(provider, store, func(_ context.Context, s *auth.Session) (*workspace.Workspace, error) {
		channel := livesync.NewPollChannel(data, msgs, 10*time.Millisecond, 10*time.Millisecond, nil)
		messages := service.NewMessageService(msgs, data, nil)
		delegation := service.NewLocalDelegation(&bot.MockClient{Response: "hola!"}, msgs, s.User().ID, nil)
		return workspace.New(workspace.Deps{
			Session: s,
			Channel: channel,
			Chats:   service.NewChatService(data, nil),
			Flow:    service.NewSendFlow(messages, delegation, nil),
		}, nil), nil
	}, nil)
	t.Cleanup(registry.Close)

	router := NewRouter(zap.NewNop(), RouterDeps{
		Registry: registry,
		Auth:     NewAuthHandler(zap.NewNop(), registry, provider, limiter, false),
		Chat:     NewChatHandler(zap.NewNop()),
	})
	return &testApp{router: router, provider: provider, store: store, registry: registry}
}

func (a *testApp) do(method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, path, nil)
	case url.Values:
		req = httptest.NewRequest(method, path, strings.NewReader(b.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		raw, _ := json.Marshal(b)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) signIn(t *testing.T) *http.Cookie {
	t.Helper()
	rec := a.do(http.MethodPost, "/sign-in", url.Values{"email": {"Ana@Example.com"}, "password": {"correct-horse"}}, nil)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect to /, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie && c.Value != "" {
			return c
		}
	}
	t.Fatalf("expected session cookie")
	return nil
}

func TestRouter_Healthz(t *testing.T) {
	app := newTestApp(t, nil)
	rec := app.do(http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouter_GuardsPagesAndAPI(t *testing.T) {
	app := newTestApp(t, nil)

	rec := app.do(http.MethodGet, "/", nil, nil)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/sign-in" {
		t.Fatalf("expected redirect to sign-in, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = app.do(http.MethodGet, "/api/chats", nil, &http.Cookie{Name: sessionCookie, Value: "unknown"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthHandler_SignInOpensWorkspace(t *testing.T) {
	app := newTestApp(t, nil)
	cookie := app.signIn(t)

	rec := app.do(http.MethodGet, "/", nil, cookie)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ana@example.com") {
		t.Fatalf("expected chat page for signed-in user, got %d", rec.Code)
	}

	rec = app.do(http.MethodGet, "/sign-in", nil, cookie)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected signed-in user redirected away from sign-in, got %d", rec.Code)
	}
}

func TestAuthHandler_SignInInvalidCredentials(t *testing.T) {
	app := newTestApp(t, nil)
	rec := app.do(http.MethodPost, "/sign-in", url.Values{"email": {"ana@example.com"}, "password": {"wrong"}}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid email or password.") {
		t.Fatalf("expected inline error in form")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("no cookie expected on failed sign in")
	}
}

func TestAuthHandler_SignInRateLimited(t *testing.T) {
	app := newTestApp(t, auth.NewMemoryRateLimiter(time.Minute, 2))
	form := url.Values{"email": {"ana@example.com"}, "password": {"wrong"}}

	for i := 0; i < 2; i++ {
		if rec := app.do(http.MethodPost, "/sign-in", form, nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rec.Code)
		}
	}
	if rec := app.do(http.MethodPost, "/sign-in", form, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if app.provider.signIns != 2 {
		t.Fatalf("limited attempt must not reach the provider, got %d calls", app.provider.signIns)
	}
}

func TestAuthHandler_SignUp(t *testing.T) {
	t.Run("verification required", func(t *testing.T) {
		app := newTestApp(t, nil)
		rec := app.do(http.MethodPost, "/sign-up", url.Values{"email": {"ana@example.com"}, "password": {"correct-horse"}}, nil)
		if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/sign-in?notice=verify" {
			t.Fatalf("expected redirect to sign-in with notice, got %d %q", rec.Code, rec.Header().Get("Location"))
		}
	})

	t.Run("existing user", func(t *testing.T) {
		app := newTestApp(t, nil)
		app.provider.err = auth.ErrUserExists
		rec := app.do(http.MethodPost, "/sign-up", url.Values{"email": {"ana@example.com"}, "password": {"correct-horse"}}, nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("immediate session", func(t *testing.T) {
		app := newTestApp(t, nil)
		app.provider.signUp = &domain.AuthSession{AccessToken: "tok", User: domain.User{ID: "u1", Email: "ana@example.com"}}
		rec := app.do(http.MethodPost, "/sign-up", url.Values{"email": {"ana@example.com"}, "password": {"correct-horse"}}, nil)
		if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
			t.Fatalf("expected redirect to /, got %d %q", rec.Code, rec.Header().Get("Location"))
		}
	})
}

func TestChatHandler_CreateChatAndSend(t *testing.T) {
	app := newTestApp(t, nil)
	cookie := app.signIn(t)

	rec := app.do(http.MethodPost, "/api/chats", nil, cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Chat domain.Chat `json:"chat"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(created.Chat.Title, "Chat ") {
		t.Fatalf("expected default title, got %q", created.Chat.Title)
	}

	path := "/api/chats/" + created.Chat.ID + "/messages"
	if rec := app.do(http.MethodPost, path, map[string]string{"content": "   "}, cookie); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", rec.Code)
	}
	if rec := app.do(http.MethodPost, path, map[string]string{"content": "hello"}, cookie); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec := app.do(http.MethodGet, path, nil, cookie)
		var out struct {
			Transcript workspace.TranscriptView `json:"transcript"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
		msgs := out.Transcript.Messages
		if len(msgs) == 2 && msgs[0].Content == "hello" && msgs[1].IsBot && msgs[1].Content == "hola!" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for round trip, last %+v", out.Transcript)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChatHandler_StreamPushesState(t *testing.T) {
	app := newTestApp(t, nil)
	cookie := app.signIn(t)

	srv := httptest.NewServer(app.router)
	defer srv.Close()

	header := http.Header{}
	header.Set("Cookie", cookie.String())
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/stream", header)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()

	var state workspace.State
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&state); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if state.User.ID != "u1" {
		t.Fatalf("unexpected user in state %+v", state.User)
	}

	if rec := app.do(http.MethodPost, "/api/chats", nil, cookie); rec.Code != http.StatusCreated {
		t.Fatalf("create chat: %d", rec.Code)
	}
	for {
		if err := conn.ReadJSON(&state); err != nil {
			t.Fatalf("read state: %v", err)
		}
		if state.SelectedID != "" && len(state.Chats.Chats) == 1 {
			break
		}
	}
}

func TestAuthHandler_SignOutDropsSession(t *testing.T) {
	app := newTestApp(t, nil)
	cookie := app.signIn(t)

	rec := app.do(http.MethodPost, "/sign-out", nil, cookie)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/sign-in" {
		t.Fatalf("expected redirect to sign-in, got %d", rec.Code)
	}
	if app.provider.signOuts != 1 {
		t.Fatalf("expected provider sign out, got %d", app.provider.signOuts)
	}
	if _, err := app.store.Load(context.Background(), cookie.Value); err == nil {
		t.Fatalf("expected stored session removed")
	}
	if rec := app.do(http.MethodGet, "/api/chats", nil, cookie); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after sign out, got %d", rec.Code)
	}
}

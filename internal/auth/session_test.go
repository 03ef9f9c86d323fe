package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatbot-app/internal/domain"
)

func sessionFixture(access, refresh string) domain.AuthSession {
	return domain.AuthSession{
		Provider:     "mock",
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         domain.User{ID: "u1", Email: "ana@example.com"},
	}
}

type mockProvider struct {
	mu           sync.Mutex
	signIn       domain.AuthSession
	signInErr    error
	refreshed    domain.AuthSession
	refreshErr   error
	refreshCalls int
	signOutCalls int
	signOutErr   error
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) SignIn(_ context.Context, _, _ string) (domain.AuthSession, error) {
	return m.signIn, m.signInErr
}

func (m *mockProvider) SignUp(_ context.Context, _, _ string) (*domain.AuthSession, error) {
	return nil, nil
}

func (m *mockProvider) Refresh(_ context.Context, _ string) (domain.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshCalls++
	return m.refreshed, m.refreshErr
}

func (m *mockProvider) SignOut(_ context.Context, _ domain.AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signOutCalls++
	return m.signOutErr
}

func TestSession_AccessTokenFreshDoesNotRefresh(t *testing.T) {
	p := &mockProvider{}
	initial := sessionFixture("at-1", "rt-1")
	s := NewSession(p, nil, "", &initial, nil)

	token, err := s.AccessToken(context.Background())
	if err != nil || token != "at-1" {
		t.Fatalf("expected at-1, got %q %v", token, err)
	}
	if p.refreshCalls != 0 {
		t.Fatalf("expected no refresh, got %d", p.refreshCalls)
	}
}

func TestSession_AccessTokenRefreshesNearExpiry(t *testing.T) {
	renewed := sessionFixture("at-2", "rt-2")
	renewed.User = domain.User{}
	p := &mockProvider{refreshed: renewed}
	store := NewMemoryTokenStore()

	initial := sessionFixture("at-1", "rt-1")
	initial.ExpiresAt = time.Now().Add(10 * time.Second)
	s := NewSession(p, store, "browser-1", &initial, nil)

	var seen []string
	unsubscribe := s.OnChange(func(a *domain.AuthSession) {
		if a != nil {
			seen = append(seen, a.AccessToken)
		}
	})
	defer unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if token, err := s.AccessToken(context.Background()); err != nil || token != "at-2" {
				t.Errorf("expected at-2, got %q %v", token, err)
			}
		}()
	}
	wg.Wait()

	if p.refreshCalls != 1 {
		t.Fatalf("expected a single refresh, got %d", p.refreshCalls)
	}
	if len(seen) != 1 || seen[0] != "at-2" {
		t.Fatalf("expected one change notification, got %v", seen)
	}
	if s.User().ID != "u1" {
		t.Fatalf("expected user kept across refresh, got %+v", s.User())
	}
	stored, err := store.Load(context.Background(), "browser-1")
	if err != nil || stored.AccessToken != "at-2" {
		t.Fatalf("expected refreshed session persisted, got %+v %v", stored, err)
	}
}

func TestSession_RejectedRefreshSignsOut(t *testing.T) {
	p := &mockProvider{refreshErr: &ProviderError{Provider: "mock", Status: 401, Err: ErrNotAuthenticated}}
	initial := sessionFixture("at-1", "rt-1")
	initial.ExpiresAt = time.Now().Add(-time.Minute)
	s := NewSession(p, nil, "", &initial, nil)

	var signedOut bool
	s.OnChange(func(a *domain.AuthSession) { signedOut = a == nil })

	_, err := s.AccessToken(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if s.Authenticated() || !signedOut {
		t.Fatalf("expected session cleared and listeners notified")
	}
}

func TestSession_NetworkRefreshErrorKeepsSession(t *testing.T) {
	p := &mockProvider{refreshErr: errors.New("dial tcp: connection refused")}
	initial := sessionFixture("at-1", "rt-1")
	initial.ExpiresAt = time.Now().Add(-time.Minute)
	s := NewSession(p, nil, "", &initial, nil)

	if _, err := s.AccessToken(context.Background()); err == nil || errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected transient refresh error, got %v", err)
	}
	if !s.Authenticated() {
		t.Fatalf("expected session kept on network error")
	}
}

func TestSession_HeadersAndUnauthenticated(t *testing.T) {
	s := NewSession(&mockProvider{}, nil, "", nil, nil)
	if _, err := s.Headers(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	p := &mockProvider{signIn: sessionFixture("at-7", "rt-7")}
	s = NewSession(p, nil, "", nil, nil)
	if err := s.SignIn(context.Background(), "ana@example.com", "pw"); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	h, err := s.Headers(context.Background())
	if err != nil || h.Get("Authorization") != "Bearer at-7" {
		t.Fatalf("unexpected headers %v %v", h, err)
	}
}

func TestSession_SignOutClearsStoreAndUnsubscribe(t *testing.T) {
	p := &mockProvider{signOutErr: errors.New("provider down")}
	store := NewMemoryTokenStore()
	initial := sessionFixture("at-1", "rt-1")
	_ = store.Save(context.Background(), "k", initial, time.Minute)
	s, err := LoadSession(context.Background(), p, store, "k", nil)
	if err != nil {
		t.Fatalf("load session failed: %v", err)
	}

	calls := 0
	unsubscribe := s.OnChange(func(*domain.AuthSession) { calls++ })
	unsubscribe()
	unsubscribe()

	if err := s.SignOut(context.Background()); err == nil {
		t.Fatalf("expected provider error to be reported")
	}
	if s.Authenticated() {
		t.Fatalf("expected local session cleared even when provider fails")
	}
	if _, err := store.Load(context.Background(), "k"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected stored session deleted, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected unsubscribed listener not called, got %d", calls)
	}
	if p.signOutCalls != 1 {
		t.Fatalf("expected provider sign-out once, got %d", p.signOutCalls)
	}

	if err := s.SignOut(context.Background()); err != nil || p.signOutCalls != 1 {
		t.Fatalf("second sign-out should be a no-op, got %v calls=%d", err, p.signOutCalls)
	}
}

func TestLoadSession_Missing(t *testing.T) {
	_, err := LoadSession(context.Background(), &mockProvider{}, NewMemoryTokenStore(), "nope", nil)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

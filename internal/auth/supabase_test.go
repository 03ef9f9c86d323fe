package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSupabaseClient_SignInSendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("expected apikey header, got %q", r.Header.Get("apikey"))
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "ana@example.com" {
			t.Errorf("unexpected body %+v", body)
		}
		w.Write([]byte(`{"access_token":"at","token_type":"bearer","expires_in":3600,"refresh_token":"rt","user":{"id":"u1","email":"ana@example.com","user_metadata":{"full_name":"Ana"}}}`))
	}))
	defer srv.Close()

	c := NewSupabaseClient(srv.URL, "anon-key", nil, nil)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	s, err := c.SignIn(context.Background(), "ana@example.com", "pw")
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	if s.Provider != ProviderSupabase || s.AccessToken != "at" || s.User.DisplayName != "Ana" {
		t.Fatalf("unexpected session %+v", s)
	}
	if !s.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", s.ExpiresAt)
	}
}

func TestSupabaseClient_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "invalid credentials", status: 400, body: `{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`, want: ErrInvalidCredentials},
		{name: "legacy invalid grant", status: 400, body: `{"error":"invalid_grant","error_description":"Invalid login credentials"}`, want: ErrInvalidCredentials},
		{name: "legacy refresh", status: 400, body: `{"error":"invalid_grant","error_description":"Invalid Refresh Token: Already Used"}`, want: ErrNotAuthenticated},
		{name: "email not confirmed", status: 400, body: `{"error_code":"email_not_confirmed","msg":"Email not confirmed"}`, want: ErrEmailNotVerified},
		{name: "exists", status: 422, body: `{"error_code":"user_already_exists","msg":"User already registered"}`, want: ErrUserExists},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewSupabaseClient(srv.URL, "k", nil, nil).SignIn(context.Background(), "a@b.c", "x")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSupabaseClient_SignUpWithConfirmation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/signup" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"u1","email":"a@b.c","confirmation_sent_at":"2024-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	s, err := NewSupabaseClient(srv.URL, "k", nil, nil).SignUp(context.Background(), "a@b.c", "secret123")
	if err != nil || s != nil {
		t.Fatalf("expected pending verification, got %+v %v", s, err)
	}
}

func TestSupabaseClient_SignOutUsesAccessToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/logout" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewSupabaseClient(srv.URL, "k", nil, nil).SignOut(context.Background(), sessionFixture("at-5", "rt-5")); err != nil {
		t.Fatalf("sign out failed: %v", err)
	}
	if auth != "Bearer at-5" {
		t.Fatalf("expected user bearer, got %q", auth)
	}
}

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatbot-app/internal/domain"
)

const ProviderSupabase = "supabase"

// SupabaseClient habla con GoTrue (/auth/v1) de Supabase.
type SupabaseClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

func NewSupabaseClient(baseURL, anonKey string, httpClient *http.Client, logger *zap.Logger) *SupabaseClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SupabaseClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

type supabaseUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type supabaseSession struct {
	AccessToken  string        `json:"access_token"`
	ExpiresIn    int64         `json:"expires_in"`
	RefreshToken string        `json:"refresh_token"`
	User         *supabaseUser `json:"user"`
}

type supabaseErrorPayload struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
}

func (c *SupabaseClient) Name() string { return ProviderSupabase }

func (c *SupabaseClient) SignIn(ctx context.Context, email, password string) (domain.AuthSession, error) {
	var out supabaseSession
	body := map[string]string{"email": normalizeEmail(email), "password": password}
	if err := c.call(ctx, "/auth/v1/token?grant_type=password", "", body, &out); err != nil {
		return domain.AuthSession{}, err
	}
	return c.toDomain(out), nil
}

func (c *SupabaseClient) SignUp(ctx context.Context, email, password string) (*domain.AuthSession, error) {
	// Con confirmación por email activa GoTrue devuelve el usuario sin access_token.
	var out supabaseSession
	body := map[string]string{"email": normalizeEmail(email), "password": password}
	if err := c.call(ctx, "/auth/v1/signup", "", body, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		c.logger.Info("supabase sign-up requires email verification", zap.String("email", normalizeEmail(email)))
		return nil, nil
	}
	s := c.toDomain(out)
	return &s, nil
}

func (c *SupabaseClient) Refresh(ctx context.Context, refreshToken string) (domain.AuthSession, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return domain.AuthSession{}, ErrNotAuthenticated
	}
	var out supabaseSession
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.call(ctx, "/auth/v1/token?grant_type=refresh_token", "", body, &out); err != nil {
		return domain.AuthSession{}, err
	}
	return c.toDomain(out), nil
}

func (c *SupabaseClient) SignOut(ctx context.Context, session domain.AuthSession) error {
	return c.call(ctx, "/auth/v1/logout", session.AccessToken, nil, nil)
}

func (c *SupabaseClient) call(ctx context.Context, path, bearer string, in, out any) error {
	header := http.Header{}
	header.Set("apikey", c.anonKey)
	if bearer == "" {
		bearer = c.anonKey
	}
	header.Set("Authorization", "Bearer "+bearer)

	status, raw, err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+path, header, in, out)
	if err != nil {
		c.logger.Warn("supabase request failed", zap.String("path", path), zap.Error(err))
		return err
	}
	if status >= 300 {
		perr := c.parseError(status, raw)
		c.logger.Info("supabase rejected request",
			zap.String("path", path),
			zap.Int("status", status),
			zap.String("code", perr.Code),
		)
		return perr
	}
	return nil
}

func (c *SupabaseClient) parseError(status int, raw []byte) *ProviderError {
	var p supabaseErrorPayload
	_ = json.Unmarshal(raw, &p)
	code := p.ErrorCode
	if code == "" {
		code = p.Error
	}
	msg := p.Msg
	if msg == "" {
		msg = p.ErrorDescription
	}
	perr := &ProviderError{Provider: ProviderSupabase, Status: status, Code: code, Message: msg}
	switch code {
	case "invalid_credentials":
		perr.Err = ErrInvalidCredentials
	case "email_not_confirmed":
		perr.Err = ErrEmailNotVerified
	case "user_already_exists", "email_exists":
		perr.Err = ErrUserExists
	case "refresh_token_not_found", "refresh_token_already_used", "session_not_found", "bad_jwt":
		perr.Err = ErrNotAuthenticated
	case "invalid_grant":
		// GoTrue antiguo usa invalid_grant tanto para password como para refresh.
		if strings.Contains(strings.ToLower(msg), "refresh") {
			perr.Err = ErrNotAuthenticated
		} else {
			perr.Err = ErrInvalidCredentials
		}
	default:
		if status == http.StatusUnauthorized {
			perr.Err = ErrNotAuthenticated
		}
	}
	return perr
}

func (c *SupabaseClient) toDomain(s supabaseSession) domain.AuthSession {
	out := domain.AuthSession{
		Provider:     ProviderSupabase,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    expiresAt(c.now(), s.ExpiresIn, s.AccessToken),
	}
	if s.User != nil {
		out.User = domain.User{ID: s.User.ID, Email: s.User.Email}
		if name, ok := s.User.UserMetadata["display_name"].(string); ok {
			out.User.DisplayName = name
		} else if name, ok := s.User.UserMetadata["full_name"].(string); ok {
			out.User.DisplayName = name
		}
	}
	return out
}

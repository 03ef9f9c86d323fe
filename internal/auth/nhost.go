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

const ProviderNhost = "nhost"

// NhostClient habla con la API REST de Nhost Auth (hasura-auth).
type NhostClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

func NewNhostClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *NhostClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NhostClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

type nhostUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type nhostSession struct {
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresIn int64     `json:"accessTokenExpiresIn"`
	RefreshToken         string    `json:"refreshToken"`
	User                 nhostUser `json:"user"`
}

type nhostSessionPayload struct {
	Session *nhostSession `json:"session"`
}

type nhostErrorPayload struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *NhostClient) Name() string { return ProviderNhost }

func (c *NhostClient) SignIn(ctx context.Context, email, password string) (domain.AuthSession, error) {
	var out nhostSessionPayload
	body := map[string]string{"email": normalizeEmail(email), "password": password}
	if err := c.call(ctx, "/signin/email-password", nil, body, &out); err != nil {
		return domain.AuthSession{}, err
	}
	if out.Session == nil {
		// MFA u otro paso pendiente: no hay credencial utilizable.
		return domain.AuthSession{}, &ProviderError{Provider: ProviderNhost, Status: http.StatusOK, Message: "no session issued", Err: ErrNotAuthenticated}
	}
	return c.toDomain(*out.Session), nil
}

func (c *NhostClient) SignUp(ctx context.Context, email, password string) (*domain.AuthSession, error) {
	var out nhostSessionPayload
	body := map[string]string{"email": normalizeEmail(email), "password": password}
	if err := c.call(ctx, "/signup/email-password", nil, body, &out); err != nil {
		return nil, err
	}
	if out.Session == nil {
		c.logger.Info("nhost sign-up requires email verification", zap.String("email", normalizeEmail(email)))
		return nil, nil
	}
	s := c.toDomain(*out.Session)
	return &s, nil
}

func (c *NhostClient) Refresh(ctx context.Context, refreshToken string) (domain.AuthSession, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return domain.AuthSession{}, ErrNotAuthenticated
	}
	var out nhostSession
	if err := c.call(ctx, "/token", nil, map[string]string{"refreshToken": refreshToken}, &out); err != nil {
		return domain.AuthSession{}, err
	}
	return c.toDomain(out), nil
}

func (c *NhostClient) SignOut(ctx context.Context, session domain.AuthSession) error {
	header := http.Header{}
	if session.AccessToken != "" {
		header.Set("Authorization", "Bearer "+session.AccessToken)
	}
	body := map[string]any{"refreshToken": session.RefreshToken, "all": false}
	return c.call(ctx, "/signout", header, body, nil)
}

func (c *NhostClient) call(ctx context.Context, path string, header http.Header, in, out any) error {
	status, raw, err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+path, header, in, out)
	if err != nil {
		c.logger.Warn("nhost request failed", zap.String("path", path), zap.Error(err))
		return err
	}
	if status >= 300 {
		perr := c.parseError(status, raw)
		c.logger.Info("nhost rejected request",
			zap.String("path", path),
			zap.Int("status", status),
			zap.String("code", perr.Code),
		)
		return perr
	}
	return nil
}

func (c *NhostClient) parseError(status int, raw []byte) *ProviderError {
	var p nhostErrorPayload
	_ = json.Unmarshal(raw, &p)
	perr := &ProviderError{Provider: ProviderNhost, Status: status, Code: p.Error, Message: p.Message}
	switch p.Error {
	case "invalid-email-password", "invalid-password", "invalid-email":
		perr.Err = ErrInvalidCredentials
	case "unverified-user":
		perr.Err = ErrEmailNotVerified
	case "email-already-in-use":
		perr.Err = ErrUserExists
	case "invalid-refresh-token", "invalid-request":
		perr.Err = ErrNotAuthenticated
	default:
		if status == http.StatusUnauthorized {
			perr.Err = ErrNotAuthenticated
		}
	}
	return perr
}

func (c *NhostClient) toDomain(s nhostSession) domain.AuthSession {
	return domain.AuthSession{
		Provider:     ProviderNhost,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    expiresAt(c.now(), s.AccessTokenExpiresIn, s.AccessToken),
		User: domain.User{
			ID:          s.User.ID,
			Email:       s.User.Email,
			DisplayName: s.User.DisplayName,
		},
	}
}

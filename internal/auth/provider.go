package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chatbot-app/internal/domain"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrNotAuthenticated   = errors.New("auth: not authenticated")
	ErrEmailNotVerified   = errors.New("auth: email not verified")
	ErrUserExists         = errors.New("auth: user already exists")
)

// Provider es el proveedor de identidad alojado (Nhost o Supabase).
type Provider interface {
	Name() string
	SignIn(ctx context.Context, email, password string) (domain.AuthSession, error)
	// SignUp devuelve nil cuando el proveedor exige verificar el email antes de emitir sesión.
	SignUp(ctx context.Context, email, password string) (*domain.AuthSession, error)
	Refresh(ctx context.Context, refreshToken string) (domain.AuthSession, error)
	SignOut(ctx context.Context, session domain.AuthSession) error
}

// ProviderError es una respuesta de error del proveedor. Err es el sentinel equivalente, si lo hay.
type ProviderError struct {
	Provider string
	Status   int
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s auth error (status %d, %s): %s", e.Provider, e.Status, e.Code, msg)
	}
	return fmt.Sprintf("%s auth error (status %d): %s", e.Provider, e.Status, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// doJSON envía in como JSON y decodifica la respuesta 2xx en out.
// Para respuestas de error devuelve el status y el cuerpo crudo sin error de transporte.
func doJSON(ctx context.Context, hc *http.Client, method, url string, header http.Header, in, out any) (int, []byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, raw, nil
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, raw, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, raw, nil
}

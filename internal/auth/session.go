package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatbot-app/internal/domain"
)

// RefreshLeeway es el margen antes del vencimiento en el que se renueva el access token.
const RefreshLeeway = 30 * time.Second

// Session mantiene la credencial de un usuario: la renueva, la persiste y avisa de cambios.
// Implementa graphql.Credentials.
type Session struct {
	provider Provider
	store    TokenStore
	key      string
	logger   *zap.Logger
	now      func() time.Time

	refreshMu sync.Mutex

	mu        sync.Mutex
	current   *domain.AuthSession
	listeners map[int]func(*domain.AuthSession)
	nextID    int
}

// NewSession construye una sesión; initial puede ser nil (sin autenticar). store puede ser nil.
func NewSession(provider Provider, store TokenStore, key string, initial *domain.AuthSession, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		provider:  provider,
		store:     store,
		key:       key,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]func(*domain.AuthSession)),
	}
	if initial != nil {
		cp := *initial
		s.current = &cp
	}
	return s
}

// LoadSession restaura una sesión guardada bajo key.
func LoadSession(ctx context.Context, provider Provider, store TokenStore, key string, logger *zap.Logger) (*Session, error) {
	saved, err := store.Load(ctx, key)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return NewSession(provider, store, key, &saved, logger), nil
}

func (s *Session) Key() string { return s.key }

// Current devuelve una copia de la credencial vigente.
func (s *Session) Current() (domain.AuthSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.AuthSession{}, false
	}
	return *s.current, true
}

func (s *Session) Authenticated() bool {
	_, ok := s.Current()
	return ok
}

func (s *Session) User() domain.User {
	cur, _ := s.Current()
	return cur.User
}

// SignIn autentica con email y contraseña y reemplaza la credencial actual.
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	issued, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	s.set(ctx, &issued)
	return nil
}

// AccessToken devuelve un token vigente, renovándolo si vence dentro de RefreshLeeway.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	cur, ok := s.Current()
	if !ok {
		return "", ErrNotAuthenticated
	}
	if !cur.Expired(s.now(), RefreshLeeway) {
		return cur.AccessToken, nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// Otra goroutine pudo renovar mientras esperábamos.
	cur, ok = s.Current()
	if !ok {
		return "", ErrNotAuthenticated
	}
	if !cur.Expired(s.now(), RefreshLeeway) {
		return cur.AccessToken, nil
	}

	renewed, err := s.provider.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrInvalidCredentials) {
			s.logger.Info("refresh token rejected, signing out", zap.String("user_id", cur.User.ID))
			s.set(ctx, nil)
			return "", fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
		}
		return "", fmt.Errorf("refresh session: %w", err)
	}
	if renewed.User.ID == "" {
		renewed.User = cur.User
	}
	s.set(ctx, &renewed)
	return renewed.AccessToken, nil
}

// Headers implementa graphql.Credentials.
func (s *Session) Headers(ctx context.Context) (http.Header, error) {
	token, err := s.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

// OnChange registra cb para cada cambio de credencial (nil al cerrar sesión).
func (s *Session) OnChange(cb func(*domain.AuthSession)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = cb
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SignOut revoca en el proveedor (best effort) y olvida la credencial local.
func (s *Session) SignOut(ctx context.Context) error {
	cur, ok := s.Current()
	if !ok {
		return nil
	}
	s.set(ctx, nil)

	if err := s.provider.SignOut(ctx, cur); err != nil {
		s.logger.Warn("provider sign-out failed", zap.String("user_id", cur.User.ID), zap.Error(err))
		return err
	}
	return nil
}

func (s *Session) set(ctx context.Context, next *domain.AuthSession) {
	s.mu.Lock()
	s.current = next
	listeners := make([]func(*domain.AuthSession), 0, len(s.listeners))
	for _, cb := range s.listeners {
		listeners = append(listeners, cb)
	}
	s.mu.Unlock()

	if s.store != nil && s.key != "" {
		var err error
		if next == nil {
			err = s.store.Delete(ctx, s.key)
		} else {
			err = s.store.Save(ctx, s.key, *next, DefaultSessionTTL)
		}
		if err != nil {
			s.logger.Warn("token store update failed", zap.String("key", s.key), zap.Error(err))
		}
	}

	for _, cb := range listeners {
		if next == nil {
			cb(nil)
			continue
		}
		cp := *next
		cb(&cp)
	}
}

package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatbot-app/internal/auth"
	"chatbot-app/internal/domain"
)

// Factory arma el workspace de una sesión autenticada.
type Factory func(ctx context.Context, session *auth.Session) (*Workspace, error)

// Registry asocia cada sesión de navegador (un id opaco en cookie) con su workspace.
// Los workspaces se construyen a demanda desde el TokenStore.
type Registry struct {
	provider auth.Provider
	store    auth.TokenStore
	factory  Factory
	logger   *zap.Logger

	mu    sync.Mutex
	items map[string]*Workspace
}

func NewRegistry(provider auth.Provider, store auth.TokenStore, factory Factory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		provider: provider,
		store:    store,
		factory:  factory,
		logger:   logger,
		items:    make(map[string]*Workspace),
	}
}

// SignIn autentica y devuelve el id de la nueva sesión.
func (r *Registry) SignIn(ctx context.Context, email, password string) (string, error) {
	id := uuid.NewString()
	session := auth.NewSession(r.provider, r.store, id, nil, r.logger)
	if err := session.SignIn(ctx, email, password); err != nil {
		return "", err
	}
	if _, err := r.attach(ctx, id, session); err != nil {
		return "", err
	}
	return id, nil
}

// Adopt registra una sesión obtenida fuera de SignIn (por ejemplo tras un sign-up
// que devuelve credenciales inmediatas).
func (r *Registry) Adopt(ctx context.Context, initial domain.AuthSession) (string, error) {
	id := uuid.NewString()
	session := auth.NewSession(r.provider, r.store, id, &initial, r.logger)
	if r.store != nil {
		if err := r.store.Save(ctx, id, initial, auth.DefaultSessionTTL); err != nil {
			return "", fmt.Errorf("save session: %w", err)
		}
	}
	if _, err := r.attach(ctx, id, session); err != nil {
		return "", err
	}
	return id, nil
}

// Get devuelve el workspace de id, restaurándolo del store si hace falta.
// Sin sesión guardada devuelve auth.ErrNotAuthenticated.
func (r *Registry) Get(ctx context.Context, id string) (*Workspace, error) {
	if id == "" {
		return nil, auth.ErrNotAuthenticated
	}
	r.mu.Lock()
	ws, ok := r.items[id]
	r.mu.Unlock()
	if ok {
		return ws, nil
	}

	if r.store == nil {
		return nil, auth.ErrNotAuthenticated
	}
	session, err := auth.LoadSession(ctx, r.provider, r.store, id, r.logger)
	if err != nil {
		if !errors.Is(err, auth.ErrNotAuthenticated) {
			r.logger.Warn("session restore failed", zap.Error(err))
		}
		return nil, auth.ErrNotAuthenticated
	}
	return r.attach(ctx, id, session)
}

func (r *Registry) attach(ctx context.Context, id string, session *auth.Session) (*Workspace, error) {
	ws, err := r.factory(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("build workspace: %w", err)
	}

	r.mu.Lock()
	if existing, ok := r.items[id]; ok {
		r.mu.Unlock()
		ws.Close()
		return existing, nil
	}
	r.items[id] = ws
	r.mu.Unlock()

	session.OnChange(func(next *domain.AuthSession) {
		if next == nil {
			// El cierre espera a los productores; puede dispararse desde uno de ellos.
			go r.Drop(id)
		}
	})
	ws.Start()
	return ws, nil
}

// SignOut cierra la sesión id en el proveedor y descarta su workspace.
func (r *Registry) SignOut(ctx context.Context, id string) error {
	ws, err := r.Get(ctx, id)
	if err != nil {
		if r.store != nil {
			_ = r.store.Delete(ctx, id)
		}
		return nil
	}
	err = ws.Session().SignOut(ctx)
	r.Drop(id)
	return err
}

// Drop cierra y olvida el workspace de id.
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	ws, ok := r.items[id]
	delete(r.items, id)
	r.mu.Unlock()
	if ok {
		ws.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Close cierra todos los workspaces.
func (r *Registry) Close() {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]*Workspace)
	r.mu.Unlock()
	for _, ws := range items {
		ws.Close()
	}
}

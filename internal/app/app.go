// Package app construye las dependencias compartidas por los binarios a partir de la
// configuración: proveedor de identidad, almacenamiento de sesiones, backend y canal
// de sincronización.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chatbot-app/internal/auth"
	"chatbot-app/internal/bot"
	"chatbot-app/internal/config"
	"chatbot-app/internal/db"
	"chatbot-app/internal/graphql"
	"chatbot-app/internal/livesync"
	"chatbot-app/internal/repository"
	"chatbot-app/internal/service"
	"chatbot-app/internal/workspace"
)

// App agrupa las dependencias de proceso. Close libera pool y redis.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Provider auth.Provider
	Tokens   auth.TokenStore
	Limiter  auth.RateLimiter
	Bot      bot.Client
	JWT      *service.JWTService

	httpClient *http.Client
	gql        *graphql.Client
	subscriber *graphql.Subscriber
	pool       *pgxpool.Pool
	redis      *redis.Client
}

// NewLogger arma el logger según LOG_FORMAT y LOG_LEVEL.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("%w: LOG_LEVEL: %v", config.ErrInvalidConfig, err)
	}
	var zcfg zap.Config
	if strings.EqualFold(cfg.LogFormat, "console") {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// New conecta los servicios externos que la configuración pide.
// Redis es opcional: si no responde se usan los stores en memoria.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:     cfg,
		Logger:     logger,
		JWT:        service.NewJWTService(cfg.HasuraJWTSecret),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}

	switch cfg.AuthProvider {
	case config.AuthProviderSupabase:
		a.Provider = auth.NewSupabaseClient(cfg.AuthEndpoint(), cfg.SupabaseAnonKey, a.httpClient, logger)
	default:
		a.Provider = auth.NewNhostClient(cfg.AuthEndpoint(), a.httpClient, logger)
	}

	redisClient, err := db.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn("redis ping failed, using in-memory session store", zap.Error(err))
	}
	if redisClient != nil {
		a.redis = redisClient
		a.Tokens = auth.NewRedisTokenStore(redisClient)
		a.Limiter = auth.NewRedisRateLimiter(redisClient, cfg.SignInRateWindow, cfg.SignInRateLimit)
	} else {
		a.Tokens = auth.NewMemoryTokenStore()
		a.Limiter = auth.NewMemoryRateLimiter(cfg.SignInRateWindow, cfg.SignInRateLimit)
	}

	if cfg.BotWebhookURL != "" {
		a.Bot = bot.NewWebhookClient(cfg.BotWebhookURL, cfg.BotWebhookTimeout, logger)
	} else {
		logger.Warn("bot webhook not configured, replies will use the fallback message")
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := db.Ping(ctx, pool); err != nil {
			pool.Close()
			a.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			a.Close()
			return nil, fmt.Errorf("db schema: %w", err)
		}
		a.pool = pool
	default:
		a.gql = graphql.NewClient(cfg.GraphQLEndpoint(), nil, a.httpClient, logger)
		if cfg.SyncMode == config.SyncModePush {
			a.subscriber = graphql.NewSubscriber(cfg.GraphQLWSEndpoint(), nil, logger)
		}
	}
	return a, nil
}

// NewWorkspace arma el workspace de una sesión; implementa workspace.Factory.
func (a *App) NewWorkspace(_ context.Context, session *auth.Session) (*workspace.Workspace, error) {
	user := session.User()
	logger := a.Logger.With(zap.String("user_id", user.ID))

	var (
		chats      repository.ChatRepository
		messages   repository.MessageRepository
		delegation service.Delegator
		channel    livesync.Channel
	)
	switch {
	case a.pool != nil:
		if user.ID == "" {
			return nil, fmt.Errorf("postgres backend: %w", auth.ErrNotAuthenticated)
		}
		chats = repository.NewPgChatRepository(a.pool, user.ID)
		messages = repository.NewPgMessageRepository(a.pool, user.ID)
		delegation = service.NewLocalDelegation(a.Bot, messages, user.ID, logger)
	case a.gql != nil:
		client := a.gql.WithCredentials(session)
		// Un 401 del gateway cierra la sesión; el registry descarta el workspace.
		client.SetUnauthorizedHandler(func(ctx context.Context) {
			_ = session.SignOut(context.WithoutCancel(ctx))
		})
		chats = repository.NewHasuraChatRepository(client)
		messages = repository.NewHasuraMessageRepository(client)
		delegation = service.NewHasuraDelegation(client)
	default:
		return nil, fmt.Errorf("%w: no backend configured", config.ErrInvalidConfig)
	}

	if a.subscriber != nil {
		sub := a.subscriber.WithCredentials(session)
		sub.SetUnauthorizedHandler(func(ctx context.Context) {
			_ = session.SignOut(context.WithoutCancel(ctx))
		})
		channel = livesync.NewPushChannel(sub, logger)
	} else {
		channel = livesync.NewPollChannel(chats, messages, a.Config.MessagesPollInterval, a.Config.ChatsPollInterval, logger)
	}

	messageSvc := service.NewMessageService(messages, chats, logger)
	return workspace.New(workspace.Deps{
		Session: session,
		Channel: channel,
		Chats:   service.NewChatService(chats, logger),
		Flow:    service.NewSendFlow(messageSvc, delegation, logger),
	}, logger), nil
}

// Registry devuelve un registry de workspaces sobre el TokenStore de la app.
func (a *App) Registry() *workspace.Registry {
	return workspace.NewRegistry(a.Provider, a.Tokens, a.NewWorkspace, a.Logger)
}

// ReplyStore indica dónde guarda la acción sendMessage la respuesta del bot.
// Devuelve nil si ACTION_PERSIST_REPLY está apagado.
func (a *App) ReplyStore() func(userID string) repository.MessageRepository {
	if !a.Config.ActionPersistReply {
		return nil
	}
	if a.pool != nil {
		return func(userID string) repository.MessageRepository {
			if userID == "" {
				return nil
			}
			return repository.NewPgMessageRepository(a.pool, userID)
		}
	}
	if a.gql == nil || a.Config.HasuraAdminSecret == "" {
		a.Logger.Warn("ACTION_PERSIST_REPLY needs HASURA_ADMIN_SECRET, replies will not be stored")
		return nil
	}
	// La escritura corre con el rol user del autor: Hasura rechaza chats ajenos.
	secret := a.Config.HasuraAdminSecret
	return func(userID string) repository.MessageRepository {
		if userID == "" {
			return nil
		}
		client := a.gql.WithCredentials(graphql.ActAsUser{Secret: secret, UserID: userID})
		return repository.NewHasuraMessageRepository(client)
	}
}

func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"chatbot-app/internal/app"
	"chatbot-app/internal/config"
	apihttp "chatbot-app/internal/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	if cfg.LogFormat != "console" {
		gin.SetMode(gin.ReleaseMode)
	}

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init dependencies", zap.Error(err))
	}
	defer deps.Close()

	registry := deps.Registry()
	defer registry.Close()

	if !deps.JWT.Configured() {
		logger.Warn("HASURA_JWT_SECRET not configured, action requests are authenticated by secret only")
	}
	var actionHandler *apihttp.ActionHandler
	if cfg.ActionSecret != "" {
		actionHandler = apihttp.NewActionHandler(logger, deps.Bot, deps.ReplyStore())
	} else {
		logger.Warn("ACTION_SECRET not configured, /actions/send-message disabled")
	}

	router := apihttp.NewRouter(logger, apihttp.RouterDeps{
		Registry:     registry,
		Auth:         apihttp.NewAuthHandler(logger, registry, deps.Provider, deps.Limiter, cfg.CookieSecure),
		Chat:         apihttp.NewChatHandler(logger),
		Action:       actionHandler,
		ActionJWT:    deps.JWT,
		ActionSecret: cfg.ActionSecret,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("auth_provider", deps.Provider.Name()),
		zap.String("backend", cfg.Backend),
		zap.String("sync_mode", cfg.SyncMode),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatbot-app/internal/app"
	"chatbot-app/internal/auth"
	"chatbot-app/internal/bot"
	"chatbot-app/internal/config"
	"chatbot-app/internal/domain"
	"chatbot-app/internal/livesync"
	"chatbot-app/internal/service"
	"chatbot-app/internal/workspace"
)

const (
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
	colorReset = "\033[0m"
)

type options struct {
	email    string
	password string
	message  string
	timeout  time.Duration
	offline  bool
	debug    bool
}

func main() {
	var opts options

	root := &cobra.Command{
		Use:   "roundtrip_check",
		Short: "Create a chat, send one message and verify the bot round trip",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.password == "" {
				opts.password = os.Getenv("ROUNDTRIP_PASSWORD")
			}
			ok, err := run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("round trip failed")
			}
			return nil
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&opts.email, "email", "e", os.Getenv("ROUNDTRIP_EMAIL"), "account email")
	root.Flags().StringVarP(&opts.password, "password", "p", "", "account password (default $ROUNDTRIP_PASSWORD)")
	root.Flags().StringVarP(&opts.message, "message", "m", "hello", "message to send")
	root.Flags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "max time to wait for the reply")
	root.Flags().BoolVar(&opts.offline, "offline", false, "run against in-memory stores and an echo bot")
	root.Flags().BoolVar(&opts.debug, "debug", false, "log to stderr")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) (bool, error) {
	_ = godotenv.Load()

	// En modo offline no hace falta configurar proveedor ni backend.
	cfg := &config.Config{LogLevel: "debug", LogFormat: "console"}
	if !opts.offline {
		var err error
		if cfg, err = config.LoadConfig(); err != nil {
			return false, err
		}
		cfg.LogFormat = "console"
	}
	logger := zap.NewNop()
	if opts.debug {
		var err error
		if logger, err = app.NewLogger(cfg); err != nil {
			return false, err
		}
	}
	defer logger.Sync()

	var ws *workspace.Workspace
	if opts.offline {
		ws = offlineWorkspace(logger)
	} else {
		var (
			cleanup func()
			err     error
		)
		ws, cleanup, err = onlineWorkspace(ctx, cfg, opts, logger)
		if err != nil {
			return false, err
		}
		defer cleanup()
	}
	ws.Start()
	defer ws.Close()

	changes, stop := ws.Watch()
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	started := time.Now()
	chat, err := ws.CreateChat(ctx)
	if err != nil {
		return false, fmt.Errorf("create chat: %w", err)
	}
	fmt.Printf("%s[Chat]%s %s (%s)\n", colorCyan, colorReset, chat.Title, chat.ID)

	if !ws.Send(opts.message) {
		return false, errors.New("send was not started")
	}
	fmt.Printf("%s[Tu]%s %s\n", colorCyan, colorReset, opts.message)

	state, err := waitSettled(ctx, ws, changes, chat.ID)
	ws.Wait()
	if err != nil {
		fmt.Printf("%serror:%s %v\n", colorRed, colorReset, err)
		state = ws.State()
	}

	rt := roundTrip{
		Title:      chat.Title,
		Messages:   state.Transcript.Messages,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	for _, c := range state.Chats.Chats {
		if c.ID == chat.ID {
			rt.Preview = c.Preview
		}
	}
	for _, m := range rt.Messages {
		if m.IsBot {
			fmt.Printf("%s[Bot]%s %s\n", colorGreen, colorReset, m.Content)
		}
	}

	checks := verifyRoundTrip(rt, opts.message)
	fmt.Println("==== Verificación ====")
	for _, c := range checks {
		mark := colorGreen + "OK  " + colorReset
		if !c.OK {
			mark = colorRed + "FAIL" + colorReset
		}
		fmt.Printf("%s %-24s %s\n", mark, c.Name, c.Detail)
	}
	return passed(checks), nil
}

// waitSettled espera hasta que el envío terminó, hay una respuesta del bot y la
// vista previa del chat ya muestra el último mensaje.
func waitSettled(ctx context.Context, ws *workspace.Workspace, changes <-chan struct{}, chatID string) (workspace.State, error) {
	for {
		state := ws.State()
		if settled(state, chatID) {
			return state, nil
		}
		if state.Transcript.ChatID == chatID && state.Transcript.SendErr != "" {
			return state, fmt.Errorf("send failed: %s", state.Transcript.SendErr)
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return state, errors.New("workspace closed")
			}
		}
	}
}

func settled(state workspace.State, chatID string) bool {
	tv := state.Transcript
	if tv.ChatID != chatID || tv.Sending || tv.Composing || len(tv.Messages) < 2 {
		return false
	}
	last := tv.Messages[len(tv.Messages)-1]
	if !last.IsBot {
		return false
	}
	for _, c := range state.Chats.Chats {
		if c.ID == chatID {
			return c.Preview == domain.Chat{LastMessage: &last}.Preview()
		}
	}
	return false
}

func onlineWorkspace(ctx context.Context, cfg *config.Config, opts options, logger *zap.Logger) (*workspace.Workspace, func(), error) {
	if opts.email == "" || opts.password == "" {
		return nil, nil, errors.New("--email and --password (or $ROUNDTRIP_PASSWORD) are required")
	}
	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	session := auth.NewSession(deps.Provider, nil, "roundtrip", nil, logger)
	if err := session.SignIn(ctx, opts.email, opts.password); err != nil {
		deps.Close()
		return nil, nil, fmt.Errorf("sign in: %w", err)
	}
	ws, err := deps.NewWorkspace(ctx, session)
	if err != nil {
		_ = session.SignOut(context.Background())
		deps.Close()
		return nil, nil, err
	}
	return ws, func() {
		_ = session.SignOut(context.Background())
		deps.Close()
	}, nil
}

func offlineWorkspace(logger *zap.Logger) *workspace.Workspace {
	store := newMemoryStore()
	chats := memoryChatRepo{s: store}
	messages := memoryMessageRepo{s: store, userID: "offline"}

	channel := livesync.NewPollChannel(chats, messages, 100*time.Millisecond, 100*time.Millisecond, logger)
	delegation := service.NewLocalDelegation(bot.EchoClient{}, memoryMessageRepo{s: store}, "offline", logger)
	flow := service.NewSendFlow(service.NewMessageService(messages, chats, logger), delegation, logger)

	return workspace.New(workspace.Deps{
		Channel: channel,
		Chats:   service.NewChatService(chats, logger),
		Flow:    flow,
	}, logger)
}

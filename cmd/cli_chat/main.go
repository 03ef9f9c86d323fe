package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"chatbot-app/internal/app"
	"chatbot-app/internal/auth"
	"chatbot-app/internal/config"
	"chatbot-app/internal/domain"
	"chatbot-app/internal/workspace"
)

func main() {
	var (
		email  string
		chatID string
		debug  bool
	)

	root := &cobra.Command{
		Use:   "cli_chat",
		Short: "Chat with the bot from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), email, chatID, debug)
		},
	}
	root.Flags().StringVarP(&email, "email", "e", "", "account email (prompted when empty)")
	root.Flags().StringVarP(&chatID, "chat", "c", "", "open this chat instead of choosing one")
	root.Flags().BoolVar(&debug, "debug", false, "log to stderr")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, email, chatID string, debug bool) error {
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if debug {
		cfg.LogFormat = "console"
		if logger, err = app.NewLogger(cfg); err != nil {
			return err
		}
	}
	defer logger.Sync()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	if email == "" {
		email = prompt(reader, "Email: ")
	}
	password, err := promptPassword(reader, "Password: ")
	if err != nil {
		return err
	}

	session := auth.NewSession(deps.Provider, nil, "cli", nil, logger)
	if err := session.SignIn(ctx, email, password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return errors.New("invalid email or password")
		}
		return fmt.Errorf("sign in: %w", err)
	}
	defer session.SignOut(context.Background())

	ws, err := deps.NewWorkspace(ctx, session)
	if err != nil {
		return err
	}
	ws.Start()
	defer ws.Close()

	out := newPrinter(ws)
	go out.follow()

	if chatID == "" {
		chatID, err = chooseChat(ctx, reader, ws)
		if err != nil {
			return err
		}
	}
	ws.Select(chatID)

	fmt.Println("---- Chat (/chats para listar, /open N, /new, /quit) ----")
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			ws.Wait()
			return nil
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			ws.Wait()
			return nil
		case line == "/chats":
			printChats(ws.State().Chats.Chats)
		case line == "/new":
			chat, err := ws.CreateChat(ctx)
			if err != nil {
				fmt.Printf("error creando chat: %v\n", err)
				continue
			}
			fmt.Printf("== %s ==\n", chat.Title)
		case strings.HasPrefix(line, "/open "):
			chats := ws.State().Chats.Chats
			idx, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
			if err != nil || idx < 1 || idx > len(chats) {
				fmt.Println("Seleccion invalida.")
				continue
			}
			out.reset()
			ws.Select(chats[idx-1].ID)
			fmt.Printf("== %s ==\n", chats[idx-1].Title)
		default:
			if !ws.Send(line) {
				fmt.Println("Selecciona un chat primero.")
			}
		}
	}
}

func chooseChat(ctx context.Context, reader *bufio.Reader, ws *workspace.Workspace) (string, error) {
	deadline := time.Now().Add(10 * time.Second)
	for ws.State().Chats.Loading && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	state := ws.State().Chats
	if state.Err != "" {
		return "", fmt.Errorf("listar chats: %s", state.Err)
	}

	printChats(state.Chats)
	fmt.Println("[N] Nuevo chat")
	choice := prompt(reader, "Selecciona un chat: ")
	if strings.EqualFold(choice, "N") || len(state.Chats) == 0 {
		chat, err := ws.CreateChat(ctx)
		if err != nil {
			return "", fmt.Errorf("crear chat: %w", err)
		}
		fmt.Printf("== %s ==\n", chat.Title)
		return chat.ID, nil
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(state.Chats) {
		return "", errors.New("seleccion invalida")
	}
	return state.Chats[idx-1].ID, nil
}

func printChats(chats []workspace.ChatItem) {
	if len(chats) == 0 {
		fmt.Println("No hay chats.")
		return
	}
	for i, c := range chats {
		fmt.Printf("[%d] %s  %s\n", i+1, c.Title, c.Preview)
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// promptPassword lee sin eco cuando stdin es una terminal.
func promptPassword(reader *bufio.Reader, label string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return prompt(reader, label), nil
	}
	fmt.Print(label)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("leer password: %w", err)
	}
	return string(password), nil
}

// printer imprime los mensajes nuevos del chat activo a medida que llegan.
type printer struct {
	ws *workspace.Workspace

	mu          sync.Mutex
	seen        map[string]struct{}
	composing   bool
	lastErr     string
	lastSendErr string
}

func newPrinter(ws *workspace.Workspace) *printer {
	return &printer{ws: ws, seen: make(map[string]struct{})}
}

func (p *printer) reset() {
	p.mu.Lock()
	p.seen = make(map[string]struct{})
	p.composing = false
	p.lastErr = ""
	p.lastSendErr = ""
	p.mu.Unlock()
}

func (p *printer) follow() {
	changes, stop := p.ws.Watch()
	defer stop()
	for range changes {
		p.print(p.ws.State().Transcript)
	}
}

func (p *printer) print(v workspace.TranscriptView) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range v.Messages {
		if _, ok := p.seen[m.ID]; ok {
			continue
		}
		p.seen[m.ID] = struct{}{}
		fmt.Printf("%s > %s\n", author(m), m.Content)
	}
	if v.Composing && !p.composing {
		fmt.Println("(el bot está escribiendo...)")
	}
	p.composing = v.Composing
	if v.Err != "" && v.Err != p.lastErr {
		fmt.Printf("error: %s\n", v.Err)
	}
	p.lastErr = v.Err
	if v.SendErr != "" && v.SendErr != p.lastSendErr {
		fmt.Printf("no se pudo enviar: %s\n", v.SendErr)
	}
	p.lastSendErr = v.SendErr
}

func author(m domain.Message) string {
	if m.IsBot {
		return "Bot"
	}
	return "Tu"
}

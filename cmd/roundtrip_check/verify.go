package main

import (
	"fmt"
	"strings"
	"time"

	"chatbot-app/internal/domain"
	"chatbot-app/internal/service"
)

// roundTrip es lo observado después de crear un chat y enviar un mensaje.
type roundTrip struct {
	Title      string
	Messages   []domain.Message
	Preview    string
	StartedAt  time.Time
	FinishedAt time.Time
}

type check struct {
	Name   string
	OK     bool
	Detail string
}

// verifyRoundTrip compara la transcripción final contra lo esperado para un único envío.
func verifyRoundTrip(rt roundTrip, sent string) []check {
	sent = strings.TrimSpace(sent)
	checks := make([]check, 0, 5)

	wantTitles := []string{service.DefaultChatTitle(rt.StartedAt), service.DefaultChatTitle(rt.FinishedAt)}
	checks = append(checks, check{
		Name:   "default title",
		OK:     rt.Title == wantTitles[0] || rt.Title == wantTitles[1],
		Detail: fmt.Sprintf("got %q, want %q", rt.Title, wantTitles[0]),
	})

	var human, bots []int
	for i, m := range rt.Messages {
		if m.IsBot {
			bots = append(bots, i)
			continue
		}
		human = append(human, i)
	}

	humanOK := len(human) == 1 && rt.Messages[human[0]].Content == sent
	checks = append(checks, check{
		Name:   "one human message",
		OK:     humanOK,
		Detail: fmt.Sprintf("%d human messages", len(human)),
	})

	botOK := len(bots) == 1 && len(human) == 1 && bots[0] > human[0]
	checks = append(checks, check{
		Name:   "one bot reply after it",
		OK:     botOK,
		Detail: fmt.Sprintf("%d bot messages", len(bots)),
	})

	if len(bots) == 1 {
		reply := rt.Messages[bots[0]].Content
		checks = append(checks, check{
			Name:   "bot answered",
			OK:     reply != service.FallbackMessage && strings.TrimSpace(reply) != "",
			Detail: fmt.Sprintf("reply %q", reply),
		})
	}

	wantPreview := ""
	if n := len(rt.Messages); n > 0 {
		last := rt.Messages[n-1]
		wantPreview = domain.Chat{LastMessage: &last}.Preview()
	}
	checks = append(checks, check{
		Name:   "preview shows latest",
		OK:     wantPreview != "" && rt.Preview == wantPreview,
		Detail: fmt.Sprintf("got %q, want %q", rt.Preview, wantPreview),
	})

	return checks
}

func passed(checks []check) bool {
	for _, c := range checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Package livesync mantiene frescas las listas de chats y mensajes, por polling o por
// suscripción GraphQL, detrás de una única interfaz.
package livesync

import (
	"context"
	"sync"
	"time"

	"chatbot-app/internal/domain"
)

// Channel entrega snapshots completos; cada uno reemplaza al anterior.
type Channel interface {
	Messages(ctx context.Context, chatID string) *Subscription[[]domain.Message]
	Chats(ctx context.Context) *Subscription[[]domain.Chat]
}

// Snapshot es el estado completo observado en un instante.
type Snapshot[T any] struct {
	Data   T
	Err    error
	At     time.Time
	Cached bool
}

// Subscription es una secuencia de snapshots producida por una goroutine.
// Cuando Close retorna el productor terminó y Updates está cerrado.
type Subscription[T any] struct {
	updates chan Snapshot[T]
	refresh chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

type producer[T any] func(ctx context.Context, emit func(Snapshot[T]) bool, refresh <-chan struct{})

func start[T any](parent context.Context, run producer[T]) *Subscription[T] {
	ctx, cancel := context.WithCancel(parent)
	s := &Subscription[T]{
		updates: make(chan Snapshot[T]),
		refresh: make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	emit := func(snap Snapshot[T]) bool {
		select {
		case s.updates <- snap:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(s.done)
		defer close(s.updates)
		defer cancel()
		run(ctx, emit, s.refresh)
	}()
	return s
}

func (s *Subscription[T]) Updates() <-chan Snapshot[T] {
	return s.updates
}

// Refresh pide un fetch inmediato. Es no bloqueante y no hace nada en modo push.
func (s *Subscription[T]) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Done se cierra cuando el productor termina, por Close o por fin del stream.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription[T]) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

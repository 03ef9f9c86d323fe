package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Protocolo graphql-transport-ws (el que habla Hasura v2).
const (
	wsProtocol = "graphql-transport-ws"

	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

var ErrSubscriptionClosed = errors.New("graphql: subscription closed by server")

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event es un payload entregado por una suscripción.
type Event struct {
	Data json.RawMessage
	Err  error
}

// Subscriber abre suscripciones sobre websocket, una conexión por suscripción.
type Subscriber struct {
	endpoint   string
	creds      Credentials
	dialer     *websocket.Dialer
	ackTimeout time.Duration
	logger     *zap.Logger

	mu             sync.Mutex
	onUnauthorized func(ctx context.Context)
}

func NewSubscriber(endpoint string, creds Credentials, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		endpoint: endpoint,
		creds:    creds,
		dialer: &websocket.Dialer{
			Subprotocols:     []string{wsProtocol},
			HandshakeTimeout: 10 * time.Second,
		},
		ackTimeout: 10 * time.Second,
		logger:     logger,
	}
}

// WithCredentials devuelve una copia con otras credenciales. El handler de
// no autorizado no se copia.
func (s *Subscriber) WithCredentials(creds Credentials) *Subscriber {
	return &Subscriber{
		endpoint:   s.endpoint,
		creds:      creds,
		dialer:     s.dialer,
		ackTimeout: s.ackTimeout,
		logger:     s.logger,
	}
}

// SetUnauthorizedHandler registra el callback para conexiones rechazadas o
// eventos con error de JWT.
func (s *Subscriber) SetUnauthorizedHandler(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUnauthorized = fn
}

func (s *Subscriber) unauthorized(ctx context.Context, operation string) {
	s.logger.Info("subscription unauthorized, user needs to sign in again", zap.String("operation", operation))
	s.mu.Lock()
	fn := s.onUnauthorized
	s.mu.Unlock()
	if fn != nil {
		fn(ctx)
	}
}

// Subscribe abre la suscripción. El canal devuelto se cierra cuando ctx se cancela,
// el servidor completa la operación o la conexión falla (tras entregar un Event con Err).
func (s *Subscriber) Subscribe(ctx context.Context, req Request) (<-chan Event, error) {
	headers := http.Header{}
	if s.creds != nil {
		h, err := s.creds.Headers(ctx)
		if err != nil {
			s.unauthorized(ctx, req.OperationName)
			return nil, &Error{Kind: KindUnauthorized, Err: err}
		}
		headers = h
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &Error{Kind: KindNetwork, Status: status, Err: fmt.Errorf("dial: %w", err)}
	}
	ws := &wsConn{conn: conn}

	initPayload := map[string]any{"headers": flattenHeaders(headers)}
	if err := ws.send(wsMessage{Type: msgConnectionInit, Payload: mustJSON(initPayload)}); err != nil {
		conn.Close()
		return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("connection_init: %w", err)}
	}
	if err := s.awaitAck(ws); err != nil {
		conn.Close()
		if errors.Is(err, ErrUnauthorized) {
			s.unauthorized(ctx, req.OperationName)
		}
		return nil, err
	}

	id := uuid.NewString()
	if err := ws.send(wsMessage{ID: id, Type: msgSubscribe, Payload: mustJSON(req)}); err != nil {
		conn.Close()
		return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("subscribe: %w", err)}
	}

	out := make(chan Event)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.send(wsMessage{ID: id, Type: msgComplete})
			_ = ws.close()
		case <-done:
			_ = ws.close()
		}
	}()
	go s.readLoop(ctx, ws, id, req.OperationName, out, done)
	return out, nil
}

func (s *Subscriber) awaitAck(ws *wsConn) error {
	_ = ws.conn.SetReadDeadline(time.Now().Add(s.ackTimeout))
	defer ws.conn.SetReadDeadline(time.Time{})
	for {
		var msg wsMessage
		if err := ws.conn.ReadJSON(&msg); err != nil {
			if isAuthClose(err) {
				return &Error{Kind: KindUnauthorized, Err: err}
			}
			return &Error{Kind: KindNetwork, Err: fmt.Errorf("await ack: %w", err)}
		}
		switch msg.Type {
		case msgConnectionAck:
			return nil
		case msgPing:
			if err := ws.send(wsMessage{Type: msgPong}); err != nil {
				return &Error{Kind: KindNetwork, Err: err}
			}
		default:
			return &Error{Kind: KindUnauthorized, Messages: []string{"connection rejected: " + msg.Type + " " + string(msg.Payload)}}
		}
	}
}

func (s *Subscriber) readLoop(ctx context.Context, ws *wsConn, id, operation string, out chan<- Event, done chan<- struct{}) {
	defer close(out)
	defer close(done)

	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var msg wsMessage
		if err := ws.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			if isAuthClose(err) {
				s.unauthorized(ctx, operation)
				emit(Event{Err: &Error{Kind: KindUnauthorized, Err: err}})
				return
			}
			s.logger.Warn("subscription read failed", zap.String("operation", operation), zap.Error(err))
			emit(Event{Err: &Error{Kind: KindNetwork, Err: err}})
			return
		}
		switch msg.Type {
		case msgPing:
			if err := ws.send(wsMessage{Type: msgPong}); err != nil {
				emit(Event{Err: &Error{Kind: KindNetwork, Err: err}})
				return
			}
		case msgNext:
			if msg.ID != id {
				continue
			}
			var r response
			if err := json.Unmarshal(msg.Payload, &r); err != nil {
				if !emit(Event{Err: &Error{Kind: KindDecode, Err: err}}) {
					return
				}
				continue
			}
			if len(r.Errors) > 0 {
				gerr := &Error{Kind: KindGraphQL}
				for _, e := range r.Errors {
					gerr.Messages = append(gerr.Messages, e.Message)
					if isAuthCode(e.Extensions.Code) {
						gerr.Kind = KindUnauthorized
					}
				}
				if gerr.Kind == KindUnauthorized {
					s.unauthorized(ctx, operation)
				}
				if !emit(Event{Err: gerr}) {
					return
				}
				continue
			}
			if !emit(Event{Data: r.Data}) {
				return
			}
		case msgError:
			var errs []gqlError
			_ = json.Unmarshal(msg.Payload, &errs)
			gerr := &Error{Kind: KindGraphQL}
			for _, e := range errs {
				gerr.Messages = append(gerr.Messages, e.Message)
			}
			emit(Event{Err: gerr})
			return
		case msgComplete:
			if msg.ID == id {
				emit(Event{Err: ErrSubscriptionClosed})
				return
			}
		}
	}
}

// Cierres 4401/4403 del protocolo: el servidor rechazó la autorización.
func isAuthClose(err error) bool {
	return websocket.IsCloseError(err, 4401, 4403)
}

type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (w *wsConn) send(msg wsMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return websocket.ErrCloseSent
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return w.conn.WriteJSON(msg)
}

func (w *wsConn) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return w.conn.Close()
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

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

	gqlclient "github.com/hasura/go-graphql-client"
	"go.uber.org/zap"
)

// Credentials aporta las cabeceras de autorización de cada request.
type Credentials interface {
	Headers(ctx context.Context) (http.Header, error)
}

// AdminSecret autoriza con x-hasura-admin-secret (uso de servidor, nunca en el navegador).
type AdminSecret string

func (s AdminSecret) Headers(_ context.Context) (http.Header, error) {
	h := http.Header{}
	if s != "" {
		h.Set("x-hasura-admin-secret", string(s))
	}
	return h, nil
}

// ActAsUser usa el admin secret pero baja al rol user con x-hasura-user-id, así
// Hasura aplica los permisos de ese usuario. Es para escrituras hechas por el servidor
// en nombre de alguien.
type ActAsUser struct {
	Secret string
	UserID string
}

func (a ActAsUser) Headers(_ context.Context) (http.Header, error) {
	if a.Secret == "" || a.UserID == "" {
		return nil, errors.New("act as user: admin secret and user id are required")
	}
	h := http.Header{}
	h.Set("x-hasura-admin-secret", a.Secret)
	h.Set("x-hasura-role", "user")
	h.Set("x-hasura-user-id", a.UserID)
	return h, nil
}

// Request es una operación GraphQL.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

func (r Request) isQuery() bool {
	q := strings.TrimSpace(r.Query)
	return strings.HasPrefix(q, "query") || strings.HasPrefix(q, "{")
}

func (r Request) cacheKey() string {
	vars, _ := json.Marshal(r.Variables)
	return r.OperationName + "|" + r.Query + "|" + string(vars)
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
		Path string `json:"path"`
	} `json:"extensions"`
}

// Client ejecuta operaciones contra el endpoint de Hasura.
type Client struct {
	endpoint   string
	creds      Credentials
	httpClient *http.Client
	logger     *zap.Logger
	cache      *Cache

	mu             sync.Mutex
	onUnauthorized func(ctx context.Context)
}

// NewClient construye un cliente HTTP; creds puede ser nil para operaciones anónimas.
func NewClient(endpoint string, creds Credentials, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:   endpoint,
		creds:      creds,
		httpClient: httpClient,
		logger:     logger,
		cache:      NewCache(),
	}
}

// WithCredentials devuelve una copia con otras credenciales y caché propia.
func (c *Client) WithCredentials(creds Credentials) *Client {
	return NewClient(c.endpoint, creds, c.httpClient, c.logger)
}

// SetUnauthorizedHandler registra el callback para respuestas 401 / invalid-jwt.
func (c *Client) SetUnauthorizedHandler(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// Cached decodifica en out la última respuesta exitosa de una query, si existe.
func (c *Client) Cached(req Request, out any) bool {
	raw, ok := c.cache.Get(req.cacheKey())
	if !ok {
		return false
	}
	if out == nil {
		return true
	}
	return json.Unmarshal(raw, out) == nil
}

// Do ejecuta la operación y decodifica data en out.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	doer := &headerDoer{base: c.httpClient}
	if c.creds != nil {
		headers, err := c.creds.Headers(ctx)
		if err != nil {
			return &Error{Kind: KindUnauthorized, Err: err}
		}
		doer.headers = headers
	}

	var opts []gqlclient.Option
	if req.OperationName != "" {
		opts = append(opts, gqlclient.OperationName(req.OperationName))
	}
	data, err := gqlclient.NewClient(c.endpoint, doer).ExecRaw(ctx, req.Query, req.Variables, opts...)
	if err != nil {
		return c.normalize(ctx, req, doer.status, err)
	}

	if req.isQuery() && len(data) > 0 {
		c.cache.Put(req.cacheKey(), data)
	}
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindDecode, Status: doer.status, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// normalize traduce los errores de go-graphql-client al Error del paquete.
func (c *Client) normalize(ctx context.Context, req Request, status int, err error) error {
	switch {
	case status == http.StatusUnauthorized:
		c.unauthorized(ctx, req)
		return &Error{Kind: KindUnauthorized, Status: status}
	case status == 0:
		c.logger.Warn("graphql network error", zap.String("operation", req.OperationName), zap.Error(err))
		return &Error{Kind: KindNetwork, Err: err}
	case status != http.StatusOK:
		c.logger.Warn("graphql http error",
			zap.String("operation", req.OperationName),
			zap.Int("status", status),
		)
		return &Error{Kind: KindNetwork, Status: status, Messages: errorMessages(err)}
	}

	var errs gqlclient.Errors
	if !errors.As(err, &errs) {
		return &Error{Kind: KindDecode, Status: status, Err: err}
	}
	gerr := &Error{Kind: KindGraphQL, Status: status}
	for _, e := range errs {
		code, _ := e.Extensions["code"].(string)
		switch {
		case code == gqlclient.ErrJsonDecode:
			return &Error{Kind: KindDecode, Status: status, Err: e}
		case isAuthCode(code):
			gerr.Kind = KindUnauthorized
		}
		gerr.Messages = append(gerr.Messages, e.Message)
		c.logger.Warn("graphql error",
			zap.String("operation", req.OperationName),
			zap.String("message", e.Message),
			zap.String("code", code),
			zap.Any("path", e.Extensions["path"]),
		)
	}
	if gerr.Kind == KindUnauthorized {
		c.unauthorized(ctx, req)
	}
	return gerr
}

func errorMessages(err error) []string {
	var errs gqlclient.Errors
	if !errors.As(err, &errs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Message)
	}
	return out
}

// headerDoer agrega las cabeceras de credenciales y recuerda el status de la respuesta.
// Se crea uno por llamada.
type headerDoer struct {
	base    *http.Client
	headers http.Header
	status  int
}

func (d *headerDoer) Do(r *http.Request) (*http.Response, error) {
	for k, vs := range d.headers {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	resp, err := d.base.Do(r)
	if resp != nil {
		d.status = resp.StatusCode
	}
	return resp, err
}

func (c *Client) unauthorized(ctx context.Context, req Request) {
	c.logger.Info("graphql unauthorized, user needs to sign in again", zap.String("operation", req.OperationName))
	c.mu.Lock()
	fn := c.onUnauthorized
	c.mu.Unlock()
	if fn != nil {
		fn(ctx)
	}
}

func isAuthCode(code string) bool {
	switch code {
	case "invalid-jwt", "invalid-headers", "jwt-invalid-claims":
		return true
	}
	return false
}

// ErrorKind clasifica los errores del gateway.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota + 1
	KindUnauthorized
	KindGraphQL
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindGraphQL:
		return "graphql"
	case KindDecode:
		return "decode"
	}
	return "unknown"
}

var ErrUnauthorized = errors.New("graphql: unauthorized")

// Error normaliza fallos de red, HTTP y GraphQL en una sola forma.
type Error struct {
	Kind     ErrorKind
	Status   int
	Messages []string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("graphql ")
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Kind == KindUnauthorized
}

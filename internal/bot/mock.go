package bot

import (
	"context"
	"sync"
)

// MockClient permite tests y demos sin un workflow real.
type MockClient struct {
	Response string
	Err      error

	mu    sync.Mutex
	Calls []Request
}

func (m *MockClient) Reply(_ context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	m.mu.Unlock()
	return m.Response, m.Err
}

// CallCount es seguro para usar desde otras goroutines.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// EchoClient responde repitiendo el mensaje; útil para correr sin n8n.
type EchoClient struct{}

func (EchoClient) Reply(_ context.Context, req Request) (string, error) {
	return "Echo: " + req.Message, nil
}

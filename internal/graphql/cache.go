package graphql

import (
	"encoding/json"
	"sync"
)

// Cache guarda la última respuesta exitosa por operación y variables.
// Cada snapshot reemplaza al anterior completo.
type Cache struct {
	mu    sync.RWMutex
	items map[string]json.RawMessage
}

func NewCache() *Cache {
	return &Cache{items: make(map[string]json.RawMessage)}
}

func (c *Cache) Get(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	raw, ok := c.items[key]
	return raw, ok
}

func (c *Cache) Put(key string, raw json.RawMessage) {
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	c.mu.Lock()
	c.items[key] = cp
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

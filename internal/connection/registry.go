package connection

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Registry caches one built client per (provider, base-url, model, endpoint)
// so repeated prompts against the same connection reuse transport state
// (HTTP keep-alive). The negotiated wrapper around a client is still rebuilt
// per request; only the transport-owning client is shared.
type Registry struct {
	mu      sync.Mutex
	clients map[string]registryEntry
}

type registryEntry struct {
	id     string
	client Client
}

func NewRegistry() *Registry {
	return &Registry{clients: map[string]registryEntry{}}
}

func registryKey(b Builder) string {
	parts := []string{
		string(b.Provider),
		strings.TrimRight(strings.TrimSpace(b.BaseURL), "/"),
		b.Model,
		string(b.Endpoint),
	}
	return strings.ToLower(strings.Join(parts, "|"))
}

// Get returns the cached client for the builder's connection, constructing
// and caching it on first use. The returned id is stable for the lifetime of
// the cached client and shows up in logs to correlate reuse.
func (r *Registry) Get(b Builder) (Client, string, error) {
	key := registryKey(b)

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.clients[key]; ok {
		return entry.client, entry.id, nil
	}

	client, err := b.Build()
	if err != nil {
		return nil, "", err
	}
	entry := registryEntry{id: uuid.New().String(), client: client}
	r.clients[key] = entry
	return entry.client, entry.id, nil
}

// Evict drops the cached client for the builder's connection, forcing the
// next Get to rebuild. Used after a capability downgrade changes the
// endpoint a connection should target.
func (r *Registry) Evict(b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, registryKey(b))
}

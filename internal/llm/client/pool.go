package llmclient

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"setupguide/internal/cache"
)

// Factory builds a Generator for one credential.
type Factory func(ctx context.Context, credential string) (Generator, error)

// Pool keeps recently used per-credential clients so repeated requests with
// the same key reuse one underlying HTTP client. Keys are fingerprints; the
// raw credential is never stored as a map key.
type Pool struct {
	mu      sync.Mutex
	clients *lru.Cache[string, Generator]
	factory Factory
}

func NewPool(size int, factory Factory) (*Pool, error) {
	if size <= 0 {
		size = 64
	}
	c, err := lru.New[string, Generator](size)
	if err != nil {
		return nil, err
	}
	return &Pool{clients: c, factory: factory}, nil
}

func (p *Pool) Client(ctx context.Context, credential string) (Generator, error) {
	key := cache.Fingerprint(credential)
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.clients.Get(key); ok {
		return g, nil
	}
	g, err := p.factory(ctx, credential)
	if err != nil {
		return nil, err
	}
	p.clients.Add(key, g)
	return g, nil
}

// Len reports how many clients are cached.
func (p *Pool) Len() int { return p.clients.Len() }

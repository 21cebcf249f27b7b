package llm

import (
	"context"
	"log"
	"sync"

	llmclient "setupguide/internal/llm/client"
)

// Middleware decorates a Generator with a cross-cutting concern.
type Middleware func(llmclient.Generator) llmclient.Generator

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner llmclient.Generator, mws ...Middleware) llmclient.Generator {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// -------- Rate Limiting --------

// RateLimit throttles every call through one bucket. rps <= 0 disables it.
// Each application of the returned Middleware gets its own bucket.
func RateLimit(rps float64, burst int) Middleware {
	return func(next llmclient.Generator) llmclient.Generator {
		rl := newRPSLimiter(rps, burst)
		if rl == nil {
			return next
		}
		return llmclient.GeneratorFunc(func(ctx context.Context, model, prompt string) (llmclient.Completion, error) {
			if err := rl.Acquire(ctx); err != nil {
				return llmclient.Completion{}, err
			}
			return next.Generate(ctx, model, prompt)
		})
	}
}

// CatalogRateLimit keeps one bucket per model, sized from the model's
// registered RateLimit. Models without limits pass straight through.
func CatalogRateLimit(cat *llmclient.Catalog) Middleware {
	return func(next llmclient.Generator) llmclient.Generator {
		var mu sync.Mutex
		buckets := map[string]*rpsLimiter{}
		bucket := func(model string) *rpsLimiter {
			mu.Lock()
			defer mu.Unlock()
			if rl, ok := buckets[model]; ok {
				return rl
			}
			var rl *rpsLimiter
			if reg, ok := cat.Lookup(model); ok && reg.RateLimit != nil {
				rl = newRPSLimiter(reg.RateLimit.RPS, reg.RateLimit.Burst)
			}
			buckets[model] = rl
			return rl
		}
		return llmclient.GeneratorFunc(func(ctx context.Context, model, prompt string) (llmclient.Completion, error) {
			if err := bucket(model).Acquire(ctx); err != nil {
				return llmclient.Completion{}, err
			}
			return next.Generate(ctx, model, prompt)
		})
	}
}

// -------- Logging --------

// WithLogging logs request size and errors. nil uses log.Default().
func WithLogging(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next llmclient.Generator) llmclient.Generator {
		return llmclient.GeneratorFunc(func(ctx context.Context, model, prompt string) (llmclient.Completion, error) {
			logger.Printf("llm: request %s: %d bytes", model, len(prompt))
			out, err := next.Generate(ctx, model, prompt)
			if err != nil {
				logger.Printf("llm: error %s: %v", model, err)
			}
			return out, err
		})
	}
}

// NewGeminiPool is the production Source: one rate-limited, logged Gemini
// client per credential, reused across requests.
func NewGeminiPool(size int, cfg llmclient.GeminiConfig, mws ...Middleware) (*llmclient.Pool, error) {
	return llmclient.NewPool(size, func(ctx context.Context, credential string) (llmclient.Generator, error) {
		gc, err := llmclient.NewGeminiClient(ctx, credential, cfg)
		if err != nil {
			return nil, err
		}
		return Wrap(gc, mws...), nil
	})
}

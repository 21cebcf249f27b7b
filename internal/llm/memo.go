package llm

import (
	"context"
	"log"
	"strings"

	"setupguide/internal/cache"
)

// recall returns the memoized model for credential. Read errors count as a miss.
func (e *Engine) recall(ctx context.Context, credential string) string {
	if e.memo == nil || credential == "" {
		return ""
	}
	raw, ok, err := e.memo.Get(ctx, cache.LastModelKey(credential))
	if err != nil || !ok {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func (e *Engine) remember(ctx context.Context, credential, model string) {
	if e.memo == nil || credential == "" {
		return
	}
	if err := e.memo.Set(ctx, cache.LastModelKey(credential), []byte(model), e.cfg.MemoTTL); err != nil {
		log.Printf("llm: remember model %s: %v", model, err)
	}
}

func (e *Engine) forget(ctx context.Context, credential string) {
	if e.memo == nil || credential == "" {
		return
	}
	if err := e.memo.Delete(context.WithoutCancel(ctx), cache.LastModelKey(credential)); err != nil {
		log.Printf("llm: forget model: %v", err)
	}
}

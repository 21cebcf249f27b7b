package llmclient

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// RateLimitConfig is a model's request allowance. RPM is informational; RPS
// and Burst drive the client-side limiter.
type RateLimitConfig struct {
	RPM   int
	RPS   float64
	Burst int
}

// ModelRegistration describes one model in the fallback catalog. Rank orders
// the fallback list: lower ranks are tried first.
type ModelRegistration struct {
	Provider  string
	Tier      string
	Model     string
	Rank      int
	MaxTokens int
	RateLimit *RateLimitConfig
}

type ModelRegistrar interface {
	RegisterModel(spec ModelRegistration) error
}

// Catalog is an ordered, de-duplicated set of model registrations.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]ModelRegistration
}

func NewCatalog() *Catalog {
	return &Catalog{models: map[string]ModelRegistration{}}
}

func (c *Catalog) RegisterModel(spec ModelRegistration) error {
	name := strings.TrimSpace(spec.Model)
	if name == "" {
		return fmt.Errorf("llmclient: model name is required")
	}
	spec.Model = name
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.models[name]; dup {
		return fmt.Errorf("llmclient: model %q already registered", name)
	}
	c.models[name] = spec
	return nil
}

// Lookup returns the registration for model.
func (c *Catalog) Lookup(model string) (ModelRegistration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.models[strings.TrimSpace(model)]
	return spec, ok
}

// Registrations returns every model in fallback order.
func (c *Catalog) Registrations() []ModelRegistration {
	c.mu.RLock()
	out := make([]ModelRegistration, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Fallbacks returns model names from newest/most capable to oldest/most
// compatible.
func (c *Catalog) Fallbacks() []string {
	regs := c.Registrations()
	out := make([]string, 0, len(regs))
	for _, r := range regs {
		out = append(out, r.Model)
	}
	return out
}

// MinMaxTokens is the smallest input capacity across the catalog, or 0 when
// empty.
func (c *Catalog) MinMaxTokens() int {
	lowest := 0
	for _, r := range c.Registrations() {
		if r.MaxTokens > 0 && (lowest == 0 || r.MaxTokens < lowest) {
			lowest = r.MaxTokens
		}
	}
	return lowest
}

// CheckBudget rejects a file-selection budget that some fallback model could
// not take as input.
func (c *Catalog) CheckBudget(budget int) error {
	if limit := c.MinMaxTokens(); limit > 0 && budget > limit {
		return fmt.Errorf("token budget %d exceeds the %d-token input limit of the smallest model", budget, limit)
	}
	return nil
}

func RegisterGeminiModels(reg ModelRegistrar) error {
	return RegisterGeminiModelsForTier(reg, "free")
}

func RegisterGeminiModelsForTier(reg ModelRegistrar, tier string) error {
	tier = normalizeTier(tier, "free")

	freeLimits := &RateLimitConfig{RPM: 10, RPS: 0.16, Burst: 1}
	tier1Limits := &RateLimitConfig{RPM: 1000, RPS: 16, Burst: 4}
	limits := freeLimits
	if tier == "tier1" {
		limits = tier1Limits
	}

	const contextWindow = 1_048_576
	models := []ModelRegistration{
		{Model: "gemini-2.5-pro"},
		{Model: "gemini-2.5-flash"},
		{Model: "gemini-2.5-flash-lite"},
		{Model: "gemini-2.0-flash"},
		{Model: "gemini-2.0-flash-lite"},
	}
	for i, m := range models {
		m.Provider = "gemini"
		m.Tier = tier
		m.Rank = i
		m.MaxTokens = contextWindow
		m.RateLimit = limits
		if err := reg.RegisterModel(m); err != nil {
			return err
		}
	}
	return nil
}

// DefaultCatalog is the Gemini catalog for the given tier.
func DefaultCatalog(tier string) *Catalog {
	c := NewCatalog()
	// Registering a fixed list into an empty catalog cannot fail.
	_ = RegisterGeminiModelsForTier(c, tier)
	return c
}

func normalizeTier(tier, fallback string) string {
	t := strings.ToLower(strings.TrimSpace(tier))
	if t == "" {
		return strings.ToLower(strings.TrimSpace(fallback))
	}
	return t
}

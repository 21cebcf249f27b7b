package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"setupguide/internal/analyzer"
	"setupguide/internal/gateway/config"
	"setupguide/internal/gateway/handler"
	"setupguide/internal/gateway/middleware"
	"setupguide/internal/gateway/repository/session"
	"setupguide/internal/gateway/server"
	"setupguide/internal/gateway/service/analysis"
	"setupguide/internal/gateway/service/worker"
	"setupguide/internal/github"
	"setupguide/internal/llm"
	llmclient "setupguide/internal/llm/client"
	"setupguide/internal/scan"
)

const (
	geminiClientPool = 64
	blobCacheEntries = 4096
	githubTimeout    = 30 * time.Second
)

type App struct {
	server *server.Server
	worker *worker.Worker
	stores *gatewayStores

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(context.Background(), cfg)
}

func NewWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	stores, err := initStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a, err := build(cfg, stores)
	if err != nil {
		stores.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, stores *gatewayStores) (*App, error) {
	// Sessions
	if len(cfg.SessionSecret) == 0 {
		log.Printf("gateway: SESSION_SECRET unset, sessions and queued credentials will not survive a restart")
	}
	sealer, err := session.NewSealer(cfg.SessionSecret)
	if err != nil {
		return nil, err
	}
	sessions := session.NewStore(stores.kv, sealer, cfg.SessionTTL)

	// Model invocation
	catalog := llmclient.DefaultCatalog(cfg.GeminiTier)
	if err := catalog.CheckBudget(cfg.Analysis.TokenBudget); err != nil {
		return nil, fmt.Errorf("TOKEN_BUDGET: %w", err)
	}
	pool, err := llm.NewGeminiPool(geminiClientPool,
		llmclient.GeminiConfig{BaseURL: cfg.GeminiURL, JSONResponse: true},
		llm.WithLogging(nil),
		llm.CatalogRateLimit(catalog),
	)
	if err != nil {
		return nil, err
	}
	engine := llm.NewEngine(llm.Config{
		MaxAttempts: cfg.Analysis.MaxAttempts,
		CallTimeout: cfg.Analysis.CallTimeout,
		MemoTTL:     cfg.Analysis.ModelCacheTTL,
		Fallbacks:   catalog.Fallbacks(),
	}, pool, stores.kv)

	// Repository host
	weights := scan.DefaultWeights()
	if path := strings.TrimSpace(cfg.Analysis.ScoringWeightsFile); path != "" {
		if weights, err = scan.LoadWeights(path); err != nil {
			return nil, err
		}
		log.Printf("gateway: scoring weights from %s", path)
	}
	gh := github.NewClient(&http.Client{Timeout: githubTimeout}, cfg.GitHubURL)
	fetcher := github.NewFetcher(gh, github.WithBlobCache(blobCacheEntries), github.WithMaxChars(weights.MaxFileChars))
	an := analyzer.New(analyzer.Config{
		Budget:       cfg.Analysis.TokenBudget,
		MaxRepoBytes: cfg.Analysis.MaxRepoBytes,
		Weights:      weights,
	}, gh, fetcher, engine)

	// Services
	hub := worker.NewHub()
	wk := worker.New(worker.Config{
		PooledKey:    cfg.GeminiAPIKey,
		RepoToken:    cfg.GitHubToken,
		PollInterval: cfg.Analysis.QueuePollInterval,
		Workers:      cfg.Analysis.Workers,
		StaleAfter:   cfg.Analysis.QueueStaleAfter,
	}, stores.jobs, an, sessions, stores.artifact, hub)
	svc := analysis.New(analysis.Config{
		PooledKey:      cfg.GeminiAPIKey,
		RepoToken:      cfg.GitHubToken,
		AsyncThreshold: cfg.Analysis.AsyncThreshold,
	}, an, stores.jobs, sessions, analysis.NewQuota(stores.kv, cfg.Quota.PooledDailyLimit), wk)
	if cfg.GeminiAPIKey == "" {
		log.Printf("gateway: GEMINI_API_KEY unset, callers must bring their own key")
	}

	// Routing & Server
	h := handler.New(svc, sessions, hub, stores.artifact)
	h.SecureCookies = !strings.EqualFold(cfg.Env, "local")
	h.Clients = middleware.ClientResolver{Trusted: cfg.TrustedProxies}
	mux := server.NewMux(h, stores.ping)

	return &App{
		server: server.New(cfg.Port, mux),
		worker: wk,
		stores: stores,
	}, nil
}

// Start runs the queue worker in the background and serves until Shutdown.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.worker.Run(ctx)
	}()
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("gateway: worker did not stop before the deadline")
	}
	a.stores.Close()
	return err
}

package main

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"setupguide/internal/analyzer"
	"setupguide/internal/cache"
	"setupguide/internal/cache/disk"
	"setupguide/internal/gateway/config"
	"setupguide/internal/github"
	"setupguide/internal/llm"
	llmclient "setupguide/internal/llm/client"
	"setupguide/internal/scan"
)

const (
	appName        = "setupguide"
	memoMaxEntries = 256
)

// cli carries what the commands share: the environment they read and the
// persistent flag values.
type cli struct {
	getenv func(string) string
	// httpClient is used for both GitHub and Gemini; nil means defaults.
	httpClient *http.Client
	// memo overrides the on-disk model memo.
	memo cache.KV

	budget  int
	weights string
	tier    string
	verbose bool
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Generate setup guides for GitHub repositories",
		Long: `setupguide reads a public (or token-accessible) GitHub repository, picks the
files that explain how to build and run it, and asks Gemini to write an
OS-specific setup guide.

Credentials come from the environment (or a .env file):
  GEMINI_API_KEY   required for analyze
  GITHUB_TOKEN     optional, raises GitHub rate limits and opens private repos`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if !c.verbose {
				log.SetOutput(io.Discard)
			}
		},
	}
	root.PersistentFlags().IntVar(&c.budget, "budget", 0, "Token budget for file selection (default: TOKEN_BUDGET or 950000)")
	root.PersistentFlags().StringVar(&c.weights, "weights", "", "YAML file with scoring weights (default: SCORING_WEIGHTS_FILE)")
	root.PersistentFlags().StringVar(&c.tier, "tier", "", "Gemini rate-limit tier: free or tier1 (default: GEMINI_TIER or free)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log requests and model attempts to stderr")

	root.AddCommand(newAnalyzeCmd(c), newSelectCmd(c), newModelsCmd(c))
	return root
}

func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.FromEnv(c.getenv)
	if err != nil {
		return nil, err
	}
	if c.budget > 0 {
		cfg.Analysis.TokenBudget = c.budget
	}
	if w := strings.TrimSpace(c.weights); w != "" {
		cfg.Analysis.ScoringWeightsFile = w
	}
	if t := strings.TrimSpace(c.tier); t != "" {
		cfg.GeminiTier = t
	}
	return cfg, nil
}

func (c *cli) newCatalog(cfg *config.Config) *llmclient.Catalog {
	return llmclient.DefaultCatalog(cfg.GeminiTier)
}

func (c *cli) newGitHub(cfg *config.Config) *github.Client {
	hc := c.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return github.NewClient(hc, cfg.GitHubURL)
}

// newAnalyzer wires the pipeline. A nil engine is fine for commands that only
// plan.
func (c *cli) newAnalyzer(cfg *config.Config, engine analyzer.Invoker) (*analyzer.Analyzer, error) {
	if err := c.newCatalog(cfg).CheckBudget(cfg.Analysis.TokenBudget); err != nil {
		return nil, err
	}
	weights := scan.DefaultWeights()
	if path := strings.TrimSpace(cfg.Analysis.ScoringWeightsFile); path != "" {
		w, err := scan.LoadWeights(path)
		if err != nil {
			return nil, err
		}
		weights = w
	}
	gh := c.newGitHub(cfg)
	return analyzer.New(analyzer.Config{
		Budget:       cfg.Analysis.TokenBudget,
		MaxRepoBytes: cfg.Analysis.MaxRepoBytes,
		Weights:      weights,
	}, gh, github.NewFetcher(gh, github.WithMaxChars(weights.MaxFileChars)), engine), nil
}

// newEngine builds the invocation engine for one credential. The model memo
// lives on disk so consecutive runs start from the last model that worked.
func (c *cli) newEngine(cfg *config.Config) (*llm.Engine, error) {
	catalog := c.newCatalog(cfg)
	pool, err := llm.NewGeminiPool(1,
		llmclient.GeminiConfig{BaseURL: cfg.GeminiURL, HTTPClient: c.httpClient, JSONResponse: true},
		llm.WithLogging(nil),
		llm.CatalogRateLimit(catalog),
	)
	if err != nil {
		return nil, err
	}
	memo := c.memo
	if memo == nil {
		memo = openMemo(cfg.Analysis.ModelCacheTTL)
	}
	return llm.NewEngine(llm.Config{
		MaxAttempts: cfg.Analysis.MaxAttempts,
		CallTimeout: cfg.Analysis.CallTimeout,
		MemoTTL:     cfg.Analysis.ModelCacheTTL,
		Fallbacks:   catalog.Fallbacks(),
	}, pool, memo), nil
}

// openMemo returns nil when the cache directory is unusable; the engine then
// runs without the memo.
func openMemo(ttl time.Duration) cache.KV {
	dir, err := disk.DefaultDir(appName)
	if err != nil {
		log.Printf("setupguide: model memo disabled: %v", err)
		return nil
	}
	store, err := disk.Open(disk.Config{Dir: dir, MaxEntries: memoMaxEntries, TTL: ttl})
	if err != nil {
		log.Printf("setupguide: model memo disabled: %v", err)
		return nil
	}
	return store
}

func requireKey(cfg *config.Config) error {
	if cfg.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY is not set; get a key at https://aistudio.google.com/apikey")
	}
	return nil
}

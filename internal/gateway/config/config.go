package config

import (
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"setupguide/internal/gateway/middleware"
)

type Config struct {
	Port string
	Env  string

	// GeminiAPIKey is the pooled credential used when a caller has none.
	GeminiAPIKey string
	GeminiTier   string
	GeminiURL    string
	GitHubToken  string
	GitHubURL    string

	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	// SessionSecret is the 32-byte key sealing stored credentials.
	SessionSecret []byte
	SessionTTL    time.Duration
	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	TrustedProxies []netip.Prefix

	Analysis AnalysisConfig
	Quota    QuotaConfig
	Artifact ArtifactConfig
}

type AnalysisConfig struct {
	TokenBudget        int
	MaxAttempts        int
	CallTimeout        time.Duration
	ModelCacheTTL      time.Duration
	AsyncThreshold     int64
	MaxRepoBytes       int64
	ScoringWeightsFile string
	QueuePollInterval  time.Duration
	QueueStaleAfter    time.Duration
	Workers            int
}

type QuotaConfig struct {
	// PooledDailyLimit is how many pooled-key analyses one client may run per
	// UTC day. <= 0 disables the pooled key entirely.
	PooledDailyLimit int
}

type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// CanUseS3 reports whether every setting the S3 store needs is present.
func (a ArtifactConfig) CanUseS3() bool {
	return a.Enabled && a.Endpoint != "" && a.AccessKey != "" && a.SecretKey != "" && a.Bucket != ""
}

// Load reads .env, the -port flag and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8081", "server port")
	flag.Parse()

	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}
	if os.Getenv("PORT") == "" {
		cfg.Port = *port
	}
	return cfg, nil
}

// FromEnv builds a Config from getenv alone.
func FromEnv(getenv func(string) string) (*Config, error) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	port := ":8081"
	if p := env("PORT"); p != "" {
		if strings.HasPrefix(p, ":") {
			port = p
		} else {
			port = ":" + p
		}
	}
	appEnv := firstNonEmpty(env("APP_ENV"), "local")

	secret, err := parseSecret(env("SESSION_SECRET"))
	if err != nil {
		return nil, err
	}

	var errs []string
	trusted, err := middleware.ParseTrustedProxies(env("TRUSTED_PROXIES"))
	if err != nil {
		errs = append(errs, "TRUSTED_PROXIES: "+err.Error())
	}
	intVal := func(key string, def int) int {
		raw := env(key)
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return def
		}
		return n
	}
	durVal := func(key string, def time.Duration) time.Duration {
		raw := env(key)
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return def
		}
		return d
	}

	cfg := &Config{
		Port:           port,
		Env:            appEnv,
		GeminiAPIKey:   env("GEMINI_API_KEY"),
		GeminiTier:     firstNonEmpty(env("GEMINI_TIER"), "free"),
		GeminiURL:      env("GEMINI_BASE_URL"),
		GitHubToken:    env("GITHUB_TOKEN"),
		GitHubURL:      env("GITHUB_API_URL"),
		DatabaseURL:    env("DATABASE_URL"),
		SQLitePath:     env("SQLITE_PATH"),
		RedisURL:       env("REDIS_URL"),
		SessionSecret:  secret,
		SessionTTL:     durVal("SESSION_TTL", 7*24*time.Hour),
		TrustedProxies: trusted,
		Analysis: AnalysisConfig{
			TokenBudget:        intVal("TOKEN_BUDGET", 950_000),
			MaxAttempts:        intVal("MAX_ATTEMPTS", 3),
			CallTimeout:        durVal("CALL_TIMEOUT", 60*time.Second),
			ModelCacheTTL:      durVal("MODEL_CACHE_TTL", 24*time.Hour),
			AsyncThreshold:     int64(intVal("ASYNC_THRESHOLD_MB", 20)) << 20,
			MaxRepoBytes:       int64(intVal("MAX_REPO_MB", 100)) << 20,
			ScoringWeightsFile: env("SCORING_WEIGHTS_FILE"),
			QueuePollInterval:  durVal("QUEUE_POLL_INTERVAL", 5*time.Second),
			QueueStaleAfter:    durVal("QUEUE_STALE_AFTER", 15*time.Minute),
			Workers:            intVal("QUEUE_WORKERS", 1),
		},
		Quota:    QuotaConfig{PooledDailyLimit: intVal("POOLED_DAILY_LIMIT", 5)},
		Artifact: loadArtifactConfig(env, appEnv),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func loadArtifactConfig(env func(string) string, appEnv string) ArtifactConfig {
	local := strings.EqualFold(appEnv, "local")
	endpoint := env("ARTIFACT_S3_ENDPOINT")
	if local {
		endpoint = firstNonEmpty(env("ARTIFACT_MINIO_ENDPOINT"), endpoint)
	}
	useSSL := !local
	if raw := env("ARTIFACT_S3_USE_SSL"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			useSSL = v
		}
	}
	return ArtifactConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(env("ARTIFACT_S3_REGION"), "us-east-1"),
		AccessKey: firstNonEmpty(env("ARTIFACT_S3_ACCESS_KEY"), env("MINIO_ROOT_USER")),
		SecretKey: firstNonEmpty(env("ARTIFACT_S3_SECRET_KEY"), env("MINIO_ROOT_PASSWORD")),
		Bucket:    firstNonEmpty(env("ARTIFACT_S3_BUCKET"), "setupguide-artifacts"),
		UseSSL:    useSSL,
	}
}

// parseSecret accepts 64 hex chars or standard base64 of 32 bytes. Empty is
// allowed; the session store then generates an ephemeral key.
func parseSecret(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(raw); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == 32 {
		return b, nil
	}
	return nil, fmt.Errorf("config: SESSION_SECRET must be 32 bytes as hex or base64")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

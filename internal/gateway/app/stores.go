package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"setupguide/internal/cache"
	"setupguide/internal/cache/memory"
	rediscache "setupguide/internal/cache/redis"
	"setupguide/internal/gateway/config"
	artifactrepo "setupguide/internal/gateway/repository/artifact"
	jobrepo "setupguide/internal/gateway/repository/job"
)

type gatewayStores struct {
	kv       cache.Store
	jobs     jobrepo.Store
	artifact artifactrepo.Store
	// ping checks the shared backends for /healthz.
	ping    func(context.Context) error
	closers []func() error
}

func (s *gatewayStores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Printf("gateway: close store: %v", err)
		}
	}
}

func initStores(ctx context.Context, cfg *config.Config) (*gatewayStores, error) {
	s := &gatewayStores{}
	var pings []func(context.Context) error

	if url := strings.TrimSpace(cfg.RedisURL); url != "" {
		rs, err := rediscache.New(url)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		log.Printf("cache store: redis")
		s.kv = rs
		s.closers = append(s.closers, rs.Close)
		pings = append(pings, rs.Ping)
	} else {
		log.Printf("cache store: in-memory")
		s.kv = memory.NewStore(0)
	}

	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		st, err := jobrepo.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		log.Printf("job store: postgres")
		s.jobs = st
		s.closers = append(s.closers, st.Close)
		pings = append(pings, st.Ping)
	case strings.TrimSpace(cfg.SQLitePath) != "":
		st, err := jobrepo.OpenSQLite(filepath.Clean(cfg.SQLitePath))
		if err != nil {
			s.Close()
			return nil, err
		}
		log.Printf("job store: sqlite %s", cfg.SQLitePath)
		s.jobs = st
		s.closers = append(s.closers, st.Close)
	default:
		log.Printf("job store: in-memory")
		s.jobs = jobrepo.NewMemoryStore()
	}

	art, err := chooseArtifactStore(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.artifact = art

	s.ping = func(ctx context.Context) error {
		for _, p := range pings {
			if err := p(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	return s, nil
}

func chooseArtifactStore(cfg *config.Config) (artifactrepo.Store, error) {
	if !cfg.Artifact.CanUseS3() {
		if cfg.Artifact.Enabled {
			log.Printf("artifact store: using in-memory fallback (s3 config incomplete)")
		}
		return artifactrepo.NewMemoryStore(), nil
	}
	s3Cfg := artifactrepo.S3Config{
		Endpoint:  cfg.Artifact.Endpoint,
		Region:    cfg.Artifact.Region,
		AccessKey: cfg.Artifact.AccessKey,
		SecretKey: cfg.Artifact.SecretKey,
		Bucket:    cfg.Artifact.Bucket,
		UseSSL:    cfg.Artifact.UseSSL,
	}
	st, err := artifactrepo.NewS3Store(s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("artifact s3 store: %w", err)
	}
	log.Printf("artifact store: s3 bucket=%s endpoint=%s", s3Cfg.Bucket, s3Cfg.Endpoint)
	return artifactrepo.NewCachedStore(st, artifactrepo.DefaultCacheConfig()), nil
}

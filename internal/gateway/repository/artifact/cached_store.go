package artifact

import (
	"context"
	"sync/atomic"
	"time"

	memcache "setupguide/internal/cache/memory"
)

type CacheConfig struct {
	BlobTTL        time.Duration
	BlobMaxEntries int
	BlobMaxBytes   int
	// URLTTL must stay below the presign lifetime.
	URLTTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		BlobTTL:        10 * time.Minute,
		BlobMaxEntries: 512,
		BlobMaxBytes:   32 << 20,
		URLTTL:         5 * time.Minute,
	}
}

type CacheStats struct {
	BlobHits, BlobMisses uint64
	URLHits, URLMisses   uint64
}

// CachedStore fronts a slower Store (S3) with in-process LRU caches.
type CachedStore struct {
	origin Store
	blobs  *memcache.LRUTTL[string, []byte]
	urls   *memcache.LRUTTL[string, string]

	blobHits, blobMisses atomic.Uint64
	urlHits, urlMisses   atomic.Uint64
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	def := DefaultCacheConfig()
	if cfg.BlobTTL <= 0 {
		cfg.BlobTTL = def.BlobTTL
	}
	if cfg.BlobMaxEntries <= 0 {
		cfg.BlobMaxEntries = def.BlobMaxEntries
	}
	if cfg.BlobMaxBytes < 0 {
		cfg.BlobMaxBytes = def.BlobMaxBytes
	}
	if cfg.URLTTL <= 0 || cfg.URLTTL >= presignTTL {
		cfg.URLTTL = def.URLTTL
	}
	return &CachedStore{
		origin: origin,
		blobs:  memcache.NewLRUTTL[string, []byte](cfg.BlobMaxEntries, cfg.BlobMaxBytes, cfg.BlobTTL),
		urls:   memcache.NewLRUTTL[string, string](cfg.BlobMaxEntries, 0, cfg.URLTTL),
	}
}

func (s *CachedStore) Put(ctx context.Context, jobID, name string, content []byte) error {
	key, err := objectKey(jobID, name)
	if err != nil {
		return err
	}
	if err := s.origin.Put(ctx, jobID, name, content); err != nil {
		return err
	}
	s.blobs.Set(key, append([]byte(nil), content...), len(content))
	s.urls.Delete(key)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, jobID, name string) ([]byte, error) {
	key, err := objectKey(jobID, name)
	if err != nil {
		return nil, err
	}
	if raw, ok := s.blobs.Get(key); ok {
		s.blobHits.Add(1)
		return append([]byte(nil), raw...), nil
	}
	s.blobMisses.Add(1)
	raw, err := s.origin.Get(ctx, jobID, name)
	if err != nil {
		return nil, err
	}
	s.blobs.Set(key, append([]byte(nil), raw...), len(raw))
	return raw, nil
}

func (s *CachedStore) GetURL(ctx context.Context, jobID, name string) (string, error) {
	key, err := objectKey(jobID, name)
	if err != nil {
		return "", err
	}
	if u, ok := s.urls.Get(key); ok {
		s.urlHits.Add(1)
		return u, nil
	}
	s.urlMisses.Add(1)
	u, err := s.origin.GetURL(ctx, jobID, name)
	if err != nil {
		return "", err
	}
	if u != "" {
		s.urls.Set(key, u, len(u))
	}
	return u, nil
}

// List always asks the origin.
func (s *CachedStore) List(ctx context.Context, jobID string) ([]string, error) {
	return s.origin.List(ctx, jobID)
}

func (s *CachedStore) Stats() CacheStats {
	return CacheStats{
		BlobHits:   s.blobHits.Load(),
		BlobMisses: s.blobMisses.Load(),
		URLHits:    s.urlHits.Load(),
		URLMisses:  s.urlMisses.Load(),
	}
}

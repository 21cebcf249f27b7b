package memory

import (
	"context"
	"strconv"
	"time"
)

// Store is an in-process cache.Store. It is the fallback when no redis is
// configured; state does not survive restarts and is not shared between
// replicas.
type Store struct {
	values   *LRUTTL[string, []byte]
	counters *LRUTTL[string, int64]
}

func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &Store{
		values:   NewLRUTTL[string, []byte](maxEntries, 0, time.Hour),
		counters: NewLRUTTL[string, int64](maxEntries, 0, time.Hour),
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.values.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.values.SetTTL(key, append([]byte(nil), value...), len(value), ttl)
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.values.Delete(key)
	s.counters.Delete(key)
	return nil
}

func (s *Store) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	n := s.counters.Update(key, expiry, func(old int64, _ bool) (int64, int) {
		return old + 1, len(strconv.FormatInt(old+1, 10))
	})
	return n, nil
}

// Package disk keeps small cache values as files so separate CLI runs can
// share them.
package disk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	indexName  = "index.json"
	defaultTTL = 24 * time.Hour
)

type Config struct {
	Dir        string
	MaxEntries int
	TTL        time.Duration
}

type record struct {
	File    string    `json:"file"`
	Expires time.Time `json:"expires"`
	Used    time.Time `json:"used"`
}

// Store is a cache.KV backed by one file per value plus a JSON index. Once
// more than MaxEntries values are held the least recently read one goes.
type Store struct {
	mu      sync.Mutex
	dir     string
	max     int
	ttl     time.Duration
	records map[string]record
	now     func() time.Time
}

func Open(cfg Config) (*Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("disk cache: dir is required")
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	s := &Store{dir: dir, max: cfg.MaxEntries, ttl: cfg.TTL, records: map[string]record{}, now: time.Now}
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o700); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, indexName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(raw, &s.records); err != nil {
			return nil, fmt.Errorf("disk cache: index: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return s, s.saveLocked()
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	now := s.now()
	if now.After(rec.Expires) {
		s.dropLocked(key)
		return nil, false, s.saveLocked()
	}
	raw, err := os.ReadFile(s.path(rec.File))
	if errors.Is(err, fs.ErrNotExist) {
		s.dropLocked(key)
		return nil, false, s.saveLocked()
	}
	if err != nil {
		return nil, false, err
	}
	rec.Used = now
	s.records[key] = rec
	return raw, true, s.saveLocked()
}

// Set stores value under key. ttl <= 0 uses the store default.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("disk cache: key is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	sum := sha256.Sum256([]byte(key))
	file := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path(file), value, 0o600); err != nil {
		return err
	}
	now := s.now()
	s.records[key] = record{File: file, Expires: now.Add(ttl), Used: now}
	s.pruneLocked()
	return s.saveLocked()
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return nil
	}
	s.dropLocked(key)
	return s.saveLocked()
}

// pruneLocked drops expired records and those whose file vanished, then
// evicts by last use until the entry limit holds.
func (s *Store) pruneLocked() {
	now := s.now()
	for key, rec := range s.records {
		if now.After(rec.Expires) {
			s.dropLocked(key)
			continue
		}
		if _, err := os.Stat(s.path(rec.File)); err != nil {
			delete(s.records, key)
		}
	}
	for len(s.records) > s.max {
		var oldest string
		var first time.Time
		for key, rec := range s.records {
			if first.IsZero() || rec.Used.Before(first) {
				oldest, first = key, rec.Used
			}
		}
		s.dropLocked(oldest)
	}
}

func (s *Store) dropLocked(key string) {
	if rec, ok := s.records[key]; ok {
		_ = os.Remove(s.path(rec.File))
		delete(s.records, key)
	}
}

// saveLocked rewrites the index through a rename so readers never see half
// of it.
func (s *Store) saveLocked() error {
	raw, err := json.Marshal(s.records)
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.dir, indexName+".tmp")
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.dir, indexName))
}

func (s *Store) path(file string) string {
	return filepath.Join(s.dir, "data", file)
}

// DefaultDir is the per-user cache directory for app.
func DefaultDir(app string) (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, app), nil
}

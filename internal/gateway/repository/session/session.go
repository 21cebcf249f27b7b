// Package session stores the optional credentials a visitor supplies: their
// own model key and a repository token. Both are sealed before they reach
// the backing KV, which may be a shared redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"setupguide/internal/cache"
)

const (
	CookieName = "sg_session"
	DefaultTTL = 7 * 24 * time.Hour
)

var ErrNotFound = errors.New("session not found")

// Credentials is the pair a session carries. Either may be empty.
type Credentials struct {
	ModelKey  string `json:"modelKey,omitempty"`
	RepoToken string `json:"repoToken,omitempty"`
}

func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.ModelKey) == "" && strings.TrimSpace(c.RepoToken) == ""
}

type Session struct {
	ID string
	Credentials
	ExpiresAt time.Time
}

type record struct {
	Sealed    []byte `json:"sealed"`
	ExpiresAt int64  `json:"expiresAt"`
}

type Store struct {
	kv     cache.KV
	sealer *Sealer
	ttl    time.Duration
	now    func() time.Time
}

func NewStore(kv cache.KV, sealer *Sealer, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, sealer: sealer, ttl: ttl, now: time.Now}
}

func (s *Store) TTL() time.Duration { return s.ttl }

func key(id string) string { return "session:" + id }

// Create seals creds under a fresh random id.
func (s *Store) Create(ctx context.Context, creds Credentials) (Session, error) {
	id := uuid.NewString()
	plain, err := json.Marshal(creds)
	if err != nil {
		return Session{}, err
	}
	sealed, err := s.sealer.Seal(plain, []byte(id))
	if err != nil {
		return Session{}, err
	}
	expires := s.now().Add(s.ttl).UTC()
	raw, err := json.Marshal(record{Sealed: sealed, ExpiresAt: expires.UnixMilli()})
	if err != nil {
		return Session{}, err
	}
	if err := s.kv.Set(ctx, key(id), raw, s.ttl); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	return Session{ID: id, Credentials: creds, ExpiresAt: expires}, nil
}

// Get returns ErrNotFound for unknown, expired or unreadable sessions.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return Session{}, ErrNotFound
	}
	raw, ok, err := s.kv.Get(ctx, key(id))
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return Session{}, ErrNotFound
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Session{}, ErrNotFound
	}
	expires := time.UnixMilli(rec.ExpiresAt).UTC()
	if !s.now().Before(expires) {
		return Session{}, ErrNotFound
	}
	plain, err := s.sealer.Open(rec.Sealed, []byte(id))
	if err != nil {
		return Session{}, ErrNotFound
	}
	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return Session{}, ErrNotFound
	}
	return Session{ID: id, Credentials: creds, ExpiresAt: expires}, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	return s.kv.Delete(ctx, key(id))
}

// SealCredentials seals creds for storage outside a session, bound to
// label (a job id, for example).
func (s *Store) SealCredentials(creds Credentials, label string) ([]byte, error) {
	if creds.Empty() {
		return nil, nil
	}
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}
	return s.sealer.Seal(plain, []byte(label))
}

// OpenCredentials reverses SealCredentials. Empty input yields empty creds.
func (s *Store) OpenCredentials(sealed []byte, label string) (Credentials, error) {
	if len(sealed) == 0 {
		return Credentials{}, nil
	}
	plain, err := s.sealer.Open(sealed, []byte(label))
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return Credentials{}, fmt.Errorf("session: decode credentials: %w", err)
	}
	return creds, nil
}

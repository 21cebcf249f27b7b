package job

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Job), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, j Job) error {
	j.ID = strings.TrimSpace(j.ID)
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	now := s.now().UTC()
	if j.Status == "" {
		j.Status = StatusQueued
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.data[j.ID]; dup {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	s.data[j.ID] = clone(j)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.data[strings.TrimSpace(id)]
	if !ok {
		return Job{}, ErrNotFound
	}
	return clone(j), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, status Status, opts ...UpdateOption) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.data[strings.TrimSpace(id)]
	if !ok {
		return Job{}, ErrNotFound
	}
	if err := checkTransition(j.Status, status); err != nil {
		return Job{}, err
	}
	applyUpdate(&j, status, opts, s.now().UTC())
	s.data[j.ID] = j
	return clone(j), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]Job, error) {
	s.mu.RLock()
	out := make([]Job, 0, 8)
	for _, j := range s.data {
		if j.Status == status {
			out = append(out, clone(j))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(j Job) Job {
	j.Sealed = append([]byte(nil), j.Sealed...)
	if j.Result != nil {
		j.Result = append([]byte(nil), j.Result...)
	}
	return j
}

package worker

import (
	"context"
	"strings"
	"sync"

	"setupguide/internal/gateway/repository/job"
)

// Hub fans job snapshots out to watchers.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	latest   job.Job
	has      bool
	changed  chan struct{}
	watchers int
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

func (h *Hub) Publish(j job.Job) {
	j.Sealed = nil
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[j.ID]
	if !ok {
		// Nobody is watching; nothing to remember.
		return
	}
	t.latest = j
	t.has = true
	close(t.changed)
	t.changed = make(chan struct{})
}

// Subscribe streams snapshots of job id until ctx ends or a terminal
// snapshot is delivered. load, if set, is called once the subscription is
// registered and its result sent first, so no transition can slip between
// reading the job and watching it. Slow readers only ever see the newest
// snapshot.
func (h *Hub) Subscribe(ctx context.Context, id string, load func(context.Context) (job.Job, error)) <-chan job.Job {
	id = strings.TrimSpace(id)
	out := make(chan job.Job, 1)

	h.mu.Lock()
	t, ok := h.topics[id]
	if !ok {
		t = &topic{changed: make(chan struct{})}
		h.topics[id] = t
	}
	t.watchers++
	h.mu.Unlock()

	go func() {
		defer close(out)
		defer h.release(id)

		var last job.Job
		send := func(j job.Job) bool {
			j.Sealed = nil
			if j.Status == last.Status && j.UpdatedAt.Equal(last.UpdatedAt) {
				return false
			}
			last = j
			pushLatest(out, j)
			return j.Status.Terminal()
		}
		if load != nil {
			if initial, err := load(ctx); err == nil && send(initial) {
				return
			}
		}
		for {
			h.mu.Lock()
			snap, has, ch := t.latest, t.has, t.changed
			h.mu.Unlock()
			if has && send(snap) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ch:
			}
		}
	}()
	return out
}

func (h *Hub) release(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[id]
	if !ok {
		return
	}
	t.watchers--
	if t.watchers <= 0 {
		delete(h.topics, id)
	}
}

func (h *Hub) watching(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[id]; ok {
		return t.watchers
	}
	return 0
}

// pushLatest replaces a pending snapshot rather than block.
func pushLatest(out chan job.Job, j job.Job) {
	select {
	case out <- j:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- j:
	default:
	}
}

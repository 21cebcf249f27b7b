package analysis

import (
	"context"
	"log"
	"time"

	"setupguide/internal/cache"
)

// Decision is the outcome of one quota check.
type Decision struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Allowed   bool
}

// Quota caps how many analyses a client may run per UTC day on the pooled
// model key.
type Quota struct {
	counter cache.Counter
	limit   int
	now     func() time.Time
}

func NewQuota(counter cache.Counter, dailyLimit int) *Quota {
	return &Quota{counter: counter, limit: dailyLimit, now: time.Now}
}

// Check consumes one unit for client. Counter failures allow the request.
func (q *Quota) Check(ctx context.Context, client string) Decision {
	now := q.now().UTC()
	reset := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	d := Decision{Limit: q.limit, ResetAt: reset}
	if q.limit <= 0 {
		return d
	}
	n, err := q.counter.IncrWithExpiry(ctx, cache.QuotaKey(client, now), reset.Sub(now))
	if err != nil {
		log.Printf("quota: count %s: %v", client, err)
		d.Remaining = q.limit
		d.Allowed = true
		return d
	}
	d.Remaining = max(q.limit-int(n), 0)
	d.Allowed = n <= int64(q.limit)
	return d
}

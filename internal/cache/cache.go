// Package cache defines the small key-value contracts the analysis core
// consumes and ships memory, disk and redis backends for them.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// KV is a byte-valued store with per-key expiry. Implementations must be
// safe for concurrent use.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Counter provides atomic increment-and-expire semantics. Callers bucket
// keys by window (see QuotaKey), so a backend may either refresh the expiry
// on each increment or keep the first one.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// Store is a KV that can also count.
type Store interface {
	KV
	Counter
}

// LastModelKey is the memo key for the last model that answered for a
// credential. The credential itself never appears in the key.
func LastModelKey(credential string) string {
	return "model:last:" + Fingerprint(credential)
}

// QuotaKey buckets pooled-credential usage per client and UTC day.
func QuotaKey(client string, day time.Time) string {
	return fmt.Sprintf("quota:%s:%s", client, day.UTC().Format("2006-01-02"))
}

// Fingerprint is a short, stable, non-reversible identifier for a secret.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}

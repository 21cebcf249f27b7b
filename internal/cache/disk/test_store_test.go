package disk

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"setupguide/internal/cache"
	"setupguide/internal/tester"
)

var _ cache.KV = (*Store)(nil)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func openAt(t *testing.T, dir string, max int, c *clock) *Store {
	t.Helper()
	s, err := Open(Config{Dir: dir, MaxEntries: max, TTL: time.Hour})
	tester.NoErr(t, err)
	s.now = c.now
	return s
}

func TestStorePerEntryTTL(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := openAt(t, t.TempDir(), 10, c)
	ctx := context.Background()

	tester.NoErr(t, s.Set(ctx, "short", []byte("v1"), time.Minute))
	tester.NoErr(t, s.Set(ctx, "long", []byte("v2"), 0))
	_, ok, err := s.Get(ctx, "short")
	tester.NoErr(t, err)
	tester.True(t, ok, "short before expiry")

	c.t = c.t.Add(2 * time.Minute)
	_, ok, err = s.Get(ctx, "short")
	tester.NoErr(t, err)
	tester.False(t, ok, "short must expire")
	raw, ok, err := s.Get(ctx, "long")
	tester.NoErr(t, err)
	tester.True(t, ok, "default ttl entry remains")
	tester.Eq(t, string(raw), "v2")
}

func TestStoreEvictsLeastRecentlyRead(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := openAt(t, t.TempDir(), 2, c)
	ctx := context.Background()
	tick := func() { c.t = c.t.Add(time.Second) }

	tester.NoErr(t, s.Set(ctx, "a", []byte("aa"), 0))
	tick()
	tester.NoErr(t, s.Set(ctx, "b", []byte("bb"), 0))
	tick()
	_, ok, err := s.Get(ctx, "a")
	tester.NoErr(t, err)
	tester.True(t, ok, "touch a")
	tick()
	tester.NoErr(t, s.Set(ctx, "c", []byte("cc"), 0))

	_, ok, _ = s.Get(ctx, "b")
	tester.False(t, ok, "b should be evicted")
	_, ok, _ = s.Get(ctx, "a")
	tester.True(t, ok, "a should remain")
	_, ok, _ = s.Get(ctx, "c")
	tester.True(t, ok, "c should remain")

	files, err := os.ReadDir(filepath.Join(s.dir, "data"))
	tester.NoErr(t, err)
	tester.Eq(t, len(files), 2)
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	key := cache.LastModelKey("key-1")

	s, err := Open(Config{Dir: dir, MaxEntries: 10})
	tester.NoErr(t, err)
	tester.NoErr(t, s.Set(ctx, key, []byte("gemini-2.5-flash"), time.Hour))

	reopened, err := Open(Config{Dir: dir, MaxEntries: 10})
	tester.NoErr(t, err)
	raw, ok, err := reopened.Get(ctx, key)
	tester.NoErr(t, err)
	tester.True(t, ok, "memo should survive reopen")
	tester.Eq(t, string(raw), "gemini-2.5-flash")

	tester.NoErr(t, reopened.Delete(ctx, key))
	_, ok, _ = reopened.Get(ctx, key)
	tester.False(t, ok, "deleted")
}

func TestStoreForgetsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := Open(Config{Dir: dir, MaxEntries: 10})
	tester.NoErr(t, err)
	tester.NoErr(t, s.Set(ctx, "k", []byte("v"), 0))
	tester.NoErr(t, os.RemoveAll(filepath.Join(dir, "data")))
	tester.NoErr(t, os.MkdirAll(filepath.Join(dir, "data"), 0o700))

	_, ok, err := s.Get(ctx, "k")
	tester.NoErr(t, err)
	tester.False(t, ok)

	_, err = Open(Config{})
	tester.True(t, err != nil, "dir is required")
}

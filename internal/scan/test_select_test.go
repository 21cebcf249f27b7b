package scan

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setupguide/internal/tester"
)

func TestSelectReadmeOverMinifiedBundle(t *testing.T) {
	entries := []Entry{
		{Path: "README.md", Size: SizeOf(100)},
		{Path: "node_modules/x.min.js", Size: SizeOf(5_000_000)},
	}
	sel := Select(entries, 1000)
	tester.Eq(t, sel.Paths(), []string{"README.md"})
	tester.Eq(t, sel.TotalTokens, 29)
	tester.Eq(t, sel.Excluded, 1)
}

func TestSelectEdgeCases(t *testing.T) {
	tester.Eq(t, len(Select(nil, 1000).Files), 0)
	tester.Eq(t, len(Select([]Entry{{Path: "main.go", Size: SizeOf(10)}}, 0).Files), 0)
	tester.Eq(t, len(Select([]Entry{{Path: "main.go", Size: SizeOf(10)}}, -5).Files), 0)

	// Files without a recorded size are never scored, even with room to spare.
	sel := Select([]Entry{{Path: "main.go"}, {Path: "go.mod", Size: SizeOf(35)}}, 1000)
	tester.Eq(t, sel.Paths(), []string{"go.mod"})
	tester.Eq(t, sel.Excluded, 1)
}

func TestSelectSkipsOverflowAndKeepsGoing(t *testing.T) {
	entries := []Entry{
		{Path: "README.md", Size: SizeOf(3500)},        // 1000 tokens
		{Path: "main.go", Size: SizeOf(350)},           // 100 tokens, top rank
		{Path: "docs/deep/notes.md", Size: SizeOf(35)}, // 10 tokens, low rank
	}
	sel := Select(entries, 150)
	tester.Eq(t, sel.Paths(), []string{"main.go", "docs/deep/notes.md"})
	tester.Eq(t, sel.TotalTokens, 110)
	tester.Eq(t, sel.Overflowed, 1)
}

func TestSelectStableTies(t *testing.T) {
	entries := []Entry{
		{Path: "b.go", Size: SizeOf(100)},
		{Path: "a.go", Size: SizeOf(100)},
		{Path: "c.go", Size: SizeOf(100)},
	}
	sel := Select(entries, 1000)
	tester.Eq(t, sel.Paths(), []string{"b.go", "a.go", "c.go"})
}

func TestScoreMonotonicity(t *testing.T) {
	s := NewSelector(DefaultWeights())
	// root-level beats nested, all else equal
	assert.GreaterOrEqual(t, s.Score("Makefile", 2048), s.Score("build/Makefile", 2048))
	// bigger files of the same category rank lower, damped logarithmically
	small := s.Score("src/app.py", 1024)
	big := s.Score("src/app.py", 10*1024)
	huge := s.Score("src/app.py", 100*1024)
	assert.Greater(t, small, big)
	assert.InDelta(t, 5.0, small-big, 1e-9)
	assert.InDelta(t, 5.0, big-huge, 1e-9)
	// sub-KiB files are not rewarded below log10(1)
	assert.Equal(t, s.Score("src/app.py", 10), s.Score("src/app.py", 1000))
}

func TestEstimateTokens(t *testing.T) {
	s := NewSelector(DefaultWeights())
	tester.Eq(t, s.EstimateTokens(0), 0)
	tester.Eq(t, s.EstimateTokens(-1), 0)
	tester.Eq(t, s.EstimateTokens(1), 1)
	tester.Eq(t, s.EstimateTokens(7), 2)
	tester.Eq(t, s.EstimateTokens(8), 3)
}

// randomTree builds a tree mixing binaries, minified bundles and unsized
// entries with ordinary files.
func randomTree(r *rand.Rand, n int) []Entry {
	names := []string{"main.go", "README.md", "app.min.js", "logo.png", "setup.py", "docs/a.md", "src/x.ts", "Dockerfile", "lib/vendor.bundle.js"}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		dir := ""
		for d := r.Intn(4); d > 0; d-- {
			dir += fmt.Sprintf("d%d/", r.Intn(3))
		}
		e := Entry{Path: dir + names[r.Intn(len(names))]}
		if r.Intn(10) > 0 {
			e.Size = SizeOf(r.Int63n(2 * MaxTextBytes))
		}
		out = append(out, e)
	}
	return out
}

func TestSelectProperties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		entries := randomTree(r, 1+r.Intn(60))
		budget := r.Intn(400_000)
		sel := Select(entries, budget)

		sum := 0
		for _, f := range sel.Files {
			require.NotNil(t, f.Size, "unsized entry selected: %s", f.Path)
			require.False(t, IsBinary(f.Path, f.Size), "binary selected: %s", f.Path)
			require.False(t, IsMinified(f.Path), "minified selected: %s", f.Path)
			require.GreaterOrEqual(t, f.Tokens, 0)
			sum += f.Tokens
		}
		require.Equal(t, sum, sel.TotalTokens)
		require.LessOrEqual(t, sel.TotalTokens, budget)

		again := Select(entries, budget)
		require.Equal(t, sel.Paths(), again.Paths(), "selection must be deterministic")
	}
}

func TestParseWeightsOverlaysDefaults(t *testing.T) {
	w, err := ParseWeights([]byte("depth_penalty: 2.5\nsource: 10\n"))
	tester.NoErr(t, err)
	want := DefaultWeights()
	want.DepthPenalty = 2.5
	want.Source = 10
	tester.Eq(t, w, want)

	w, err = ParseWeights(nil)
	tester.NoErr(t, err)
	tester.Eq(t, w, DefaultWeights())

	_, err = ParseWeights([]byte("bytes_per_token: 0"))
	tester.True(t, err != nil, "zero bytes_per_token must be rejected")

	tester.Eq(t, DefaultWeights().MaxFileChars, 100_000)
	w, err = ParseWeights([]byte("max_file_chars: 4000\n"))
	tester.NoErr(t, err)
	tester.Eq(t, w.MaxFileChars, 4000)
	tester.Eq(t, w.Source, DefaultWeights().Source)
	_, err = ParseWeights([]byte("max_file_chars: -1"))
	tester.True(t, err != nil, "negative max_file_chars must be rejected")

	_, err = ParseWeights([]byte("depth_penalty: [nope"))
	tester.True(t, err != nil, "malformed yaml must be rejected")
}

package scan

import (
	"math"
	"sort"
)

// Entry is one file in a repository's flat listing. Size is nil when the
// listing did not report one.
type Entry struct {
	Path string
	Size *int64
	// SHA is the blob's content address.
	SHA string
	// URL locates the blob for retrieval.
	URL string
}

// SizeOf returns a pointer suitable for Entry.Size.
func SizeOf(n int64) *int64 { return &n }

// ScoredFile is an Entry ranked for selection.
type ScoredFile struct {
	Entry
	Category Category
	Score    float64
	Tokens   int
}

// Selection is the budget-constrained result of Select.
type Selection struct {
	Files       []ScoredFile
	TotalTokens int
	Budget      int
	// Candidates is the number of entries that survived filtering.
	Candidates int
	// Excluded counts entries dropped before scoring (no size, binary, minified).
	Excluded int
	// Overflowed counts scored candidates skipped for not fitting.
	Overflowed int
}

// Paths returns the selected paths in rank order.
func (s Selection) Paths() []string {
	out := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		out = append(out, f.Path)
	}
	return out
}

// Entries returns the selected entries in rank order.
func (s Selection) Entries() []Entry {
	out := make([]Entry, 0, len(s.Files))
	for _, f := range s.Files {
		out = append(out, f.Entry)
	}
	return out
}

// Selector ranks repository files and fills a token budget.
type Selector struct {
	Weights Weights
}

func NewSelector(w Weights) *Selector {
	if w.BytesPerToken <= 0 {
		w.BytesPerToken = DefaultWeights().BytesPerToken
	}
	return &Selector{Weights: w}
}

// EstimateTokens is ceil(size / bytesPerToken), never negative.
func (s *Selector) EstimateTokens(size int64) int {
	if size <= 0 {
		return 0
	}
	return int(math.Ceil(float64(size) / s.Weights.BytesPerToken))
}

// Score computes the additive category score minus depth and size penalties.
func (s *Selector) Score(p string, size int64) float64 {
	w := s.Weights
	c := Classify(p)
	score := 0.0
	if c.Has(CategoryRootLevel) {
		score += w.RootLevel
	}
	if c.Has(CategoryEntryPoint) {
		score += w.EntryPoint
	}
	if c.Has(CategoryConfig) {
		score += w.Config
	}
	if c.Has(CategoryDocumentation) {
		score += w.Documentation
	}
	if c.Has(CategorySource) {
		score += w.Source
	}
	score -= w.DepthPenalty * float64(Depth(p))
	kib := float64(size) / 1024
	score -= w.SizePenalty * math.Log10(math.Max(kib, 1))
	return score
}

// Eligible reports whether e can be scored at all.
func Eligible(e Entry) bool {
	if e.Size == nil {
		return false
	}
	return !IsBinary(e.Path, e.Size) && !IsMinified(e.Path)
}

// Select ranks entries and greedily packs them into budget. Files that would
// overflow the remaining budget are skipped, not terminal: smaller,
// lower-ranked files are still considered afterwards.
func (s *Selector) Select(entries []Entry, budget int) Selection {
	sel := Selection{Budget: budget}
	if len(entries) == 0 || budget <= 0 {
		sel.Budget = max(budget, 0)
		for _, e := range entries {
			if !Eligible(e) {
				sel.Excluded++
			}
		}
		return sel
	}

	scored := make([]ScoredFile, 0, len(entries))
	for _, e := range entries {
		if !Eligible(e) {
			sel.Excluded++
			continue
		}
		scored = append(scored, ScoredFile{
			Entry:    e,
			Category: Classify(e.Path),
			Score:    s.Score(e.Path, *e.Size),
			Tokens:   s.EstimateTokens(*e.Size),
		})
	}
	sel.Candidates = len(scored)

	// Stable so equal scores keep listing order.
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	remaining := budget
	for _, f := range scored {
		if f.Tokens > remaining {
			sel.Overflowed++
			continue
		}
		remaining -= f.Tokens
		sel.TotalTokens += f.Tokens
		sel.Files = append(sel.Files, f)
	}
	return sel
}

// Select runs a default-weighted Selector.
func Select(entries []Entry, budget int) Selection {
	return NewSelector(DefaultWeights()).Select(entries, budget)
}

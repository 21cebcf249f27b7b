package scan

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBudget is the token budget used when callers do not pick one.
	DefaultBudget = 950_000
	// DefaultMaxFileChars caps each fetched file's text.
	DefaultMaxFileChars = 100_000
)

// Weights holds the scoring constants. They are empirical and meant to be
// tuned, so they can be overridden from a YAML file.
type Weights struct {
	RootLevel     float64 `yaml:"root_level"`
	EntryPoint    float64 `yaml:"entry_point"`
	Config        float64 `yaml:"config"`
	Documentation float64 `yaml:"documentation"`
	Source        float64 `yaml:"source"`

	// DepthPenalty is subtracted once per path separator.
	DepthPenalty float64 `yaml:"depth_penalty"`
	// SizePenalty multiplies log10(max(KiB, 1)).
	SizePenalty float64 `yaml:"size_penalty"`
	// BytesPerToken converts byte size to an estimated token cost.
	BytesPerToken float64 `yaml:"bytes_per_token"`
	// MaxFileChars is the per-file character ceiling applied when content
	// is fetched.
	MaxFileChars int `yaml:"max_file_chars"`
}

func DefaultWeights() Weights {
	return Weights{
		RootLevel:     100,
		EntryPoint:    90,
		Config:        80,
		Documentation: 70,
		Source:        60,
		DepthPenalty:  10,
		SizePenalty:   5,
		BytesPerToken: 3.5,
		MaxFileChars:  DefaultMaxFileChars,
	}
}

// weightsFile mirrors Weights with pointer fields so that absent keys keep
// their defaults.
type weightsFile struct {
	RootLevel     *float64 `yaml:"root_level"`
	EntryPoint    *float64 `yaml:"entry_point"`
	Config        *float64 `yaml:"config"`
	Documentation *float64 `yaml:"documentation"`
	Source        *float64 `yaml:"source"`
	DepthPenalty  *float64 `yaml:"depth_penalty"`
	SizePenalty   *float64 `yaml:"size_penalty"`
	BytesPerToken *float64 `yaml:"bytes_per_token"`
	MaxFileChars  *int     `yaml:"max_file_chars"`
}

// ParseWeights overlays YAML onto DefaultWeights.
func ParseWeights(raw []byte) (Weights, error) {
	w := DefaultWeights()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return w, nil
	}
	var f weightsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Weights{}, fmt.Errorf("scan: parse weights: %w", err)
	}
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&w.RootLevel, f.RootLevel)
	set(&w.EntryPoint, f.EntryPoint)
	set(&w.Config, f.Config)
	set(&w.Documentation, f.Documentation)
	set(&w.Source, f.Source)
	set(&w.DepthPenalty, f.DepthPenalty)
	set(&w.SizePenalty, f.SizePenalty)
	set(&w.BytesPerToken, f.BytesPerToken)
	if f.MaxFileChars != nil {
		w.MaxFileChars = *f.MaxFileChars
	}
	if w.BytesPerToken <= 0 {
		return Weights{}, fmt.Errorf("scan: bytes_per_token must be > 0, got %v", w.BytesPerToken)
	}
	if w.MaxFileChars <= 0 {
		return Weights{}, fmt.Errorf("scan: max_file_chars must be > 0, got %d", w.MaxFileChars)
	}
	return w, nil
}

// LoadWeights reads a YAML weights file. An empty path returns the defaults.
func LoadWeights(path string) (Weights, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultWeights(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("scan: read weights: %w", err)
	}
	return ParseWeights(raw)
}

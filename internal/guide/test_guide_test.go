package guide

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setupguide/internal/tester"
)

func TestParseFencedResponse(t *testing.T) {
	res, err := Parse("here you go: ```json\n{\"projectOverview\":\"x\"}\n```")
	tester.NoErr(t, err)
	tester.Eq(t, res.ProjectOverview, "x")
	tester.Eq(t, res.RunInstructions, Placeholder)
	tester.Eq(t, res.ConfigurationNotes, Placeholder)
	tester.Eq(t, res.Troubleshooting, Placeholder)
	tester.Eq(t, res.Prerequisites, []string{})
	tester.Eq(t, res.SetupSteps, []string{})
	tester.Eq(t, res.OSSpecificNotes, "")
}

func TestParseFailsWithoutJSON(t *testing.T) {
	_, err := Parse("Sorry, I cannot help with that.")
	tester.True(t, err != nil)
}

func TestNormalizeCoercesShapes(t *testing.T) {
	res := Normalize(map[string]any{
		"projectOverview":    "",
		"prerequisites":      "Go 1.24",
		"setupSteps":         []any{"clone", map[string]any{"cmd": "make"}, "", nil, 3.0},
		"runInstructions":    []any{"make run", "make test"},
		"configurationNotes": false,
		"troubleshooting":    map[string]any{},
		"osSpecificNotes":    "use brew",
	})
	assert.Equal(t, Placeholder, res.ProjectOverview)
	assert.Equal(t, []string{}, res.Prerequisites)
	assert.Equal(t, []string{"clone", `{"cmd":"make"}`, "3"}, res.SetupSteps)
	assert.Equal(t, "make run\nmake test", res.RunInstructions)
	assert.Equal(t, Placeholder, res.ConfigurationNotes)
	assert.Equal(t, Placeholder, res.Troubleshooting)
	assert.Equal(t, "use brew", res.OSSpecificNotes)
}

func TestNormalizeNeverLeavesRequiredFieldsEmpty(t *testing.T) {
	res := Normalize(nil)
	for _, s := range []string{res.ProjectOverview, res.RunInstructions, res.ConfigurationNotes, res.Troubleshooting} {
		require.NotEmpty(t, s)
	}
	require.NotNil(t, res.Prerequisites)
	require.NotNil(t, res.SetupSteps)
}

func TestNormalizeOS(t *testing.T) {
	for in, want := range map[string]string{"Windows": "windows", " darwin ": "macos", "ubuntu": "linux", "OSX": "macos"} {
		got, ok := NormalizeOS(in)
		tester.True(t, ok, in)
		tester.Eq(t, got, want, in)
	}
	_, ok := NormalizeOS("")
	tester.False(t, ok)
	_, ok = NormalizeOS("plan9")
	tester.False(t, ok)
}

func TestComposePrompt(t *testing.T) {
	p := ComposePrompt(PromptInput{
		Repo:      "octo/hello",
		TargetOS:  "mac",
		Truncated: true,
		Files: []File{
			{Path: "README.md", Content: "# Hello\n\n"},
			{Path: "go.mod", Content: "module hello"},
		},
	})
	assert.Contains(t, p, "Repository: octo/hello")
	assert.Contains(t, p, "Target operating system: macOS.")
	assert.Contains(t, p, "listing was truncated")
	assert.Contains(t, p, `"projectOverview"`)
	assert.Contains(t, p, "Repository files (2):")
	assert.Contains(t, p, "=== FILE: README.md ===\n# Hello\n")
	assert.Less(t, strings.Index(p, "README.md ==="), strings.Index(p, "go.mod ==="))

	p = ComposePrompt(PromptInput{Repo: "octo/hello"})
	assert.Contains(t, p, "Target operating system: any.")
	assert.NotContains(t, p, "truncated")
}

func TestMarkdownRendersSections(t *testing.T) {
	r := Result{
		ProjectOverview:    "A tiny CLI.<!-- model aside -->",
		Prerequisites:      []string{"Go 1.22", "  "},
		SetupSteps:         []string{"git clone x", "go build ./..."},
		RunInstructions:    "go run .\n\n\n\nor make run",
		ConfigurationNotes: Placeholder,
		Troubleshooting:    Placeholder,
		OSSpecificNotes:    "Use Homebrew.",
	}
	md := r.Markdown("octo/hello", "darwin")
	assert.True(t, strings.HasPrefix(md, "# Setup guide: octo/hello\n"))
	assert.Contains(t, md, "## Overview\n\nA tiny CLI.\n")
	assert.NotContains(t, md, "model aside")
	assert.Contains(t, md, "## Prerequisites\n\n- Go 1.22\n\n")
	assert.Contains(t, md, "1. git clone x\n2. go build ./...\n")
	assert.Contains(t, md, "go run .\n\nor make run")
	assert.Contains(t, md, "## Notes for macOS\n\nUse Homebrew.\n")
}

func TestMarkdownWithoutOSNotes(t *testing.T) {
	md := Result{ProjectOverview: "x"}.Markdown("o/r", "")
	assert.Contains(t, md, "## Setup steps\n\n"+Placeholder+"\n")
	assert.Contains(t, md, "## Running\n\n"+Placeholder+"\n")
	assert.NotContains(t, md, "Notes for")
	assert.NotContains(t, md, "Platform notes")
	require.True(t, strings.HasSuffix(md, "\n"))
	assert.False(t, strings.HasSuffix(md, "\n\n"))
}

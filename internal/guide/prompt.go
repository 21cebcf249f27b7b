package guide

import (
	"fmt"
	"strings"
)

// File is one repository file handed to the model.
type File struct {
	Path    string
	Content string
}

type PromptInput struct {
	// Repo is "owner/name".
	Repo        string
	Description string
	TargetOS    string
	Files       []File
	// Truncated is set when the repository listing was cut short upstream.
	Truncated bool
}

var osAliases = map[string]string{
	"windows": "windows", "win": "windows", "win32": "windows", "win64": "windows",
	"macos": "macos", "mac": "macos", "osx": "macos", "darwin": "macos",
	"linux": "linux", "ubuntu": "linux", "debian": "linux", "fedora": "linux",
}

var osLabels = map[string]string{"windows": "Windows", "macos": "macOS", "linux": "Linux"}

// NormalizeOS maps common spellings onto windows, macos or linux. ok is false
// for anything else, including the empty string.
func NormalizeOS(s string) (string, bool) {
	v, ok := osAliases[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

const schema = `{
  "projectOverview": "what the project is and does, in 2-4 sentences",
  "prerequisites": ["tool or runtime with version, one per item"],
  "setupSteps": ["ordered, copy-pasteable step, one per item"],
  "runInstructions": "how to start, test and build the project",
  "configurationNotes": "environment variables, config files and secrets to provide",
  "troubleshooting": "common failures and their fixes",
  "osSpecificNotes": "differences for the target operating system"
}`

// ComposePrompt builds the full instruction plus one section per file.
func ComposePrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString("You are a senior engineer writing a setup guide for a developer who has just cloned a repository.\n")
	fmt.Fprintf(&b, "Repository: %s\n", in.Repo)
	if d := strings.TrimSpace(in.Description); d != "" {
		fmt.Fprintf(&b, "Description: %s\n", d)
	}
	if target, ok := NormalizeOS(in.TargetOS); ok {
		fmt.Fprintf(&b, "Target operating system: %s. Use commands and package managers native to %s and fill osSpecificNotes.\n", osLabels[target], osLabels[target])
	} else {
		b.WriteString("Target operating system: any. Prefer cross-platform commands and note platform differences in osSpecificNotes.\n")
	}
	if in.Truncated {
		b.WriteString("The repository listing was truncated; some files are missing from the excerpt below.\n")
	}
	b.WriteString("Base every statement on the files below. When something cannot be determined from them, say so instead of guessing.\n")
	b.WriteString("Answer with a single JSON object and nothing else, using exactly this shape:\n")
	b.WriteString(schema)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Repository files (%d):\n", len(in.Files))
	for _, f := range in.Files {
		fmt.Fprintf(&b, "\n=== FILE: %s ===\n%s\n", f.Path, strings.TrimRight(f.Content, "\n"))
	}
	return b.String()
}

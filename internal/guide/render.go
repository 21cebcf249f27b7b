package guide

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	reComment           = regexp.MustCompile(`(?s)<!--.*?-->`)
	reExcessiveNewlines = regexp.MustCompile(`\n{3,}`)
)

// tidy strips HTML comments and squeezes blank runs down to one empty line.
func tidy(text string) string {
	text = reComment.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = reExcessiveNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Markdown renders r as a readable document titled for repo. The optional
// OS section is only written when the model filled it.
func (r Result) Markdown(repo, targetOS string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Setup guide: %s\n\n", repo)

	section(&b, "Overview", tidy(r.ProjectOverview))
	bullets(&b, "Prerequisites", r.Prerequisites, false)
	bullets(&b, "Setup steps", r.SetupSteps, true)
	section(&b, "Running", tidy(r.RunInstructions))
	section(&b, "Configuration", tidy(r.ConfigurationNotes))
	section(&b, "Troubleshooting", tidy(r.Troubleshooting))

	if notes := tidy(r.OSSpecificNotes); notes != "" {
		title := "Platform notes"
		if target, ok := NormalizeOS(targetOS); ok {
			title = "Notes for " + osLabels[target]
		}
		section(&b, title, notes)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func section(b *strings.Builder, title, body string) {
	if body == "" {
		body = Placeholder
	}
	fmt.Fprintf(b, "## %s\n\n%s\n\n", title, body)
}

func bullets(b *strings.Builder, title string, items []string, numbered bool) {
	fmt.Fprintf(b, "## %s\n\n", title)
	n := 0
	for _, it := range items {
		it = tidy(it)
		if it == "" {
			continue
		}
		n++
		if numbered {
			fmt.Fprintf(b, "%d. %s\n", n, it)
		} else {
			fmt.Fprintf(b, "- %s\n", it)
		}
	}
	if n == 0 {
		b.WriteString(Placeholder + "\n")
	}
	b.WriteString("\n")
}

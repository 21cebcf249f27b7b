package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"setupguide/internal/analyzer"
	"setupguide/internal/guide"
	"setupguide/internal/llm"
)

type analyzeFlags struct {
	targetOS string
	model    string
	json     bool
}

func newAnalyzeCmd(c *cli) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <repo>",
		Short: "Write a setup guide for a repository",
		Long: `Select the most informative files of a repository, send them to Gemini and
print the resulting setup guide.

<repo> accepts owner/name, github.com/owner/name, a full https URL or an
SSH clone address.

Examples:
  setupguide analyze golang/example
  setupguide analyze https://github.com/octo/hello --os windows
  setupguide analyze octo/hello --model gemini-2.5-pro --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, c, f, args[0])
		},
	}
	cmd.Flags().StringVar(&f.targetOS, "os", "", "Target operating system: windows, macos or linux")
	cmd.Flags().StringVar(&f.model, "model", "", "Model to try before the fallback order")
	cmd.Flags().BoolVar(&f.json, "json", false, "Output the report as JSON")
	return cmd
}

func runAnalyze(cmd *cobra.Command, c *cli, f analyzeFlags, repo string) error {
	if f.targetOS != "" {
		if _, ok := guide.NormalizeOS(f.targetOS); !ok {
			return fmt.Errorf("unknown --os %q: use windows, macos or linux", f.targetOS)
		}
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if err := requireKey(cfg); err != nil {
		return err
	}
	engine, err := c.newEngine(cfg)
	if err != nil {
		return err
	}
	an, err := c.newAnalyzer(cfg, engine)
	if err != nil {
		return err
	}

	report, err := an.Analyze(cmd.Context(), repo, analyzer.Options{
		ModelCredential: cfg.GeminiAPIKey,
		RepoToken:       cfg.GitHubToken,
		TargetOS:        f.targetOS,
		Model:           f.model,
	})
	if err != nil {
		return describe(err)
	}

	out := cmd.OutOrStdout()
	if f.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprint(out, report.Result.Markdown(report.Repo, f.targetOS))
	fmt.Fprintf(out, "\n---\nmodel %s, %d of %d selected files read, ~%d tokens", report.Model, report.Fetched, report.Selected, report.TotalTokens)
	if report.Truncated {
		fmt.Fprint(out, ", repository listing was truncated")
	}
	fmt.Fprintln(out)
	return nil
}

// describe adds a hint to the failures a user can act on.
func describe(err error) error {
	switch analyzer.KindOf(err) {
	case analyzer.KindInvalidCredential:
		return fmt.Errorf("%w\nhint: check GEMINI_API_KEY", err)
	case analyzer.KindNotFound:
		return fmt.Errorf("%w\nhint: private repositories need GITHUB_TOKEN", err)
	case analyzer.KindRateLimited:
		return fmt.Errorf("%w\nhint: set GITHUB_TOKEN or wait for the quota to reset", err)
	case analyzer.KindTooLarge:
		return fmt.Errorf("%w\nhint: raise MAX_REPO_MB to analyze larger repositories", err)
	case analyzer.KindModelsExhausted:
		var ex *llm.ExhaustedError
		if errors.As(err, &ex) {
			return fmt.Errorf("%w\ntried: %s", err, joinModels(ex.Models))
		}
	}
	return err
}

func joinModels(models []string) string {
	if len(models) == 0 {
		return "none"
	}
	return strings.Join(models, " -> ")
}

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var selectJSONFlag bool

// SelectedFile is one row of `select --json`.
type SelectedFile struct {
	Rank     int     `json:"rank"`
	Path     string  `json:"path"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
	Tokens   int     `json:"tokens"`
}

// SelectResponse is the `select --json` document.
type SelectResponse struct {
	Repo       string         `json:"repo"`
	Branch     string         `json:"branch"`
	Files      []SelectedFile `json:"files"`
	Tokens     int            `json:"tokens"`
	Budget     int            `json:"budget"`
	Listed     int            `json:"listed"`
	Candidates int            `json:"candidates"`
	Excluded   int            `json:"excluded"`
	Overflowed int            `json:"overflowed"`
	Truncated  bool           `json:"listingTruncated"`
}

func newSelectCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select <repo>",
		Short: "Show which files would be sent to the model",
		Long: `List a repository and print the files the selector ranks highest, in the
order they would appear in the prompt. No model is called, so no Gemini key
is needed.

Examples:
  setupguide select octo/hello
  setupguide select octo/hello --budget 20000 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelect(cmd, c, args[0])
		},
	}
	cmd.Flags().BoolVar(&selectJSONFlag, "json", false, "Output as JSON")
	return cmd
}

func runSelect(cmd *cobra.Command, c *cli, repo string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	an, err := c.newAnalyzer(cfg, nil)
	if err != nil {
		return err
	}
	plan, err := an.Plan(cmd.Context(), repo, cfg.GitHubToken)
	if err != nil {
		return describe(err)
	}

	sel := plan.Selection
	resp := SelectResponse{
		Repo:       plan.Ref.String(),
		Branch:     plan.Repo.DefaultBranch,
		Files:      make([]SelectedFile, 0, len(sel.Files)),
		Tokens:     sel.TotalTokens,
		Budget:     sel.Budget,
		Listed:     len(plan.Listing.Entries),
		Candidates: sel.Candidates,
		Excluded:   sel.Excluded,
		Overflowed: sel.Overflowed,
		Truncated:  plan.Listing.Truncated,
	}
	for i, f := range sel.Files {
		resp.Files = append(resp.Files, SelectedFile{
			Rank:     i + 1,
			Path:     f.Path,
			Category: f.Category.String(),
			Score:    f.Score,
			Tokens:   f.Tokens,
		})
	}

	out := cmd.OutOrStdout()
	if selectJSONFlag {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTOKENS\tSCORE\tCATEGORY\tPATH")
	for _, f := range resp.Files {
		fmt.Fprintf(w, "%d\t%d\t%.1f\t%s\t%s\n", f.Rank, f.Tokens, f.Score, f.Category, f.Path)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s@%s: %d of %d files, %d of %d tokens", resp.Repo, resp.Branch, len(resp.Files), resp.Listed, resp.Tokens, resp.Budget)
	if resp.Overflowed > 0 {
		fmt.Fprintf(out, ", %d over budget", resp.Overflowed)
	}
	if resp.Excluded > 0 {
		fmt.Fprintf(out, ", %d excluded", resp.Excluded)
	}
	if resp.Truncated {
		fmt.Fprint(out, ", listing truncated")
	}
	fmt.Fprintln(out)
	return nil
}

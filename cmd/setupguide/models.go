package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// ModelInfo is one row of `models --json`.
type ModelInfo struct {
	Order     int    `json:"order"`
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens"`
	RPM       int    `json:"rpm,omitempty"`
}

func newModelsCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Print the model fallback order",
		Long: `Print the Gemini models analyze falls back through, in order, with the rate
limits of the selected tier. A --model given to analyze and the last model
that worked are tried before this list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			regs := c.newCatalog(cfg).Registrations()
			models := make([]ModelInfo, 0, len(regs))
			for i, r := range regs {
				m := ModelInfo{Order: i + 1, Model: r.Model, MaxTokens: r.MaxTokens}
				if r.RateLimit != nil {
					m.RPM = r.RateLimit.RPM
				}
				models = append(models, m)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(models)
			}
			fmt.Fprintf(out, "tier: %s\n\n", cfg.GeminiTier)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tMODEL\tCONTEXT\tRPM")
			for _, m := range models {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", m.Order, m.Model, m.MaxTokens, limit(m.RPM))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func limit(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprint(n)
}

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

func newCrawlCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:       "crawl [maps|comments|posts|all]...",
		Short:     "Crawl the configured targets and collect leads",
		Long:      `Runs one checkpointed batch per selected source. Sources run concurrently; an interrupted batch resumes from its checkpoint on the next run.`,
		ValidArgs: []string{"maps", "comments", "posts", "all"},
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			leads, err := crawl(cmd.Context(), appInstance, cmd.OutOrStdout(), args)
			if err != nil {
				return err
			}
			if out != "" {
				return writeSnapshot(out, crawler.Snapshot{Leads: leads})
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write all collected leads to this snapshot file")
	return cmd
}

// crawl runs the selected jobs and prints one summary line per batch.
func crawl(ctx context.Context, appInstance App, w io.Writer, sources []string) ([]crawler.Lead, error) {
	logger := appInstance.Logger()
	jobs, err := appInstance.Jobs(sources...)
	if err != nil {
		return nil, err
	}
	results, err := appInstance.Crawl(ctx, jobs)
	for _, res := range results {
		if res.RunID == "" {
			continue
		}
		logger.Info("batch complete",
			zap.String("run_id", res.RunID),
			zap.String("source", string(res.Source)),
			zap.Int("leads", len(res.Leads)),
		)
		fmt.Fprintf(w, "%s\t%s\t%d leads\n", res.RunID, res.Source, len(res.Leads))
	}
	if err != nil {
		return collectLeads(results), fmt.Errorf("crawl: %w", err)
	}
	return collectLeads(results), nil
}

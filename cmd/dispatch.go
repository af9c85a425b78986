package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

func newDispatchCmd() *cobra.Command {
	var leadsPath string
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send outreach to the leads in a snapshot",
		Long:  `Walks the snapshot in order and sends one message per lead over the first channel that accepts it, stopping at the daily message limit.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := readSnapshot(leadsPath)
			if err != nil {
				return err
			}
			_, err = dispatch(cmd.Context(), appInstance, cmd.OutOrStdout(), snap.Leads)
			return err
		},
	}
	cmd.Flags().StringVar(&leadsPath, "leads", "", "snapshot file produced by crawl --out")
	_ = cmd.MarkFlagRequired("leads")
	return cmd
}

func dispatch(ctx context.Context, appInstance App, w io.Writer, leads []crawler.Lead) (crawler.DispatchResult, error) {
	if len(leads) == 0 {
		return crawler.DispatchResult{}, errors.New("dispatch: no leads")
	}
	res, err := appInstance.Dispatch(ctx, leads)
	if err != nil {
		return res, fmt.Errorf("dispatch: %w", err)
	}
	appInstance.Logger().Info("dispatch complete",
		zap.Int("success", res.Success),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	fmt.Fprintf(w, "success=%d failed=%d skipped=%d\n", res.Success, res.Failed, res.Skipped)
	return res, nil
}

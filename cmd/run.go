package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

func newRunCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl every source, then dispatch to the leads found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			leads, err := crawl(cmd.Context(), appInstance, cmd.OutOrStdout(), nil)
			if err != nil {
				return err
			}
			if out != "" {
				if err := writeSnapshot(out, crawler.Snapshot{Leads: leads}); err != nil {
					return err
				}
			}
			if len(leads) == 0 {
				appInstance.Logger().Info("no leads to dispatch")
				return nil
			}
			_, err = dispatch(cmd.Context(), appInstance, cmd.OutOrStdout(), leads)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "also write the collected leads to this snapshot file")
	return cmd
}

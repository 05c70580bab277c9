package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitemap-bot/internal/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Slack events webhook",
		Long: `Serves the Slack Events API endpoint along with /healthz, /readyz,
/metrics, and the results API when a database is configured. Valid requests
are submitted to the configured job backend. With the memory backend the
crawl workers run in this process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := opts.build(cmd.Context(), app.RoleServe)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}
}

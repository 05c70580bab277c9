package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitemap-bot/internal/app"
)

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume crawl jobs from the broker",
		Long: `Consumes crawl jobs from the pubsub, amqp, or nats backend until
interrupted. Each job is crawled, uploaded, and reported to Slack.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := opts.build(cmd.Context(), app.RoleWorker)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.RunWorker(cmd.Context())
		},
	}
}

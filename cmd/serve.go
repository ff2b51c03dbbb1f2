package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/renderbot/crawlserve/internal/app"
	"github.com/renderbot/crawlserve/internal/config"
)

// newServeCmd creates the 'serve' subcommand, which runs the task API and
// its worker pool until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl task HTTP API",
		Long: `Starts the HTTP server exposing the task-based crawl API together
with its background worker pool. The server shuts down gracefully on
SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			application, err := app.Build(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}

			return application.Run(cmd.Context())
		},
	}
}

// Package cmd defines and implements the CLI commands for the crawlserve
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawlserve",
		Short: "A crawl orchestration service with markdown extraction.",
		Long: `crawlserve renders web pages, converts them to markdown, and serves
the results over a task-based HTTP API. It can also run one-shot batched
crawls of an entire site, discovering pages through sitemaps.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./crawlserve.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlSiteCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

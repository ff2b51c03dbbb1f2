package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/renderbot/crawlserve/internal/app"
	"github.com/renderbot/crawlserve/internal/batch"
	"github.com/renderbot/crawlserve/internal/clock/system"
	"github.com/renderbot/crawlserve/internal/config"
	"github.com/renderbot/crawlserve/internal/crawler"
	"github.com/renderbot/crawlserve/internal/extract"
	"github.com/renderbot/crawlserve/internal/logging"
	"github.com/renderbot/crawlserve/internal/metrics"
	"github.com/renderbot/crawlserve/internal/progress"
	"github.com/renderbot/crawlserve/internal/progress/sinks"
	"github.com/renderbot/crawlserve/internal/sink/jsonl"
	"github.com/renderbot/crawlserve/internal/sitemap"
)

// newCrawlSiteCmd creates the 'crawl-site' subcommand. It discovers a site's
// pages through its sitemaps, crawls them in bounded waves, and writes the
// extracted markdown to timestamped JSONL files.
func newCrawlSiteCmd() *cobra.Command {
	var (
		maxConcurrent int
		outputDir     string
		engine        string
		filterKind    string
		filterQuery   string
		schemaFile    string
	)

	cmd := &cobra.Command{
		Use:   "crawl-site <base-url>",
		Short: "Crawl every sitemap page of a site in one batch run",
		Long: `Discovers page URLs through the site's sitemaps, renders each page in
waves of bounded concurrency, and appends one JSONL record per page to a
timestamped output directory. Failures are recorded alongside results and
never stop the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if maxConcurrent > 0 {
				cfg.Batch.MaxConcurrent = maxConcurrent
			}
			if outputDir != "" {
				cfg.Output.BaseDir = outputDir
			}
			if engine != "" {
				cfg.Renderer.Engine = engine
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer logger.Sync() //nolint:errcheck
			zap.ReplaceGlobals(logger)
			metrics.Init()

			filter := crawler.FilterSpec{
				Kind:      crawler.FilterKind(filterKind),
				Query:     filterQuery,
				Threshold: crawler.DefaultFilterThreshold,
			}
			switch filter.Kind {
			case crawler.FilterPruning, crawler.FilterBM25, crawler.FilterNone:
			case "":
				filter.Kind = crawler.FilterPruning
			default:
				return fmt.Errorf("unknown filter %q", filterKind)
			}

			schema := defaultBlogSchema()
			if schemaFile != "" {
				raw, err := os.ReadFile(schemaFile)
				if err != nil {
					return fmt.Errorf("read schema file: %w", err)
				}
				schema, err = crawler.ParseSchema(raw)
				if err != nil {
					return fmt.Errorf("parse schema file: %w", err)
				}
			}

			renderer, err := app.NewRenderer(&cfg, logger)
			if err != nil {
				return err
			}
			if closer, ok := renderer.(interface{ Close() }); ok {
				defer closer.Close()
			}

			ctx := cmd.Context()
			baseURL := args[0]

			resolver := sitemap.New(sitemap.Config{
				UserAgent: cfg.Renderer.UserAgent,
				Timeout:   cfg.SitemapTimeout(),
				IndexMode: sitemap.IndexMode(cfg.Sitemap.IndexMode),
			}, logger.Named("sitemap"))

			urls, err := resolver.Discover(ctx, baseURL)
			if err != nil {
				return fmt.Errorf("sitemap discovery: %w", err)
			}
			if len(urls) == 0 {
				logger.Warn("no sitemap URLs found", zap.String("base_url", baseURL))
				fmt.Fprintln(cmd.OutOrStdout(), "No URLs found in sitemap. Exiting...")
				return nil
			}
			logger.Info("site crawl starting",
				zap.String("base_url", baseURL),
				zap.Int("urls", len(urls)),
				zap.Int("max_concurrent", cfg.Batch.MaxConcurrent),
			)

			sink, err := jsonl.New(jsonl.Config{BaseDir: cfg.Output.BaseDir}, system.New(), logger.Named("sink"))
			if err != nil {
				return fmt.Errorf("open output sink: %w", err)
			}
			defer sink.Close() //nolint:errcheck

			promSink, err := sinks.NewPrometheusSink(nil)
			if err != nil {
				return fmt.Errorf("register progress collectors: %w", err)
			}
			hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
				sinks.NewLogSink(logger.Named("progress")),
				promSink,
			)
			defer hub.Close(context.Background()) //nolint:errcheck

			coordinator := batch.New(batch.Config{
				MaxConcurrent: cfg.Batch.MaxConcurrent,
				BatchDelay:    cfg.BatchDelay(),
				PageTimeout:   cfg.PageTimeout(),
				WaitFor:       crawler.WaitCondition(cfg.Batch.WaitFor),
			}, renderer, extract.NewPipeline(), sink, logger.Named("batch"),
				batch.WithProgress(hub, filepath.Base(sink.Dir())))

			stats, err := coordinator.Run(ctx, urls, schema, filter)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"crawled %d pages: %d success, %d failed, %d timeout, %d error\nresults written to %s\n",
				stats.Total(), stats.Success, stats.Failed, stats.Timeout, stats.Error, sink.Dir(),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "pages rendered at once (overrides config)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "base directory for JSONL output (overrides config)")
	cmd.Flags().StringVar(&engine, "engine", "", "renderer engine: chromedp, colly, or auto (overrides config)")
	cmd.Flags().StringVar(&filterKind, "filter", "", "content filter: pruning, bm25, or none")
	cmd.Flags().StringVar(&filterQuery, "query", "", "relevance query for the bm25 filter")
	cmd.Flags().StringVar(&schemaFile, "schema", "", "JSON extraction schema file (default: built-in blog schema)")

	return cmd
}

// defaultBlogSchema extracts the fields most blog themes expose: title,
// article body, publication date, categories, and tags.
func defaultBlogSchema() *crawler.Schema {
	return &crawler.Schema{
		Name:         "Blog Posts",
		BaseSelector: "body",
		Fields: []crawler.Field{
			{Name: "title", Selector: "h1", Kind: crawler.FieldText},
			{Name: "content", Selector: ".entry-content", Kind: crawler.FieldHTML},
			{Name: "date", Selector: ".posted-on time", Kind: crawler.FieldText},
			{Name: "categories", Selector: ".cat-links a", Kind: crawler.FieldList, Fields: []crawler.Field{
				{Name: "category", Kind: crawler.FieldText},
			}},
			{Name: "tags", Selector: ".tags-links a", Kind: crawler.FieldList, Fields: []crawler.Field{
				{Name: "tag", Kind: crawler.FieldText},
			}},
		},
	}
}

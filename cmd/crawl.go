// Package cmd defines and implements the CLI commands for the doccrawler
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/doccrawler/internal/app"
	"github.com/JakeFAU/doccrawler/internal/config"
	"github.com/JakeFAU/doccrawler/internal/crawler"
	"github.com/JakeFAU/doccrawler/internal/logging"
	"github.com/JakeFAU/doccrawler/internal/metrics"
)

// flagKeys maps crawl flags to their configuration keys.
var flagKeys = map[string]string{
	"depth":        "crawl.depth",
	"max-files":    "limits.max_files",
	"max-pages":    "limits.max_pages",
	"storage-root": "crawl.storage_root",
	"file-types":   "crawl.file_types",
	"transform":    "crawl.transform",
	"render":       "crawl.render_fallback",
	"metrics":      "metrics.listen",
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <seed-url>",
		Short: "Crawls from a seed URL and stores the documents found",
		Long: `Crawls breadth-first from the seed URL within the configured depth and
scope, stores every fetched page and document, and prints one line per
processed URL: status, type, URL and the stored location.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cmd, *cfgFile)
			if err != nil {
				return err
			}
			return runCrawl(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.Int("depth", 1, "maximum link depth from the seed")
	f.Int("max-files", 100, "maximum number of stored files")
	f.Int("max-pages", 500, "maximum number of stored HTML pages")
	f.String("storage-root", "./downloads", "storage root: a path, file://, s3://, gs:// or mem:// URI")
	f.StringSlice("file-types", []string{"html", "pdf", "docx", "pptx"}, "document types to store")
	f.String("transform", "", "post-crawl transform target (markdown)")
	f.Bool("render", false, "render pages with headless Chrome when they yield no links")
	f.String("metrics", "", "address to serve Prometheus metrics on, e.g. :9090")
	return cmd
}

// loadConfig binds the flags the user actually set, so unset flags do not
// shadow file or environment values.
func loadConfig(v *viper.Viper, cmd *cobra.Command, path string) (config.Config, error) {
	for name, key := range flagKeys {
		fl := cmd.Flags().Lookup(name)
		if fl == nil || !fl.Changed {
			continue
		}
		if err := v.BindPFlag(key, fl); err != nil {
			return config.Config{}, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	if render, _ := cmd.Flags().GetBool("render"); render {
		v.Set("headless.enabled", true)
	}
	cfg, err := config.LoadFrom(v, path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runCrawl(ctx context.Context, cfg config.Config, seed string, out io.Writer) error {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	var wg sync.WaitGroup
	if cfg.Metrics.Listen != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer func() {
			stopMetrics()
			wg.Wait()
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Listen, logger); err != nil {
				logger.Error("metrics_server_failed", zap.Error(err))
			}
		}()
	}

	items, err := a.Crawl(ctx, seed)
	printItems(out, items)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	return nil
}

// printItems writes "status type url -> location" for each item.
func printItems(out io.Writer, items []crawler.SavedItem) {
	for _, it := range items {
		typ := string(it.ContentType)
		if typ == "" {
			typ = "-"
		}
		path := it.Path
		if path == "" {
			path = "-"
		}
		fmt.Fprintf(out, "%s %s %s -> %s\n", it.Status, typ, it.URL, path)
	}
}

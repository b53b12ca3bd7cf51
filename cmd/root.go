package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRootCmd creates and configures the root command. Each invocation gets
// its own Viper instance so flags bound by subcommands never leak between
// runs.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "doccrawler",
		Short: "A bounded crawler that collects documents reachable from a seed URL.",
		Long: `doccrawler walks HTML pages breadth-first from a seed URL, downloads the
HTML, PDF, DOCX and PPTX files it finds, and stores each one under a
content-addressed path on local disk, S3 or Google Cloud Storage.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); DOCCRAWLER_* environment variables override it")
	cmd.AddCommand(newCrawlCmd(v, &cfgFile))

	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "doccrawler:", err)
		stop()
		os.Exit(1)
	}
}

// Package cmd defines the CLI commands for the catalogcrawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bling0390/vivbliss/internal/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalogcrawler",
		Short: "A directory-priority catalog crawler for vivbliss.com",
		Long: `catalogcrawler walks a hierarchical product catalog and drains one
directory at a time: every product in the highest-priority directory is
fetched and persisted before the crawl advances to the next directory.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus VIVBLISS_* env)")

	cmd.AddCommand(newCrawlCmd())
	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Package commands implements the catprev command-line interface.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	dbPath        string
	envRoot       string
	metricsListen string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "catprev",
		Short: "catprev - catalog preview compiler",
		Long: `catprev compiles a node's configuration catalog twice: once against the
environment the node is normally assigned, and once against a requested
preview environment, so the two catalogs can be diffed to surface migration
risk before a change is promoted.

Each pass writes its compiler output to its own log destination, and an
optional migration checker reports compatibility issues observed during the
preview pass.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "catprev.db", "fact database path")
	rootCmd.PersistentFlags().StringVar(&envRoot, "env-root", "environments", "root directory of environment CUE sources")
	rootCmd.PersistentFlags().StringVar(&metricsListen, "metrics-listen", "", "address to serve Prometheus metrics on (disabled when empty)")

	rootCmd.AddCommand(newCompileCommand(version))
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

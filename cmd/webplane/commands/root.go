package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "webplane",
		Short: "webplane - web subsystem management plane",
		Long: `webplane configures an embedded web container through a versioned,
addressable resource model.

Features:
  - Subsystem documents in CUE or HCL
  - Management operations with compensation and rollback
  - Runtime service graph with verify stage
  - Operation transformation for legacy model versions
  - Rego access policies and an SQLite operation journal`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "daemon configuration file (webplane.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDescribeCommand())
	rootCmd.AddCommand(newTransformCommand())
	rootCmd.AddCommand(newVersionsCommand())
	rootCmd.AddCommand(newExecCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}

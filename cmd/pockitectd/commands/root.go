package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	apiAddr    string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pockitectd",
		Short: "Pockitect - cloud resource lifecycle daemon",
		Long: `pockitectd scans, deploys, powers and tears down tagged cloud resources.

The daemon consumes commands from a bus (in-process or Redis), runs them on a
bounded worker pool and publishes status events. Teardown discovers every
dependent child of the requested resources and deletes them in dependency
order.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:8088", "admin API base URL for client commands")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newSendCommand())
	rootCmd.AddCommand(newRegistryCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				fmt.Fprintf(cmd.OutOrStdout(), "{\"version\":%q,\"commit\":%q,\"build_date\":%q}\n", version, commit, buildDate)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pockitectd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// 构建时通过 -ldflags "-X main.version=..." 注入
var (
	version = "dev"
	commit  = "none"
)

type rootFlags struct {
	configDir  string
	configName string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "botrunner",
		Short:         "Hosts many Telegram assistant bots in one process",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", envOr("BOTRUNNER_CONFIG_DIR", "configs"), "directory containing the config file")
	root.PersistentFlags().StringVar(&flags.configName, "config-name", envOr("BOTRUNNER_CONFIG_NAME", "config"), "config file name without extension")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bot supervisor and admin HTTP server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), flags)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context(), flags)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "botrunner %s (%s)\n", version, commit)
			},
		},
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

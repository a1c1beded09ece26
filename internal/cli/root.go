// Package cli implements the accessbot command tree: the bot server and the
// operator tooling around its record store.
package cli

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// DefaultEnvFile is loaded when present; a missing default file is not an
// error.
const DefaultEnvFile = ".env"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Version string
}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:     "accessbot",
		Short:   "Chat bot that issues course access codes",
		Long:    "Verifies subscriber emails against a spreadsheet and issues idempotent access codes over Telegram.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(opts.EnvFile)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", DefaultEnvFile, "dotenv file loaded before reading the environment")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewHeadersCommand(opts))
	cmd.AddCommand(NewSheetCommand(opts))

	return cmd
}

// loadEnvFile applies path without overriding variables already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && path == DefaultEnvFile {
		return nil
	}
	return WrapExitError(ExitCommandError, "load env file", err)
}

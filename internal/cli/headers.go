package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-access-bot/internal/bot"
	"github.com/tbourn/go-access-bot/internal/config"
	"github.com/tbourn/go-access-bot/internal/repo"
	"github.com/tbourn/go-access-bot/internal/utils"
)

// NewHeadersCommand creates the headers diagnostic: the same report the
// operator gets from /headers, without a chat transport.
func NewHeadersCommand(rootOpts *RootOptions) *cobra.Command {
	var sample int

	cmd := &cobra.Command{
		Use:   "headers",
		Short: "Show the sheet header, missing columns and masked sample rows",
		Long: `Connect to the configured record store and print its header row,
the configured columns it lacks and a few masked sample rows.

Exits 1 when the identity or credential column is missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadStore()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			store, closeStore, err := openStore(cmd.Context(), cfg.Store)
			if err != nil {
				return WrapExitError(ExitCommandError, "open store", err)
			}
			defer closeStore()

			svc := newIssuanceService(store, cfg.Store)
			d, err := svc.Diagnose(cmd.Context(), utils.Clamp(sample, 0, repo.MaxSampleRows))
			if err != nil {
				return WrapExitError(ExitFailure, "read sheet", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), bot.FormatDiagnostics(d, cfg.Store.CodeColumn))

			for _, m := range d.Missing {
				if m == cfg.Store.EmailColumn || m == cfg.Store.CodeColumn {
					return NewExitError(ExitFailure, fmt.Sprintf("required column %q missing", m))
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&sample, "sample", "n", repo.MaxSampleRows, "sample rows to print")
	return cmd
}

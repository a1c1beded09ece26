package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-access-bot/internal/config"
	"github.com/tbourn/go-access-bot/internal/repo"
)

// NewSheetCommand groups maintenance of the local SQLite sheet.
func NewSheetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheet",
		Short: "Maintain the local SQLite sheet",
	}
	cmd.AddCommand(newSheetImportCommand())
	return cmd
}

func newSheetImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Append CSV rows to the SQLite sheet",
		Long: `Append the rows of a CSV file to the configured worksheet of the
SQLite store (STORE_DRIVER=sqlite).

The first CSV record is the header. It becomes row 1 of an empty sheet;
otherwise it must match the existing header and is skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadStore()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			if cfg.Store.Driver != config.DriverSQLite {
				return NewExitError(ExitCommandError, "sheet import requires STORE_DRIVER=sqlite")
			}
			f, err := os.Open(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "open csv", err)
			}
			defer f.Close()

			sheet, closeDB, err := openCellSheet(cfg.Store)
			if err != nil {
				return WrapExitError(ExitCommandError, "open store", err)
			}
			defer closeDB()

			n, err := importCSV(cmd, sheet, f)
			if err != nil {
				return WrapExitError(ExitFailure, "import", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows into %s\n", n, sheet.Name())
			return nil
		},
	}
}

func importCSV(cmd *cobra.Command, sheet *repo.CellSheet, r io.Reader) (int, error) {
	ctx := cmd.Context()
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return 0, errors.New("csv is empty")
	}
	if err != nil {
		return 0, err
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	existing, err := sheet.Header(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) == 0 {
		if _, err := sheet.AppendRow(ctx, header...); err != nil {
			return 0, err
		}
	} else if !sameHeader(existing, header) {
		return 0, fmt.Errorf("csv header %q does not match sheet header %q", header, existing)
	}

	n := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if blank(rec) {
			continue
		}
		if _, err := sheet.AppendRow(ctx, rec...); err != nil {
			return n, err
		}
		n++
	}
}

func sameHeader(a, b []string) bool {
	for len(b) > 0 && strings.TrimSpace(b[len(b)-1]) == "" {
		b = b[:len(b)-1]
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if repo.NormalizeKey(a[i]) != repo.NormalizeKey(b[i]) {
			return false
		}
	}
	return true
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

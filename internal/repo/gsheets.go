package repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// GoogleSheet is a Sheet driver for one worksheet of a Google Sheets
// spreadsheet, using the Sheets v4 values API with A1 ranges.
type GoogleSheet struct {
	values        *sheets.SpreadsheetsValuesService
	spreadsheetID string
	sheet         string
}

// NewGoogleSheet authenticates with a service-account JSON key and returns a
// driver for spreadsheetID/sheet. The service account needs edit access
// because the issuance flow writes back two columns.
func NewGoogleSheet(ctx context.Context, spreadsheetID, sheet string, credentialsJSON []byte) (*GoogleSheet, error) {
	return NewGoogleSheetWithOptions(ctx, spreadsheetID, sheet,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
}

// NewGoogleSheetWithOptions builds the driver from raw client options
// (custom endpoint, HTTP client, credentials).
func NewGoogleSheetWithOptions(ctx context.Context, spreadsheetID, sheet string, opts ...option.ClientOption) (*GoogleSheet, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("spreadsheet id must not be empty")
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return &GoogleSheet{
		values:        svc.Spreadsheets.Values,
		spreadsheetID: spreadsheetID,
		sheet:         sheet,
	}, nil
}

// Name returns the worksheet name.
func (g *GoogleSheet) Name() string { return g.sheet }

// Header returns row 1.
func (g *GoogleSheet) Header(ctx context.Context) ([]string, error) {
	return g.Row(ctx, 1)
}

// Row returns the formatted values of row.
func (g *GoogleSheet) Row(ctx context.Context, row int) ([]string, error) {
	r := strconv.Itoa(row)
	vals, err := g.get(ctx, r+":"+r)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return vals[0], nil
}

// Find scans column col and returns data rows whose value contains value,
// case-insensitively. The values API has no server-side search, so this is
// the same linear scan a find-by-value client performs.
func (g *GoogleSheet) Find(ctx context.Context, col int, value string) ([]int, error) {
	needle := strings.ToLower(strings.TrimSpace(value))
	if needle == "" {
		return nil, nil
	}
	letter := columnLetter(col)
	vals, err := g.get(ctx, letter+":"+letter)
	if err != nil {
		return nil, err
	}
	var rows []int
	for i, v := range vals {
		row := i + 1
		if row == 1 || len(v) == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(v[0]), needle) {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Cell returns the formatted value at (row, col).
func (g *GoogleSheet) Cell(ctx context.Context, row, col int) (string, error) {
	vals, err := g.get(ctx, cellA1(row, col))
	if err != nil {
		return "", err
	}
	if len(vals) == 0 || len(vals[0]) == 0 {
		return "", nil
	}
	return vals[0][0], nil
}

// SetCell writes value verbatim (RAW input, no formula parsing).
func (g *GoogleSheet) SetCell(ctx context.Context, row, col int, value string) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err := g.values.Update(g.spreadsheetID, g.a1(cellA1(row, col)), vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return classifyGoogleErr(err)
}

func (g *GoogleSheet) a1(r string) string {
	return quoteSheet(g.sheet) + "!" + r
}

func (g *GoogleSheet) get(ctx context.Context, r string) ([][]string, error) {
	resp, err := g.values.Get(g.spreadsheetID, g.a1(r)).
		MajorDimension("ROWS").
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyGoogleErr(err)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		out[i] = cells
	}
	return out, nil
}

// classifyGoogleErr maps Sheets API failures onto the store taxonomy. A 400
// is what the API returns for a range it cannot parse, i.e. an unknown sheet
// name: that is a configuration problem, not an outage.
func classifyGoogleErr(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-access-bot/internal/domain"
)

// CellSheet is a Sheet driver that keeps one worksheet as rows of
// domain.Cell in a GORM database. It mirrors spreadsheet semantics closely
// enough to stand in for the hosted store in development and tests: Find
// matches substrings case-insensitively, Row trims trailing empty cells.
//
// All methods are context-aware and safe for concurrent use.
type CellSheet struct {
	db    *gorm.DB
	sheet string
}

// NewCellSheet returns a driver for the worksheet named sheet.
func NewCellSheet(db *gorm.DB, sheet string) *CellSheet {
	return &CellSheet{db: db, sheet: sheet}
}

// Name returns the worksheet name.
func (s *CellSheet) Name() string { return s.sheet }

// Header returns row 1.
func (s *CellSheet) Header(ctx context.Context) ([]string, error) {
	return s.Row(ctx, 1)
}

// Row returns the cells of row in column order. Gaps are filled with "" and
// trailing empty cells are dropped, like the hosted store does.
func (s *CellSheet) Row(ctx context.Context, row int) ([]string, error) {
	var cells []domain.Cell
	err := s.db.WithContext(ctx).
		Where("sheet = ? AND row_num = ?", s.sheet, row).
		Order("col_num asc").
		Find(&cells).Error
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, nil
	}
	out := make([]string, cells[len(cells)-1].Col)
	for _, c := range cells {
		if c.Col >= 1 {
			out[c.Col-1] = c.Value
		}
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out, nil
}

// Find returns data rows (> 1) whose cell in col contains value, compared
// case-insensitively, in ascending row order.
func (s *CellSheet) Find(ctx context.Context, col int, value string) ([]int, error) {
	needle := strings.TrimSpace(value)
	if needle == "" {
		return nil, nil
	}
	var rows []int
	err := s.db.WithContext(ctx).
		Model(&domain.Cell{}).
		Where("sheet = ? AND col_num = ? AND row_num > 1 AND LOWER(value) LIKE ? ESCAPE '\\'",
			s.sheet, col, "%"+escapeLike(strings.ToLower(needle))+"%").
		Order("row_num asc").
		Pluck("row_num", &rows).Error
	return rows, err
}

// Cell returns the value at (row, col), or "" when the cell is empty.
func (s *CellSheet) Cell(ctx context.Context, row, col int) (string, error) {
	var c domain.Cell
	err := s.db.WithContext(ctx).
		Where("sheet = ? AND row_num = ? AND col_num = ?", s.sheet, row, col).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// SetCell upserts the value at (row, col).
func (s *CellSheet) SetCell(ctx context.Context, row, col int, value string) error {
	c := &domain.Cell{
		Sheet:     s.sheet,
		Row:       row,
		Col:       col,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sheet"}, {Name: "row_num"}, {Name: "col_num"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(c).Error
}

// AppendRow writes values as a new row after the last non-empty row and
// returns its row number. It is used to seed the sheet; the issuance flow
// never creates rows.
func (s *CellSheet) AppendRow(ctx context.Context, values ...string) (int, error) {
	var next int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last struct{ Max *int }
		if err := tx.Model(&domain.Cell{}).
			Select("MAX(row_num) AS max").
			Where("sheet = ?", s.sheet).
			Scan(&last).Error; err != nil {
			return err
		}
		next = 1
		if last.Max != nil {
			next = *last.Max + 1
		}
		inner := &CellSheet{db: tx, sheet: s.sheet}
		for i, v := range values {
			if v == "" {
				continue
			}
			if err := inner.SetCell(ctx, next, i+1, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// escapeLike escapes LIKE wildcards so value is matched literally.
func escapeLike(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(v)
}

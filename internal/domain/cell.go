package domain

import "time"

// Cell is one cell of the SQLite-backed sheet driver. A sheet is the set of
// cells sharing the same Sheet name; row 1 holds the column headers. Rows
// and columns are 1-based to match spreadsheet addressing.
type Cell struct {
	ID        uint      `gorm:"primaryKey"`
	Sheet     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_sheet_row_col,priority:1;index:idx_sheet_col,priority:1"`
	Row       int       `gorm:"column:row_num;type:INTEGER NOT NULL;uniqueIndex:ux_sheet_row_col,priority:2"`
	Col       int       `gorm:"column:col_num;type:INTEGER NOT NULL;uniqueIndex:ux_sheet_row_col,priority:3;index:idx_sheet_col,priority:2"`
	Value     string    `gorm:"type:TEXT NOT NULL;default:''"`
	UpdatedAt time.Time `gorm:"type:DATETIME"`
}

// TableName implements the GORM tabler interface.
func (Cell) TableName() string { return "sheet_cells" }

package repo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tbourn/go-access-bot/internal/domain"
)

// MaxSampleRows bounds how many data rows the diagnostic sample may read.
const MaxSampleRows = 3

// Record is one sheet row keyed by header name. Every resolved column is
// present; missing trailing cells are "". Of several headers that differ
// only in case or spacing, only the leftmost appears, so a lookup always
// reads the column WriteCell targets.
type Record map[string]string

// Get returns the value of column, matching header names case-insensitively
// and ignoring surrounding whitespace.
func (r Record) Get(column string) string {
	if v, ok := r[strings.TrimSpace(column)]; ok {
		return v
	}
	want := NormalizeKey(column)
	for k, v := range r {
		if NormalizeKey(k) == want {
			return v
		}
	}
	return ""
}

// Identity projects the record onto the identity, credential and
// subscriber columns of sheet row row.
func (r Record) Identity(row int, identity, credential, subscriber string) domain.IdentityRecord {
	return domain.IdentityRecord{
		Row:        row,
		Identity:   NormalizeKey(r.Get(identity)),
		Credential: strings.TrimSpace(r.Get(credential)),
		Subscriber: strings.TrimSpace(r.Get(subscriber)),
	}
}

// schema is the resolved header row.
type schema struct {
	headers []string       // trimmed header names in column order
	index   map[string]int // normalized name → 1-based column
}

func (s *schema) col(name string) (int, bool) {
	c, ok := s.index[NormalizeKey(name)]
	return c, ok
}

// RecordStore adapts a Sheet driver to the logical operations the issuance
// engine needs. It owns column-name resolution and guards against the
// driver's over-matching search primitive.
//
// RecordStore does not serialize callers; the issuance engine holds the
// read-modify-write gate. The header cache is safe for concurrent use.
type RecordStore struct {
	sheet Sheet
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	cached   *schema
	cachedAt time.Time
}

// NewRecordStore wraps sheet. Resolved headers are reused for ttl; a ttl
// <= 0 re-reads the header on every operation.
func NewRecordStore(sheet Sheet, ttl time.Duration) *RecordStore {
	return &RecordStore{sheet: sheet, ttl: ttl, now: time.Now}
}

// SheetName returns the underlying worksheet name.
func (s *RecordStore) SheetName() string { return s.sheet.Name() }

// Invalidate drops the cached header row.
func (s *RecordStore) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// ResolveColumns returns header name → 1-based column index. It fails with
// ErrSchema when the header row is empty, and ErrStoreUnavailable when the
// driver cannot be reached.
func (s *RecordStore) ResolveColumns(ctx context.Context) (map[string]int, error) {
	sc, err := s.schema(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(sc.headers))
	for i, h := range sc.headers {
		if h == "" {
			continue
		}
		if _, dup := out[h]; !dup {
			out[h] = i + 1
		}
	}
	return out, nil
}

// Headers returns the header row in column order.
func (s *RecordStore) Headers(ctx context.Context) ([]string, error) {
	sc, err := s.schema(ctx)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), sc.headers...), nil
}

// FindRow returns the first data row whose column value equals value after
// trimming and case folding. Each candidate reported by the driver is
// re-read and compared exactly, since the driver's search may match
// substrings ("a@b.com" inside "xa@b.com").
func (s *RecordStore) FindRow(ctx context.Context, column, value string) (int, bool, error) {
	sc, err := s.schema(ctx)
	if err != nil {
		return 0, false, err
	}
	col, ok := sc.col(column)
	if !ok {
		s.Invalidate()
		return 0, false, fmt.Errorf("find: %w: column %q not in header", ErrSchema, column)
	}
	want := NormalizeKey(value)
	if want == "" {
		return 0, false, nil
	}

	candidates, err := s.sheet.Find(ctx, col, strings.TrimSpace(value))
	if err != nil {
		return 0, false, storeErr("find", err)
	}
	for _, row := range candidates {
		if row <= 1 {
			continue
		}
		got, err := s.sheet.Cell(ctx, row, col)
		if err != nil {
			return 0, false, storeErr("find: confirm", err)
		}
		if NormalizeKey(got) == want {
			return row, true, nil
		}
	}
	return 0, false, nil
}

// ReadRow returns row keyed by header name, padding missing trailing cells
// with "" so every resolved column has a value.
func (s *RecordStore) ReadRow(ctx context.Context, row int) (Record, error) {
	sc, err := s.schema(ctx)
	if err != nil {
		return nil, err
	}
	cells, err := s.sheet.Row(ctx, row)
	if err != nil {
		return nil, storeErr("read row", err)
	}
	return sc.record(cells), nil
}

// WriteCell sets column of row to value. A column missing from the header
// is treated as optional and the write is skipped without error.
func (s *RecordStore) WriteCell(ctx context.Context, row int, column, value string) error {
	sc, err := s.schema(ctx)
	if err != nil {
		return err
	}
	col, ok := sc.col(column)
	if !ok {
		return nil
	}
	if err := s.sheet.SetCell(ctx, row, col, value); err != nil {
		return storeErr("write cell", err)
	}
	return nil
}

// HasColumn reports whether column is present in the header row.
func (s *RecordStore) HasColumn(ctx context.Context, column string) (bool, error) {
	sc, err := s.schema(ctx)
	if err != nil {
		return false, err
	}
	_, ok := sc.col(column)
	return ok, nil
}

// Sample returns up to n (capped at MaxSampleRows) data rows from the top of
// the sheet, stopping at the first blank row.
func (s *RecordStore) Sample(ctx context.Context, n int) ([]Record, error) {
	if n > MaxSampleRows {
		n = MaxSampleRows
	}
	if n <= 0 {
		return nil, nil
	}
	sc, err := s.schema(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, n)
	for row := 2; row < 2+n; row++ {
		cells, err := s.sheet.Row(ctx, row)
		if err != nil {
			return nil, storeErr("sample", err)
		}
		if isBlank(cells) {
			break
		}
		out = append(out, sc.record(cells))
	}
	return out, nil
}

func (s *RecordStore) schema(ctx context.Context) (*schema, error) {
	s.mu.Lock()
	if s.cached != nil && s.ttl > 0 && s.now().Sub(s.cachedAt) < s.ttl {
		sc := s.cached
		s.mu.Unlock()
		return sc, nil
	}
	s.mu.Unlock()

	raw, err := s.sheet.Header(ctx)
	if err != nil {
		s.Invalidate()
		return nil, storeErr("resolve columns", err)
	}
	if isBlank(raw) {
		s.Invalidate()
		return nil, fmt.Errorf("resolve columns: %w: header row of %q is empty", ErrSchema, s.sheet.Name())
	}

	sc := &schema{
		headers: make([]string, len(raw)),
		index:   make(map[string]int, len(raw)),
	}
	for i, h := range raw {
		h = strings.TrimSpace(h)
		sc.headers[i] = h
		if h == "" {
			continue
		}
		key := NormalizeKey(h)
		if _, dup := sc.index[key]; !dup {
			sc.index[key] = i + 1
		}
	}

	s.mu.Lock()
	s.cached = sc
	s.cachedAt = s.now()
	s.mu.Unlock()
	return sc, nil
}

// record keys cells by header name. Only the column each normalized name
// resolves to is kept.
func (sc *schema) record(cells []string) Record {
	rec := make(Record, len(sc.index))
	for i, h := range sc.headers {
		if h == "" {
			continue
		}
		if c, _ := sc.col(h); c != i+1 {
			continue
		}
		v := ""
		if i < len(cells) {
			v = cells[i]
		}
		rec[h] = v
	}
	return rec
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

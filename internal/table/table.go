// Package table reads and writes header-first CSV files as in-memory tables.
package table

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

type Table struct {
	Header []string
	Rows   [][]string
}

func New(header ...string) *Table {
	return &Table{Header: append([]string(nil), header...)}
}

func (t *Table) Len() int { return len(t.Rows) }

// Col returns the index of the named column, or -1.
func (t *Table) Col(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

func (t *Table) Get(row int, col string) string {
	i := t.Col(col)
	if i < 0 || i >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][i]
}

// Set writes a cell and reports whether the column exists.
func (t *Table) Set(row int, col, value string) bool {
	i := t.Col(col)
	if i < 0 {
		return false
	}
	for len(t.Rows[row]) <= i {
		t.Rows[row] = append(t.Rows[row], "")
	}
	t.Rows[row][i] = value
	return true
}

// Record returns row as a column-name map.
func (t *Table) Record(row int) map[string]string {
	m := make(map[string]string, len(t.Header))
	for i, h := range t.Header {
		if i < len(t.Rows[row]) {
			m[h] = t.Rows[row][i]
		} else {
			m[h] = ""
		}
	}
	return m
}

// AppendRecord appends a row built from values by column name. Values for
// columns not in the header are dropped.
func (t *Table) AppendRecord(values map[string]string) {
	row := make([]string, len(t.Header))
	for i, h := range t.Header {
		row[i] = values[h]
	}
	t.Rows = append(t.Rows, row)
}

// EnsureColumns appends any missing columns to the header.
func (t *Table) EnsureColumns(cols ...string) {
	for _, c := range cols {
		if t.Col(c) < 0 {
			t.Header = append(t.Header, c)
		}
	}
	for i := range t.Rows {
		for len(t.Rows[i]) < len(t.Header) {
			t.Rows[i] = append(t.Rows[i], "")
		}
	}
}

func (t *Table) Clone() *Table {
	c := &Table{Header: append([]string(nil), t.Header...), Rows: make([][]string, len(t.Rows))}
	for i, r := range t.Rows {
		c.Rows[i] = append([]string(nil), r...)
	}
	return c
}

// Parse decodes CSV content. Line endings and a leading BOM are normalized
// first and short rows are padded. Cells beyond the header are kept under
// added overflow_N columns so a rewrite does not lose them.
func Parse(data []byte) (*Table, error) {
	data = Normalize(data)
	if len(data) == 0 {
		return &Table{}, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}

	t := &Table{Header: make([]string, len(records[0]))}
	for i, h := range records[0] {
		t.Header[i] = strings.TrimSpace(h)
	}
	var wide []int
	width := len(t.Header)
	for i, rec := range records[1:] {
		if len(rec) > len(t.Header) {
			wide = append(wide, i+2)
			width = max(width, len(rec))
		}
	}
	if len(wide) > 0 {
		slog.Warn("csv rows wider than header, keeping extra cells", "records", wide, "columns", len(t.Header), "widest", width)
		for n := 1; len(t.Header) < width; n++ {
			t.Header = append(t.Header, "overflow_"+strconv.Itoa(n))
		}
	}

	for _, rec := range records[1:] {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		row := make([]string, len(t.Header))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Encode renders the table as CSV with LF line endings.
func (t *Table) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return nil, err
	}
	for _, r := range t.Rows {
		row := r
		if len(row) != len(t.Header) {
			row = make([]string, len(t.Header))
			copy(row, r)
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// Normalize strips a UTF-8 BOM, converts CRLF and CR to LF and trims
// surrounding whitespace. Two replicas holding the same rows normalize to
// the same bytes.
func Normalize(data []byte) []byte {
	data = bytes.TrimPrefix(data, bom)
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	data = bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
	return bytes.TrimSpace(data)
}

// Hash returns the hex SHA-256 of the normalized content.
func Hash(data []byte) string {
	sum := sha256.Sum256(Normalize(data))
	return hex.EncodeToString(sum[:])
}

// ParseInt reads an integer identifier, accepting float renderings such as
// "12.0" written by spreadsheet tools.
func ParseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int64(f), nil
}

func FormatInt(n int64) string { return strconv.FormatInt(n, 10) }

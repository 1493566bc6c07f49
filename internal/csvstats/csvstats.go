// Package csvstats parses uploaded CSV files into typed records and column
// statistics for the dashboard's upload and analyze endpoints.
package csvstats

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrNotCSV       = errors.New("csvstats: file must be a CSV")
	ErrInvalidInput = errors.New("csvstats: invalid input")
)

const PreviewRows = 100

const (
	DtypeInt    = "int64"
	DtypeFloat  = "float64"
	DtypeBool   = "bool"
	DtypeObject = "object"
)

type Options struct {
	SkipRows  int
	Delimiter string
}

// Table is a parsed CSV with one inferred type per column. Values are
// int64, float64, bool, string or nil for empty cells.
type Table struct {
	Columns []string
	Dtypes  []string
	Rows    [][]any
}

// CheckFilename rejects anything that does not end in .csv.
func CheckFilename(name string) error {
	if !strings.HasSuffix(strings.ToLower(name), ".csv") {
		return ErrNotCSV
	}
	return nil
}

func delimiter(d string) (rune, error) {
	if d == "" {
		return ',', nil
	}
	r, size := utf8.DecodeRuneInString(d)
	if size != len(d) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("%w: delimiter must be a single character, got %q", ErrInvalidInput, d)
	}
	return r, nil
}

// Parse reads data after skipping opts.SkipRows lines. The next line is the
// header. Short rows are padded with empty cells.
func Parse(data []byte, opts Options) (Table, error) {
	if opts.SkipRows < 0 {
		return Table{}, fmt.Errorf("%w: skip_rows must be >= 0", ErrInvalidInput)
	}
	comma, err := delimiter(opts.Delimiter)
	if err != nil {
		return Table{}, err
	}
	if !utf8.Valid(data) {
		return Table{}, fmt.Errorf("%w: file is not valid UTF-8", ErrInvalidInput)
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	body := data
	for i := 0; i < opts.SkipRows && len(body) > 0; i++ {
		idx := bytes.IndexByte(body, '\n')
		if idx < 0 {
			body = nil
			break
		}
		body = body[idx+1:]
	}

	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, fmt.Errorf("%w: no columns to parse from file", ErrInvalidInput)
	}
	if err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	columns := dedupe(header)

	var raw [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if len(rec) > len(columns) {
			return Table{}, fmt.Errorf("%w: expected %d fields in line %d, saw %d", ErrInvalidInput, len(columns), len(raw)+2+opts.SkipRows, len(rec))
		}
		for len(rec) < len(columns) {
			rec = append(rec, "")
		}
		raw = append(raw, rec)
	}

	t := Table{Columns: columns, Dtypes: make([]string, len(columns)), Rows: make([][]any, len(raw))}
	for i := range raw {
		t.Rows[i] = make([]any, len(columns))
	}
	for c := range columns {
		cells := make([]string, len(raw))
		for i, rec := range raw {
			cells[i] = rec[c]
		}
		dtype, values := inferColumn(cells)
		t.Dtypes[c] = dtype
		for i, v := range values {
			t.Rows[i][c] = v
		}
	}
	return t, nil
}

// dedupe renames repeated header names to name.1, name.2 and so on.
func dedupe(header []string) []string {
	used := make(map[string]bool, len(header))
	counts := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		name := h
		for used[name] {
			counts[h]++
			name = fmt.Sprintf("%s.%d", h, counts[h])
		}
		used[name] = true
		out[i] = name
	}
	return out
}

func isNull(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "NA", "N/A", "NaN", "nan", "null", "NULL", "None":
		return true
	}
	return false
}

// inferColumn picks the narrowest type every non-null cell fits. Integer
// columns with nulls widen to float64; all-null columns are float64.
func inferColumn(cells []string) (string, []any) {
	ints, floats, bools := true, true, true
	nulls := 0
	for _, c := range cells {
		if isNull(c) {
			nulls++
			continue
		}
		s := strings.TrimSpace(c)
		if ints {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				ints = false
			}
		}
		if floats {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				floats = false
			}
		}
		if bools {
			if _, ok := parseBool(s); !ok {
				bools = false
			}
		}
	}

	dtype := DtypeObject
	switch {
	case nulls == len(cells):
		dtype = DtypeFloat
	case ints && nulls == 0:
		dtype = DtypeInt
	case ints || floats:
		dtype = DtypeFloat
	case bools && nulls == 0:
		dtype = DtypeBool
	}

	values := make([]any, len(cells))
	for i, c := range cells {
		if isNull(c) {
			continue
		}
		s := strings.TrimSpace(c)
		switch dtype {
		case DtypeInt:
			values[i], _ = strconv.ParseInt(s, 10, 64)
		case DtypeFloat:
			values[i], _ = strconv.ParseFloat(s, 64)
		case DtypeBool:
			values[i], _ = parseBool(s)
		default:
			values[i] = c
		}
	}
	return dtype, values
}

func parseBool(s string) (bool, bool) {
	switch s {
	case "True", "true", "TRUE":
		return true, true
	case "False", "false", "FALSE":
		return false, true
	}
	return false, false
}

// Records converts rows into column-keyed maps.
func (t Table) Records(limit int) []map[string]any {
	n := len(t.Rows)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		rec := make(map[string]any, len(t.Columns))
		for c, name := range t.Columns {
			rec[name] = t.Rows[i][c]
		}
		out[i] = rec
	}
	return out
}

// S3Key builds <folder>/<base>_<YYYYmmdd_HHMMSS>.csv for an uploaded file.
func S3Key(folder, filename string, now time.Time) (key, stamp string) {
	stamp = now.Format("20060102_150405")
	base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	folder = strings.Trim(folder, "/")
	key = fmt.Sprintf("%s_%s.csv", base, stamp)
	if folder != "" {
		key = folder + "/" + key
	}
	return key, stamp
}

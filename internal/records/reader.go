// Package records parses delimited text streams into row maps keyed by
// sanitized column names.
package records

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// SDCExtraColumn collects row values beyond the declared header count.
const SDCExtraColumn = "_sdc_extra"

// Row maps column names to values. Regular columns hold strings; the
// overflow bucket under SDCExtraColumn holds a []string.
type Row map[string]any

// Options configures a Reader for one file.
type Options struct {
	FileName        string
	Encoding        string
	Delimiter       rune
	SanitizeHeaders bool
	KeyProperties   []string
	DateOverrides   []string
}

// MissingColumnsError reports configured columns absent from a file
// header. It is raised before any row is read.
type MissingColumnsError struct {
	Kind    string
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("CSV file missing %s headers: %s", e.Kind, strings.Join(e.Columns, ", "))
}

var (
	nonIdentRuns  = regexp.MustCompile(`[^0-9a-zA-Z_]+`)
	leadingDigits = regexp.MustCompile(`^(\d+)`)
)

// SanitizeColumnName rewrites a header cell into a safe identifier:
// runs of characters outside [0-9a-zA-Z_] collapse to one underscore,
// a leading digit run gains an "x_" prefix, and the result is
// lowercased. Sanitizing an already sanitized name is a no-op.
func SanitizeColumnName(name string) string {
	sanitized := nonIdentRuns.ReplaceAllString(name, "_")
	sanitized = leadingDigits.ReplaceAllString(sanitized, "x_$1")
	return strings.ToLower(sanitized)
}

// Reader yields one Row per data line of a delimited file. It is
// forward-only; re-reading a file takes a fresh Reader over a fresh
// stream.
type Reader struct {
	csv    *csv.Reader
	header []string
}

// NewReader wraps r with the configured text encoding, reads the
// header, and validates KeyProperties and DateOverrides against it
// before any row can be read.
func NewReader(r io.Reader, opts Options) (*Reader, error) {
	decoded, err := decodeStream(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header row of %s: %w", opts.FileName, err)
	}

	if opts.SanitizeHeaders {
		for i, col := range header {
			header[i] = SanitizeColumnName(col)
		}
	}

	if missing := missingFrom(header, opts.KeyProperties); len(missing) > 0 {
		return nil, &MissingColumnsError{Kind: "required", Columns: missing}
	}
	if missing := missingFrom(header, opts.DateOverrides); len(missing) > 0 {
		return nil, &MissingColumnsError{Kind: "date_overrides", Columns: missing}
	}

	return &Reader{csv: cr, header: header}, nil
}

// Header returns the column names in file order, after sanitization.
func (r *Reader) Header() []string {
	return r.header
}

// Read returns the next row, or io.EOF once the file is exhausted.
// Rows longer than the header keep their extra fields under
// SDCExtraColumn; shorter rows fill the missing columns with empty
// strings.
func (r *Reader) Read() (Row, error) {
	fields, err := r.csv.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	row := make(Row, len(r.header)+1)
	for i, col := range r.header {
		if i < len(fields) {
			row[col] = fields[i]
		} else {
			row[col] = ""
		}
	}
	if len(fields) > len(r.header) {
		extra := make([]string, len(fields)-len(r.header))
		copy(extra, fields[len(r.header):])
		row[SDCExtraColumn] = extra
	}
	return row, nil
}

func missingFrom(header, wanted []string) []string {
	have := make(map[string]bool, len(header))
	for _, col := range header {
		have[col] = true
	}
	var missing []string
	for _, col := range wanted {
		if !have[col] {
			missing = append(missing, col)
		}
	}
	sort.Strings(missing)
	return missing
}

func decodeStream(r io.Reader, name string) (io.Reader, error) {
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return r, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

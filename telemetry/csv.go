package telemetry

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// CSVWriter writes aligned rows as delimited text.
type CSVWriter struct {
	w   *csv.Writer
	rec []string
}

// NewCSVWriter writes to w using sep as the field delimiter.
func NewCSVWriter(w io.Writer, sep rune) *CSVWriter {
	cw := csv.NewWriter(w)
	cw.Comma = sep
	return &CSVWriter{w: cw}
}

// ParseSep validates a one character field delimiter.
func ParseSep(sep string) (rune, error) {
	if sep == "" {
		return ',', nil
	}
	if utf8.RuneCountInString(sep) != 1 {
		return 0, fmt.Errorf("separator %q must be a single character", sep)
	}
	r, _ := utf8.DecodeRuneInString(sep)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("invalid separator %q", sep)
	}
	return r, nil
}

func (cw *CSVWriter) WriteHeader(columns []string) error {
	return cw.w.Write(columns)
}

func (cw *CSVWriter) WriteRow(r Row) error {
	cw.rec = append(cw.rec[:0], FormatTimestamp(r.Timestamp))
	for _, v := range r.Values {
		cw.rec = append(cw.rec, FormatValue(v))
	}
	return cw.w.Write(cw.rec)
}

// Flush writes buffered rows and reports any write error.
func (cw *CSVWriter) Flush() error {
	cw.w.Flush()
	return cw.w.Error()
}

// FormatTimestamp renders Unix seconds with eight decimals.
func FormatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', 8, 64)
}

// FormatValue renders a field value. Floats use the shortest representation that reads
// back to the same value, exponent form below 1e-4 and from 1e16, a trailing .0 for whole
// numbers and nan/inf/-inf for the special values.
func FormatValue(v any) string {
	switch v := v.(type) {
	case float64:
		return formatFloat(v, 64)
	case float32:
		return formatFloat(float64(v), 32)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	e := strconv.FormatFloat(f, 'e', -1, bitSize)
	exp, _ := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
	if f != 0 && (exp < -4 || exp >= 16) {
		return e
	}
	s := strconv.FormatFloat(f, 'f', -1, bitSize)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

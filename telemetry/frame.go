package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"time"
	_ "time/tzdata"
)

// DefaultTimezone is where the logs this tool was written for were recorded.
const DefaultTimezone = "Australia/Melbourne"

// Frame is an in-memory table indexed by time.
type Frame struct {
	index   []time.Time
	columns []string
	byName  map[string]int
	data    [][]any
}

// NewFrame returns an empty frame with the given value columns.
func NewFrame(columns []string) *Frame {
	f := &Frame{
		columns: append([]string(nil), columns...),
		byName:  make(map[string]int, len(columns)),
		data:    make([][]any, len(columns)),
	}
	for i, c := range columns {
		f.byName[c] = i
	}
	return f
}

// Append adds a row. values must have one entry per column.
func (f *Frame) Append(t time.Time, values []any) error {
	if len(values) != len(f.columns) {
		return fmt.Errorf("row has %d values, frame has %d columns", len(values), len(f.columns))
	}
	f.index = append(f.index, t)
	for i, v := range values {
		f.data[i] = append(f.data[i], v)
	}
	return nil
}

func (f *Frame) Len() int { return len(f.index) }

func (f *Frame) Columns() []string { return append([]string(nil), f.columns...) }

// Index returns the row times.
func (f *Frame) Index() []time.Time { return f.index }

// Column returns the values of one column.
func (f *Frame) Column(name string) ([]any, bool) {
	i, ok := f.byName[name]
	if !ok {
		return nil, false
	}
	return f.data[i], true
}

// Floats returns a column as float64. Values that are not numbers become NaN.
func (f *Frame) Floats(name string) ([]float64, bool) {
	col, ok := f.Column(name)
	if !ok {
		return nil, false
	}
	out := make([]float64, len(col))
	for i, v := range col {
		if x, ok := toFloat(v); ok {
			out[i] = x
		} else {
			out[i] = math.NaN()
		}
	}
	return out, true
}

// Row returns the values of row i.
func (f *Frame) Row(i int) []any {
	out := make([]any, len(f.data))
	for c := range f.data {
		out[c] = f.data[c][i]
	}
	return out
}

// In returns the frame with its index converted to loc. Column data is shared.
func (f *Frame) In(loc *time.Location) *Frame {
	out := *f
	out.index = make([]time.Time, len(f.index))
	for i, t := range f.index {
		out.index[i] = t.In(loc)
	}
	return &out
}

// Concat appends the rows of other, which must have the same columns.
func (f *Frame) Concat(other *Frame) error {
	if len(other.columns) != len(f.columns) {
		return fmt.Errorf("column mismatch: %d != %d", len(other.columns), len(f.columns))
	}
	for i, c := range other.columns {
		if f.columns[i] != c {
			return fmt.Errorf("column mismatch at %d: %s != %s", i, c, f.columns[i])
		}
	}
	f.index = append(f.index, other.index...)
	for i := range f.data {
		f.data[i] = append(f.data[i], other.data[i]...)
	}
	return nil
}

// EpochTime converts Unix seconds to a UTC time, rounded to the nanosecond.
func EpochTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}

// CSVOptions control ReadCSV.
type CSVOptions struct {
	// Timestamp names the column of UTC epoch seconds. Default "timestamp".
	Timestamp string
	// Timezone is the IANA zone for the index. Default DefaultTimezone.
	Timezone string
	// Columns limits the value columns loaded. Empty loads all of them.
	Columns []string
	Sep     string
}

// ReadCSV loads an exported CSV into a frame indexed by the timestamp column, converted
// from UTC to the requested timezone. Numeric cells load as float64, empty cells as NaN
// and anything else as a string.
func ReadCSV(file string, opts CSVOptions) (*Frame, error) {
	if opts.Timestamp == "" {
		opts.Timestamp = "timestamp"
	}
	if opts.Timezone == "" {
		opts.Timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", opts.Timezone, err)
	}
	sep, err := ParseSep(opts.Sep)
	if err != nil {
		return nil, err
	}

	in, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	r := csv.NewReader(in)
	r.Comma = sep
	r.ReuseRecord = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: empty file", file)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	tsCol := -1
	var keep []int
	var names []string
	for i, name := range header {
		if name == opts.Timestamp {
			tsCol = i
		}
	}
	if tsCol < 0 {
		return nil, fmt.Errorf("%s: no %q column", file, opts.Timestamp)
	}
	want := make(map[string]bool, len(opts.Columns))
	for _, c := range opts.Columns {
		want[c] = true
	}
	for i, name := range header {
		if i == tsCol || (len(want) > 0 && !want[name]) {
			continue
		}
		keep = append(keep, i)
		names = append(names, name)
		delete(want, name)
	}
	delete(want, opts.Timestamp)
	if len(want) > 0 {
		return nil, fmt.Errorf("%s: columns not found: %v", file, sortedKeys(want))
	}

	frame := NewFrame(names)
	values := make([]any, len(keep))
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		sec, err := strconv.ParseFloat(rec[tsCol], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad timestamp %q", file, line, rec[tsCol])
		}
		for i, c := range keep {
			values[i] = parseCell(rec[c])
		}
		if err := frame.Append(EpochTime(sec).In(loc), values); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseCell(s string) any {
	if s == "" {
		return math.NaN()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

package fileparser

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

/*
A DataFlash log is self describing: every record type used in the file is announced by an
FMT record carrying the type number, the record length, a four character name, a format
string with one character per column and the comma separated column names. Format holds
one such definition and knows how to unpack a record body laid out by it.
*/

const (
	HEAD1       = 0xA3
	HEAD2       = 0x95
	FmtType     = 128
	FmtName     = "FMT"
	FmtLength   = 89
	FmtFormat   = "BBnNZ"
	FmtColumns  = "Type,Length,Name,Format,Columns"
	HeaderLen   = 3
	ArrayLength = 32
)

// formatSizes maps a format character to its encoded size in bytes.
var formatSizes = map[byte]int{
	'a': 2 * ArrayLength,
	'b': 1,
	'B': 1,
	'c': 2,
	'C': 2,
	'd': 8,
	'e': 4,
	'E': 4,
	'f': 4,
	'h': 2,
	'H': 2,
	'i': 4,
	'I': 4,
	'L': 4,
	'M': 1,
	'n': 4,
	'N': 16,
	'q': 8,
	'Q': 8,
	'Z': 64,
}

// formatMultipliers holds the scale applied to fixed point columns.
var formatMultipliers = map[byte]float64{
	'c': 0.01,
	'C': 0.01,
	'e': 0.01,
	'E': 0.01,
	'L': 1.0e-7,
}

// Format represents one FMT definition.
type Format struct {
	Type       int
	Name       string
	Len        int
	Format     string
	Columns    []string
	ColumnHash map[string]int

	offsets []int
	leaves  []string
}

// NewFormat validates a definition and precomputes the column offsets.
func NewFormat(typ int, name string, length int, format string, columns []string) (*Format, error) {
	f := &Format{
		Type:       typ,
		Name:       nullTerm(name),
		Len:        length,
		Format:     nullTerm(format),
		Columns:    columns,
		ColumnHash: make(map[string]int, len(columns)),
	}
	if len(f.Columns) != len(f.Format) {
		return nil, fmt.Errorf("format %s: %d columns for format %q", f.Name, len(f.Columns), f.Format)
	}

	size := 0
	for i := 0; i < len(f.Format); i++ {
		c := f.Format[i]
		n, ok := formatSizes[c]
		if !ok {
			return nil, fmt.Errorf("format %s: unsupported format char '%c'", f.Name, c)
		}
		f.offsets = append(f.offsets, size)
		size += n
	}
	if size+HeaderLen > length {
		return nil, fmt.Errorf("format %s: body of %d bytes does not fit record length %d", f.Name, size, length)
	}

	for i, column := range f.Columns {
		f.ColumnHash[column] = i
		if f.Format[i] == 'a' {
			for j := 0; j < ArrayLength; j++ {
				f.leaves = append(f.leaves, column+"["+strconv.Itoa(j)+"]")
			}
			continue
		}
		f.leaves = append(f.leaves, column)
	}
	return f, nil
}

// fmtFormat is the bootstrap definition every log starts from.
func fmtFormat() *Format {
	f, err := NewFormat(FmtType, FmtName, FmtLength, FmtFormat, splitColumns(FmtColumns))
	if err != nil {
		panic(err)
	}
	return f
}

// Leaves returns the flat field names of the format, with array columns expanded.
func (f *Format) Leaves() []string {
	return f.leaves
}

// BodyLen is the record length without the three byte header.
func (f *Format) BodyLen() int {
	return f.Len - HeaderLen
}

// Unpack decodes one record body into one element per column.
func (f *Format) Unpack(body []byte) ([]any, error) {
	if len(body) < f.BodyLen() {
		return nil, fmt.Errorf("insufficient data for message type %d (%s): %d < %d", f.Type, f.Name, len(body), f.BodyLen())
	}

	elements := make([]any, len(f.Format))
	le := binary.LittleEndian
	for i := 0; i < len(f.Format); i++ {
		c := f.Format[i]
		b := body[f.offsets[i] : f.offsets[i]+formatSizes[c]]

		var v any
		switch c {
		case 'a':
			arr := make([]int16, ArrayLength)
			for j := range arr {
				arr[j] = int16(le.Uint16(b[2*j:]))
			}
			v = arr
		case 'b':
			v = int64(int8(b[0]))
		case 'B', 'M':
			v = int64(b[0])
		case 'h':
			v = int64(int16(le.Uint16(b)))
		case 'H':
			v = int64(le.Uint16(b))
		case 'i':
			v = int64(int32(le.Uint32(b)))
		case 'I':
			v = int64(le.Uint32(b))
		case 'q':
			v = int64(le.Uint64(b))
		case 'Q':
			v = le.Uint64(b)
		case 'f':
			v = math.Float32frombits(le.Uint32(b))
		case 'd':
			v = math.Float64frombits(le.Uint64(b))
		case 'c':
			v = float64(int16(le.Uint16(b))) * formatMultipliers[c]
		case 'C':
			v = float64(le.Uint16(b)) * formatMultipliers[c]
		case 'e', 'L':
			v = float64(int32(le.Uint32(b))) * formatMultipliers[c]
		case 'E':
			v = float64(le.Uint32(b)) * formatMultipliers[c]
		case 'n', 'N', 'Z':
			v = nullTerm(string(b))
		}
		elements[i] = v
	}
	return elements, nil
}

// truncates a string at the first null character
func nullTerm(s string) string {
	if idx := strings.IndexByte(s, 0); idx != -1 {
		return s[:idx]
	}
	return s
}

func splitColumns(s string) []string {
	s = nullTerm(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

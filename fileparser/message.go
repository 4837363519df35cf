package fileparser

import (
	"strconv"
	"strings"
)

// Message is one decoded DataFlash record.
type Message struct {
	Format    *Format
	Elements  []any
	timestamp float64
}

func (m *Message) Type() string {
	return m.Format.Name
}

// Timestamp is the record time in seconds since the Unix epoch, as assigned by the
// reader's clock. Logs without a GPS fix are on a zero time base (seconds since boot).
func (m *Message) Timestamp() float64 {
	return m.timestamp
}

// Fields returns the flat field names of the record.
func (m *Message) Fields() []string {
	return m.Format.Leaves()
}

// Get retrieves a field. Elements of array columns are addressed as "Name[i]".
func (m *Message) Get(field string) (any, bool) {
	if i, ok := m.Format.ColumnHash[field]; ok {
		return m.Elements[i], true
	}

	open := strings.IndexByte(field, '[')
	if open <= 0 || !strings.HasSuffix(field, "]") {
		return nil, false
	}
	i, ok := m.Format.ColumnHash[field[:open]]
	if !ok {
		return nil, false
	}
	arr, ok := m.Elements[i].([]int16)
	if !ok {
		return nil, false
	}
	j, err := strconv.Atoi(field[open+1 : len(field)-1])
	if err != nil || j < 0 || j >= len(arr) {
		return nil, false
	}
	return int64(arr[j]), true
}

// Int returns an integer field, converting float columns by truncation.
func (m *Message) Int(field string) (int64, bool) {
	v, ok := m.Get(field)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	}
	return 0, false
}

// Float returns a numeric field as float64.
func (m *Message) Float(field string) (float64, bool) {
	v, ok := m.Get(field)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// ToMap returns the record as a map of column name to value.
func (m *Message) ToMap() map[string]any {
	dataMap := make(map[string]any, len(m.Elements)+1)
	dataMap["mavpackettype"] = m.Format.Name
	for i, column := range m.Format.Columns {
		dataMap[column] = m.Elements[i]
	}
	return dataMap
}

// firstColumn is used by the clocks to decide which time field a record carries.
func (m *Message) firstColumn() string {
	if len(m.Format.Columns) == 0 {
		return ""
	}
	return m.Format.Columns[0]
}

// text returns the "Message" column of MSG records.
func (m *Message) text() string {
	v, _ := m.Get("Message")
	s, _ := v.(string)
	return s
}

// mode returns the flight mode number of MODE records, or -1.
func (m *Message) mode() int {
	if n, ok := m.Int("Mode"); ok {
		return int(n)
	}
	if n, ok := m.Int("ModeNum"); ok {
		return int(n)
	}
	return -1
}

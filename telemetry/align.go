package telemetry

import "math"

// Row is one aligned output row. Values line up with Layout.Columns()[1:].
type Row struct {
	Timestamp float64
	Values    []any
}

// Aligner folds messages into sample-and-hold rows. Every column holds the latest value
// seen for it, NaN until the first one arrives. A row is emitted for a timestamp once a
// message with a different timestamp shows up, so all messages sharing a timestamp land
// in the same row.
type Aligner struct {
	layout  *Layout
	values  []any
	last    float64
	started bool
}

// NewAligner returns an Aligner producing rows for layout.
func NewAligner(layout *Layout) *Aligner {
	values := make([]any, layout.Width()-1)
	for i := range values {
		values[i] = math.NaN()
	}
	return &Aligner{layout: layout, values: values}
}

// Add applies m, first emitting the pending row if m starts a new timestamp. Messages of
// types outside the layout are ignored.
func (a *Aligner) Add(m Message, emit func(Row) error) error {
	tc, ok := a.layout.types[m.Type()]
	if !ok {
		return nil
	}
	ts := m.Timestamp()
	if a.started && ts != a.last {
		if err := emit(a.row()); err != nil {
			return err
		}
	}
	for i, f := range tc.fields {
		v, ok := m.Get(f)
		if !ok {
			v = math.NaN()
		}
		a.values[tc.offset-1+i] = v
	}
	a.last = ts
	a.started = true
	return nil
}

// Flush emits the row of the last timestamp. It returns ErrNoMessages if no message was
// added.
func (a *Aligner) Flush(emit func(Row) error) error {
	if !a.started {
		return ErrNoMessages
	}
	return emit(a.row())
}

func (a *Aligner) row() Row {
	return Row{Timestamp: a.last, Values: append([]any(nil), a.values...)}
}

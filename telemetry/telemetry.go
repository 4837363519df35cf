// Package telemetry converts flight logs into time aligned tables.
//
// A log is opened as a Source of messages. A FieldSet selects the TYPE.field columns to
// keep, the Aligner folds messages into sample-and-hold rows, and the rows are written
// as CSV or collected into a Frame. ReadCSV loads an exported CSV back into a Frame
// indexed in a chosen timezone.
package telemetry

import (
	"errors"
	"sort"
)

var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrUnknownField = errors.New("unknown message field")
	ErrNoMessages   = errors.New("no desired messages found")
	ErrTooFewPoints = errors.New("too few positions for a track")
)

// Message is one decoded log record.
type Message interface {
	// Type is the message name, e.g. VFR_HUD or ATT.
	Type() string
	// Timestamp is in Unix seconds, UTC.
	Timestamp() float64
	// Fields lists the flat field names of the message.
	Fields() []string
	// Get returns one flat field as int64, uint64, float32, float64, string or bool.
	Get(field string) (any, bool)
}

// Source yields the messages of one log in file order.
type Source interface {
	// Next returns io.EOF after the last message.
	Next() (Message, error)
	Schema() Schema
	Path() string
	Close() error
}

// Schema maps every message type a log can contain to its flat field names.
type Schema map[string][]string

// Types returns the message types in sorted order.
func (s Schema) Types() []string {
	types := make([]string, 0, len(s))
	for t := range s {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

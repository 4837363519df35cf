package telemetry

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"
	"gopkg.in/yaml.v3"
)

// FieldEntry selects fields of the message types matching Type. Type may use shell
// wildcards: *, ?, [seq] and [!seq]. A nil Fields selects every field of the type.
type FieldEntry struct {
	Type   string
	Fields []string
}

// FieldSet is an ordered field allowlist. Column order follows entry order.
type FieldSet []FieldEntry

// DefaultFields returns the allowlist used when none is given.
func DefaultFields() FieldSet {
	return FieldSet{
		{Type: "VFR_HUD", Fields: []string{"heading", "alt", "climb"}},
		{Type: "VIBRATION", Fields: []string{"vibration_x", "vibration_y", "vibration_z"}},
		{Type: "SCALED_IMU2", Fields: []string{"xacc", "xgyro", "yacc", "ygyro", "zacc", "zgyro"}},
		{Type: "ATTITUDE", Fields: []string{"roll", "rollspeed", "pitch", "pitchspeed", "yaw", "yawspeed"}},
		{Type: "SCALED_PRESSURE2", Fields: []string{"temperature"}},
	}
}

// AllFields selects every field of every type in the schema.
func AllFields() FieldSet {
	return FieldSet{{Type: "*"}}
}

// Types returns the type patterns in order.
func (fs FieldSet) Types() []string {
	types := make([]string, len(fs))
	for i, e := range fs {
		types[i] = e.Type
	}
	return types
}

// LoadFieldSet reads an allowlist file: a JSON or YAML mapping of type to a list of field
// names, or null for all fields. Key order is kept.
func LoadFieldSet(file string) (FieldSet, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var fs FieldSet
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		fs, err = ParseYAMLFields(data)
	default:
		fs, err = ParseJSONFields(data)
	}
	if err != nil {
		return nil, fmt.Errorf("fields file %s: %w", file, err)
	}
	return fs, nil
}

// ParseJSONFields parses a JSON allowlist such as {"VFR_HUD": ["alt"], "ATTITUDE": null}.
func ParseJSONFields(data []byte) (FieldSet, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, err
	}
	obj, err := v.Object()
	if err != nil {
		return nil, err
	}

	var fs FieldSet
	obj.Visit(func(key []byte, v *fastjson.Value) {
		if err != nil {
			return
		}
		entry := FieldEntry{Type: string(key)}
		switch v.Type() {
		case fastjson.TypeNull:
		case fastjson.TypeArray:
			items, _ := v.Array()
			entry.Fields = make([]string, 0, len(items))
			for _, item := range items {
				b, serr := item.StringBytes()
				if serr != nil {
					err = fmt.Errorf("%s: field names must be strings", key)
					return
				}
				entry.Fields = append(entry.Fields, string(b))
			}
		default:
			err = fmt.Errorf("%s: expected a list of fields or null, got %s", key, v.Type())
			return
		}
		fs = append(fs, entry)
	})
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// ParseYAMLFields parses a YAML allowlist. A type with no value or ~ selects all fields.
func ParseYAMLFields(data []byte) (FieldSet, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping of type to fields", root.Line)
	}

	fs := make(FieldSet, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		entry := FieldEntry{Type: key.Value}
		switch {
		case value.Kind == yaml.ScalarNode && value.Tag == "!!null":
		case value.Kind == yaml.SequenceNode:
			entry.Fields = make([]string, 0, len(value.Content))
			for _, item := range value.Content {
				if item.Kind != yaml.ScalarNode {
					return nil, fmt.Errorf("line %d: field names must be strings", item.Line)
				}
				entry.Fields = append(entry.Fields, item.Value)
			}
		default:
			return nil, fmt.Errorf("line %d: %s: expected a list of fields or null", value.Line, key.Value)
		}
		fs = append(fs, entry)
	}
	return fs, nil
}

// MatchType reports whether typ matches one of the shell patterns.
func MatchType(typ string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(fnmatch(p), typ); ok {
			return true
		}
	}
	return false
}

func fnmatch(pattern string) string {
	return strings.ReplaceAll(pattern, "[!", "[^")
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// Layout places the selected fields of each message type into row columns. Column 0 is
// the timestamp.
type Layout struct {
	columns []string
	order   []string
	types   map[string]*typeColumns
}

type typeColumns struct {
	offset int
	fields []string
}

// Resolve expands fs against a log schema. Patterns expand to the matching types in
// sorted order, a nil field list to every field of the type and an array field name to
// all of its elements. A type that is already placed keeps its first placement.
func (fs FieldSet) Resolve(schema Schema) (*Layout, error) {
	l := &Layout{
		columns: []string{"timestamp"},
		types:   make(map[string]*typeColumns),
	}
	for _, e := range fs {
		if !isPattern(e.Type) {
			if err := l.place(schema, e.Type, e.Fields); err != nil {
				return nil, err
			}
			continue
		}
		if _, err := path.Match(fnmatch(e.Type), ""); err != nil {
			return nil, fmt.Errorf("type pattern %q: %w", e.Type, err)
		}
		for _, typ := range schema.Types() {
			if MatchType(typ, []string{e.Type}) {
				if err := l.place(schema, typ, e.Fields); err != nil {
					return nil, err
				}
			}
		}
	}
	return l, nil
}

func (l *Layout) place(schema Schema, typ string, fields []string) error {
	if _, ok := l.types[typ]; ok {
		return nil
	}
	leaves, known := schema[typ]

	var cols []string
	switch {
	case !known && fields == nil:
		return fmt.Errorf("%w: %s", ErrUnknownType, typ)
	case !known:
		// no schema entry to check the names against
		cols = fields
	case fields == nil:
		cols = leaves
	default:
		var err error
		if cols, err = expandFields(typ, leaves, fields); err != nil {
			return err
		}
	}

	tc := &typeColumns{offset: len(l.columns), fields: append([]string(nil), cols...)}
	for _, f := range tc.fields {
		l.columns = append(l.columns, typ+"."+f)
	}
	l.types[typ] = tc
	l.order = append(l.order, typ)
	return nil
}

func expandFields(typ string, leaves, fields []string) ([]string, error) {
	known := make(map[string]bool, len(leaves))
	for _, leaf := range leaves {
		known[leaf] = true
	}
	var out []string
	for _, f := range fields {
		if known[f] {
			out = append(out, f)
			continue
		}
		if !known[f+"[0]"] {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, typ, f)
		}
		for i := 0; known[f+"["+strconv.Itoa(i)+"]"]; i++ {
			out = append(out, f+"["+strconv.Itoa(i)+"]")
		}
	}
	return out, nil
}

// Columns returns the column names: timestamp, then TYPE.field for each selection.
func (l *Layout) Columns() []string {
	return append([]string(nil), l.columns...)
}

// Width is the number of columns including the timestamp.
func (l *Layout) Width() int {
	return len(l.columns)
}

// Types returns the placed message types in column order.
func (l *Layout) Types() []string {
	return append([]string(nil), l.order...)
}

// Fields returns the selected fields of typ.
func (l *Layout) Fields(typ string) []string {
	if tc, ok := l.types[typ]; ok {
		return tc.fields
	}
	return nil
}

// Has reports whether messages of typ contribute to rows.
func (l *Layout) Has(typ string) bool {
	_, ok := l.types[typ]
	return ok
}

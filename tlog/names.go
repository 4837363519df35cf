package tlog

import (
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/bluenviron/gomavlib/v2/pkg/message"
)

// leaf is one flat field of a message: a scalar struct field, or one element of an
// array field.
type leaf struct {
	name  string
	field int
	index int
}

// messageInfo describes how a gomavlib message struct maps onto MAVLink names.
type messageInfo struct {
	name   string
	leaves []leaf
	byName map[string]int
}

func newMessageInfo(t reflect.Type) *messageInfo {
	info := &messageInfo{
		name:   messageName(t.Name()),
		byName: make(map[string]int),
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := fieldName(f)
		if f.Type.Kind() == reflect.Array {
			for j := 0; j < f.Type.Len(); j++ {
				info.add(leaf{name: name + "[" + strconv.Itoa(j) + "]", field: i, index: j})
			}
			continue
		}
		info.add(leaf{name: name, field: i, index: -1})
	}
	return info
}

func (info *messageInfo) add(l leaf) {
	info.byName[l.name] = len(info.leaves)
	info.leaves = append(info.leaves, l)
}

func (info *messageInfo) fields() []string {
	out := make([]string, len(info.leaves))
	for i, l := range info.leaves {
		out[i] = l.name
	}
	return out
}

// messageName turns a gomavlib type name such as MessageGps2Raw into the MAVLink
// definition name GPS2_RAW.
func messageName(goName string) string {
	return strings.ToUpper(snake(strings.TrimPrefix(goName, "Message")))
}

// fieldName returns the MAVLink name of a struct field. gomavlib records names that do
// not survive the CamelCase round trip in a mavname tag.
func fieldName(f reflect.StructField) string {
	if name := f.Tag.Get("mavname"); name != "" {
		return name
	}
	return snake(f.Name)
}

func snake(in string) string {
	var b strings.Builder
	for i, r := range in {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func typeOf(m message.Message) reflect.Type {
	t := reflect.TypeOf(m)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// scalar converts a field value to a plain Go value: int64, uint64, float32, float64,
// string or bool. Enum and bitmask types collapse to their numeric kind.
func scalar(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint()
	case reflect.Float32:
		return float32(v.Float())
	case reflect.Float64:
		return v.Float()
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return v.Bool()
	}
	return v.Interface()
}

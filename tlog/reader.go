// Package tlog reads MAVLink telemetry logs as recorded by ground control stations: a
// sequence of records, each an 8 byte big-endian Unix time in microseconds followed by
// one MAVLink v1 or v2 frame. Frame decoding is done by gomavlib.
package tlog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/bluenviron/gomavlib/v2/pkg/dialect"
	"github.com/bluenviron/gomavlib/v2/pkg/frame"
	"github.com/bluenviron/gomavlib/v2/pkg/message"
	"go.uber.org/zap"
)

const (
	TimestampLen = 8

	v1Magic      = 0xFE
	v2Magic      = 0xFD
	v1HeaderLen  = 6
	v2HeaderLen  = 10
	checksumLen  = 2
	signatureLen = 13
	v2FlagSigned = 0x01
)

// Options configure a Reader.
type Options struct {
	// Dialect names the MAVLink dialect to decode with. Empty means DefaultDialect.
	Dialect string
	Logger  *zap.Logger
}

// Message is one decoded frame with its log timestamp.
type Message struct {
	info      *messageInfo
	value     reflect.Value
	msg       message.Message
	timestamp float64

	SystemID    byte
	ComponentID byte
}

// Type is the MAVLink message name, e.g. VFR_HUD.
func (m *Message) Type() string {
	return m.info.name
}

// Timestamp is the time the ground station logged the frame, in Unix seconds.
func (m *Message) Timestamp() float64 {
	return m.timestamp
}

// Fields lists the flat field names, array fields expanded to name[i].
func (m *Message) Fields() []string {
	return m.info.fields()
}

// Get returns the value of a flat field.
func (m *Message) Get(field string) (any, bool) {
	i, ok := m.info.byName[field]
	if !ok {
		return nil, false
	}
	l := m.info.leaves[i]
	v := m.value.Field(l.field)
	if l.index >= 0 {
		v = v.Index(l.index)
	}
	return scalar(v), true
}

// Raw returns the gomavlib message.
func (m *Message) Raw() message.Message {
	return m.msg
}

// Reader iterates the frames of a telemetry log.
type Reader struct {
	r       *bufio.Reader
	rw      *dialect.ReadWriter
	dialect string
	infos   map[reflect.Type]*messageInfo
	schema  map[string][]string

	badData  int
	unknown  int
	skipped  int
	messages int

	log *zap.Logger
}

// NewReader prepares to read a telemetry log from r.
func NewReader(r io.Reader, opts Options) (*Reader, error) {
	name := opts.Dialect
	if name == "" {
		name = DefaultDialect
	}
	d, err := LookupDialect(name)
	if err != nil {
		return nil, err
	}
	rw, err := dialect.NewReadWriter(d)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise dialect %s: %w", name, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reader := &Reader{
		r:       bufio.NewReader(r),
		rw:      rw,
		dialect: name,
		infos:   make(map[reflect.Type]*messageInfo, len(d.Messages)),
		schema:  make(map[string][]string, len(d.Messages)),
		log:     logger,
	}
	for _, m := range d.Messages {
		info := newMessageInfo(typeOf(m))
		reader.infos[typeOf(m)] = info
		reader.schema[info.name] = info.fields()
	}
	return reader, nil
}

// Dialect returns the name of the dialect in use.
func (reader *Reader) Dialect() string {
	return reader.dialect
}

// Schema maps every message name of the dialect to its flat field names.
func (reader *Reader) Schema() map[string][]string {
	return reader.schema
}

// Stats reports frames that failed to decode, frames with message IDs unknown to the
// dialect and bytes skipped while resynchronising.
func (reader *Reader) Stats() (badData, unknown, skipped int) {
	return reader.badData, reader.unknown, reader.skipped
}

// Count is the number of messages returned so far.
func (reader *Reader) Count() int {
	return reader.messages
}

// Next returns the next decodable message, or io.EOF at the end of the log.
func (reader *Reader) Next() (*Message, error) {
	for {
		ts, raw, err := reader.readRecord()
		if err != nil {
			return nil, err
		}

		fr, err := reader.decode(raw)
		if err != nil {
			reader.badData++
			reader.log.Debug("bad data recorded", zap.Uint64("timestamp_us", ts), zap.Error(err))
			continue
		}

		msg := fr.GetMessage()
		if unk, ok := msg.(*message.MessageRaw); ok {
			reader.unknown++
			reader.log.Debug("unknown message", zap.Uint32("id", unk.ID))
			continue
		}

		t := typeOf(msg)
		info, ok := reader.infos[t]
		if !ok {
			info = newMessageInfo(t)
			reader.infos[t] = info
		}
		reader.messages++

		return &Message{
			info:        info,
			value:       reflect.Indirect(reflect.ValueOf(msg)),
			msg:         msg,
			timestamp:   float64(ts) / 1e6,
			SystemID:    fr.GetSystemID(),
			ComponentID: fr.GetComponentID(),
		}, nil
	}
}

// readRecord returns the timestamp and the raw bytes of the next frame. Bytes that do not
// line up with a frame start are skipped one at a time.
func (reader *Reader) readRecord() (uint64, []byte, error) {
	var window [TimestampLen + 1]byte
	if _, err := io.ReadFull(reader.r, window[:]); err != nil {
		return 0, nil, endOfLog(err)
	}
	for window[TimestampLen] != v1Magic && window[TimestampLen] != v2Magic {
		copy(window[:], window[1:])
		b, err := reader.r.ReadByte()
		if err != nil {
			return 0, nil, endOfLog(err)
		}
		window[TimestampLen] = b
		reader.skipped++
	}

	ts := binary.BigEndian.Uint64(window[:TimestampLen])
	magic := window[TimestampLen]

	headerLen := v1HeaderLen
	if magic == v2Magic {
		headerLen = v2HeaderLen
	}
	header := make([]byte, headerLen)
	header[0] = magic
	if _, err := io.ReadFull(reader.r, header[1:]); err != nil {
		return 0, nil, endOfLog(err)
	}

	size := headerLen + int(header[1]) + checksumLen
	if magic == v2Magic && header[2]&v2FlagSigned != 0 {
		size += signatureLen
	}
	raw := make([]byte, size)
	copy(raw, header)
	if _, err := io.ReadFull(reader.r, raw[headerLen:]); err != nil {
		reader.log.Debug("truncated frame at end of log", zap.Uint64("timestamp_us", ts))
		return 0, nil, endOfLog(err)
	}
	return ts, raw, nil
}

func (reader *Reader) decode(raw []byte) (frame.Frame, error) {
	fr, err := frame.NewReader(frame.ReaderConf{
		Reader:    bytes.NewReader(raw),
		DialectRW: reader.rw,
	})
	if err != nil {
		return nil, err
	}
	return fr.Read()
}

func endOfLog(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

// Package tlogtest builds telemetry logs in memory for tests.
package tlogtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/bluenviron/gomavlib/v2/pkg/dialect"
	"github.com/bluenviron/gomavlib/v2/pkg/frame"
	"github.com/bluenviron/gomavlib/v2/pkg/message"
)

// Builder appends timestamped MAVLink frames to a log.
type Builder struct {
	buf bytes.Buffer
	enc bytes.Buffer
	w   *frame.Writer
}

// NewBuilder encodes frames of the given dialect and MAVLink version.
func NewBuilder(d *dialect.Dialect, version frame.WriterOutVersion) (*Builder, error) {
	rw, err := dialect.NewReadWriter(d)
	if err != nil {
		return nil, err
	}
	b := &Builder{}
	b.w, err = frame.NewWriter(frame.WriterConf{
		Writer:         &b.enc,
		DialectRW:      rw,
		OutVersion:     version,
		OutSystemID:    1,
		OutComponentID: 1,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Add appends msg logged at timestampUS microseconds since the Unix epoch and returns
// the offset of the record.
func (b *Builder) Add(timestampUS uint64, msg message.Message) (int, error) {
	b.enc.Reset()
	if err := b.w.WriteMessage(msg); err != nil {
		return 0, fmt.Errorf("encode %T: %w", msg, err)
	}
	offset := b.buf.Len()
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], timestampUS)
	b.buf.Write(ts[:])
	b.buf.Write(b.enc.Bytes())
	return offset, nil
}

// MustAdd is Add for fixtures that cannot fail.
func (b *Builder) MustAdd(timestampUS uint64, msg message.Message) int {
	offset, err := b.Add(timestampUS, msg)
	if err != nil {
		panic(err)
	}
	return offset
}

// Garbage appends raw bytes that belong to no record.
func (b *Builder) Garbage(p []byte) {
	b.buf.Write(p)
}

// Bytes returns the log built so far.
func (b *Builder) Bytes() []byte {
	return b.buf.Bytes()
}

// WriteFile stores the log at path.
func (b *Builder) WriteFile(path string) error {
	return os.WriteFile(path, b.buf.Bytes(), 0o644)
}

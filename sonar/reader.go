// Package sonar reads Blue Robotics Ping Viewer logs and exports the echosounder
// distance estimates as CSV.
package sonar

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// Qt writes a null byte array as length 0xFFFFFFFF.
	nullLen = 0xFFFFFFFF
	// maxLen bounds a single field; anything longer means the file is corrupt.
	maxLen = 16 << 20

	stemLayout = "20060102-150405"
)

// Header describes the application and sensor that wrote a log.
type Header struct {
	Magic        string
	Version      int32
	Commit       string
	Date         string
	Tag          string
	OSName       string
	OSVersion    string
	SensorFamily int32
	SensorType   int32
}

// Distance is one distance estimate.
type Distance struct {
	Time       time.Time
	Distance   uint32
	Confidence uint16
}

// Reader yields the distance estimates of a Ping Viewer log.
type Reader struct {
	Header Header

	r      *bufio.Reader
	closer io.Closer
	start  time.Time

	badPackets int
	others     int
	log        *zap.Logger
}

// StartTime reads the recording start from a log file name of the form
// YYYYMMDD-HHMMSSfff, interpreted in loc.
func StartTime(path string, loc *time.Location) (time.Time, error) {
	stem := filepath.Base(path)
	if i := strings.IndexByte(stem, '.'); i > 0 {
		stem = stem[:i]
	}
	if len(stem) < len(stemLayout) {
		return time.Time{}, fmt.Errorf("%s: file name is not a start time", path)
	}
	t, err := time.ParseInLocation(stemLayout, stem[:len(stemLayout)], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: file name is not a start time: %w", path, err)
	}
	frac := stem[len(stemLayout):]
	if len(frac) > 9 {
		return time.Time{}, fmt.Errorf("%s: file name is not a start time", path)
	}
	var ns int
	for i := 0; i < 9; i++ {
		ns *= 10
		if i < len(frac) {
			c := frac[i]
			if c < '0' || c > '9' {
				return time.Time{}, fmt.Errorf("%s: file name is not a start time", path)
			}
			ns += int(c - '0')
		}
	}
	return t.Add(time.Duration(ns)), nil
}

// Open opens the log at path. Its timestamps are offsets from the start time in the file
// name, localised to loc.
func Open(path string, loc *time.Location, logger *zap.Logger) (*Reader, error) {
	start, err := StartTime(path, loc)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f, start, logger)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewReader reads a log from r and stamps records relative to start.
func NewReader(r io.Reader, start time.Time, logger *zap.Logger) (*Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := &Reader{r: bufio.NewReader(r), start: start, log: logger}
	if err := reader.readHeader(); err != nil {
		return nil, fmt.Errorf("bad header: %w", err)
	}
	return reader, nil
}

func (reader *Reader) readHeader() error {
	h := &reader.Header
	var err error
	if h.Magic, err = reader.readString(); err != nil {
		return err
	}
	if h.Version, err = reader.readInt(); err != nil {
		return err
	}
	for _, s := range []*string{&h.Commit, &h.Date, &h.Tag, &h.OSName, &h.OSVersion} {
		if *s, err = reader.readString(); err != nil {
			return err
		}
	}
	if h.SensorFamily, err = reader.readInt(); err != nil {
		return err
	}
	h.SensorType, err = reader.readInt()
	return err
}

func (reader *Reader) readInt() (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(reader.r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func (reader *Reader) readBytes() ([]byte, error) {
	n, err := reader.readInt()
	if err != nil {
		return nil, err
	}
	if uint32(n) == nullLen {
		return nil, nil
	}
	if n < 0 || n > maxLen {
		return nil, fmt.Errorf("field length %d out of range", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (reader *Reader) readString() (string, error) {
	b, err := reader.readBytes()
	return string(b), err
}

// Next returns the next distance estimate, or io.EOF at the end of the log. Packets with
// other message ids and packets that fail to decode are skipped.
func (reader *Reader) Next() (Distance, error) {
	for {
		stamp, err := reader.readString()
		if err != nil {
			return Distance{}, endOfLog(err)
		}
		raw, err := reader.readBytes()
		if err != nil {
			return Distance{}, endOfLog(err)
		}

		p, err := DecodePacket(raw)
		if err != nil {
			reader.badPackets++
			reader.log.Debug("skipping bad packet", zap.String("timestamp", stamp), zap.Error(err))
			continue
		}
		if !p.IsDistance() {
			reader.others++
			continue
		}
		offset, err := ParseOffset(stamp)
		if err != nil {
			return Distance{}, err
		}
		distance, confidence, err := p.Distance()
		if err != nil {
			reader.badPackets++
			reader.log.Debug("skipping bad packet", zap.String("timestamp", stamp), zap.Error(err))
			continue
		}
		return Distance{Time: reader.start.Add(offset), Distance: distance, Confidence: confidence}, nil
	}
}

// Stats reports packets that failed to decode and packets without a distance.
func (reader *Reader) Stats() (bad, others int) {
	return reader.badPackets, reader.others
}

func (reader *Reader) Close() error {
	if reader.closer == nil {
		return nil
	}
	return reader.closer.Close()
}

// ParseOffset converts a record timestamp (hh:mm:ss.zzz since the recording started) to
// a duration. Windows builds pad the text with NUL bytes, which are ignored.
func ParseOffset(stamp string) (time.Duration, error) {
	stamp = strings.ReplaceAll(stamp, "\x00", "")
	layout := "15:04:05.999999999"
	if strings.Count(stamp, ":") == 1 {
		layout = "15:04"
	}
	t, err := time.Parse(layout, stamp)
	if err != nil {
		return 0, fmt.Errorf("bad record timestamp %q: %w", stamp, err)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond()), nil
}

func endOfLog(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

package fileparser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"
)

const (
	MaxMessageTypes       = 256
	EndOfFileGarbageLimit = 528
	PercentMultiplier     = 100.0
	MsgTypeGPS            = "GPS"
	MsgTypeGPS2           = "GPS2"
)

// ErrOutOfData is returned by NewReader for input that cannot hold a single record.
var ErrOutOfData = errors.New("out of data")

type MavType int

const (
	MavTypeGeneric        MavType = 0
	MavTypeFixedWing      MavType = 1
	MavTypeQuadrotor      MavType = 2
	MavTypeAntennaTracker MavType = 5
	MavTypeAirship        MavType = 7
	MavTypeGroundRover    MavType = 10
	MavTypeSubmarine      MavType = 12
)

func (t MavType) String() string {
	switch t {
	case MavTypeFixedWing:
		return "plane"
	case MavTypeQuadrotor:
		return "copter"
	case MavTypeAntennaTracker:
		return "antenna tracker"
	case MavTypeAirship:
		return "blimp"
	case MavTypeGroundRover:
		return "rover"
	case MavTypeSubmarine:
		return "sub"
	}
	return "generic"
}

// ArduCopter
var modeMappingACM = map[int]string{
	0:  "STABILIZE",
	1:  "ACRO",
	2:  "ALT_HOLD",
	3:  "AUTO",
	4:  "GUIDED",
	5:  "LOITER",
	6:  "RTL",
	7:  "CIRCLE",
	8:  "POSITION",
	9:  "LAND",
	10: "OF_LOITER",
	11: "DRIFT",
	13: "SPORT",
	14: "FLIP",
	15: "AUTOTUNE",
	16: "POSHOLD",
	17: "BRAKE",
	18: "THROW",
	19: "AVOID_ADSB",
	20: "GUIDED_NOGPS",
	21: "SMART_RTL",
	22: "FLOWHOLD",
	23: "FOLLOW",
	24: "ZIGZAG",
	25: "SYSTEMID",
	26: "AUTOROTATE",
	27: "AUTO_RTL",
}

func modeStringACM(modeNumber int) string {
	if mode, ok := modeMappingACM[modeNumber]; ok {
		return mode
	}
	return fmt.Sprintf("Mode(%d)", modeNumber)
}

// Options configure a Reader.
type Options struct {
	// ZeroTimeBase keeps timestamps relative to boot instead of aligning them to GPS time.
	ZeroTimeBase bool
	Logger       *zap.Logger
}

// Reader decodes a DataFlash log held in memory or mapped from a file.
type Reader struct {
	file   *os.File
	mapped mmap.MMap
	data   []byte

	formats map[int]*Format
	counts  [MaxMessageTypes]int
	offset  int
	clock   Clock

	zeroTimeBase bool
	badHeaders   int
	unknownTypes int

	// Messages holds the latest record of each type.
	Messages   map[string]*Message
	MavType    MavType
	FlightMode string

	log *zap.Logger
}

// Open maps path read-only and prepares it for reading.
func Open(path string, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < HeaderLen {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrOutOfData)
	}

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}

	reader := newReader(mapped, opts)
	reader.file = f
	reader.mapped = mapped
	reader.init()
	return reader, nil
}

// NewReader decodes a log already held in memory.
func NewReader(data []byte, opts Options) (*Reader, error) {
	if len(data) < HeaderLen {
		return nil, ErrOutOfData
	}
	reader := newReader(data, opts)
	reader.init()
	return reader, nil
}

func newReader(data []byte, opts Options) *Reader {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		data:         data,
		zeroTimeBase: opts.ZeroTimeBase,
		FlightMode:   modeStringACM(0),
		log:          logger,
	}
}

func (reader *Reader) init() {
	reader.scanFormats()
	reader.initClock()
	reader.Rewind()
}

// Close releases the mapping and the file, if any.
func (reader *Reader) Close() error {
	var err error
	if reader.mapped != nil {
		err = reader.mapped.Unmap()
		reader.mapped = nil
	}
	if reader.file != nil {
		if cerr := reader.file.Close(); err == nil {
			err = cerr
		}
		reader.file = nil
	}
	reader.data = nil
	return err
}

// Rewind restarts reading from the first record.
func (reader *Reader) Rewind() {
	reader.offset = 0
	reader.badHeaders = 0
	reader.unknownTypes = 0
	reader.Messages = make(map[string]*Message)
	if reader.clock != nil {
		reader.clock.RewindEvent()
	}
}

// Percent reports how far into the log the reader is.
func (reader *Reader) Percent() float64 {
	if len(reader.data) == 0 {
		return PercentMultiplier
	}
	return PercentMultiplier * float64(reader.offset) / float64(len(reader.data))
}

// Formats lists every record definition found in the log, by type number.
func (reader *Reader) Formats() []*Format {
	out := make([]*Format, 0, len(reader.formats))
	for typ := 0; typ < MaxMessageTypes; typ++ {
		if f, ok := reader.formats[typ]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Count returns the number of records of the named type in the log.
func (reader *Reader) Count(name string) int {
	for typ, f := range reader.formats {
		if f.Name == name {
			return reader.counts[typ]
		}
	}
	return 0
}

// BadData reports how many bytes were skipped for bad headers and unknown types.
func (reader *Reader) BadData() (badHeaders, unknownTypes int) {
	return reader.badHeaders, reader.unknownTypes
}

// scanFormats walks the whole log once to learn every FMT definition and count records.
func (reader *Reader) scanFormats() {
	reader.formats = map[int]*Format{FmtType: fmtFormat()}
	reader.offset = 0
	for {
		m, err := reader.parseNext()
		if err != nil {
			break
		}
		reader.counts[m.Format.Type]++
	}
	reader.offset = 0
}

// initClock picks the clock matching the log's time columns, aligned to the first GPS
// fix unless zeroTimeBase is set.
func (reader *Reader) initClock() {
	reader.Rewind()
	gpsClock := NewGPSInterpolated()
	reader.clock = gpsClock

	var (
		firstUsStamp, firstMsStamp int64
		haveUs, haveMs             bool
		px4Time, px4GPS, gpsFirst  *Message
	)

	for {
		m, err := reader.parseNext()
		if err != nil {
			break
		}
		msgType := m.Type()

		if !haveUs {
			firstUsStamp, haveUs = m.Int("TimeUS")
		}
		if !haveMs && !isGPS(m) {
			firstMsStamp, haveMs = m.Int("TimeMS")
		}

		if isGPS(m) {
			timeUS, _ := m.Int("TimeUS")
			gwk, _ := m.Int("GWk")
			if timeUS != 0 && gwk != 0 {
				clock := &UsecClock{}
				if !reader.zeroTimeBase {
					clock.findTimeBase(m, firstUsStamp)
				}
				reader.clock = clock
				return
			}

			t, _ := m.Int("T")
			week, _ := m.Int("Week")
			if t != 0 && week != 0 {
				if !haveMs {
					firstMsStamp, haveMs = t, true
				}
				clock := &MsecClock{}
				if !reader.zeroTimeBase {
					clock.findTimeBase(m, firstMsStamp)
				}
				reader.clock = clock
				return
			}

			if gpsTime, _ := m.Int("GPSTime"); gpsTime != 0 {
				px4GPS = m
			}
			if week != 0 {
				if gpsFirst != nil {
					firstMS, _ := gpsFirst.Int("TimeMS")
					firstWeek, _ := gpsFirst.Int("Week")
					timeMS, _ := m.Int("TimeMS")
					if firstMS != timeMS || firstWeek != week {
						reader.clock = gpsClock
						return
					}
				}
				gpsFirst = m
			}
		} else if msgType == "TIME" {
			if _, ok := m.Get("StartTime"); ok {
				px4Time = m
			}
		}

		if px4Time != nil && px4GPS != nil {
			clock := &PX4Clock{}
			clock.MessageArrived(px4Time)
			clock.findTimeBase(px4GPS)
			reader.clock = clock
			return
		}
	}

	switch {
	case haveUs:
		reader.clock = &UsecClock{}
	case haveMs:
		reader.clock = &MsecClock{}
	}
}

// Next returns the next record in file order, stamped by the clock. It returns io.EOF
// once the log is exhausted.
func (reader *Reader) Next() (*Message, error) {
	m, err := reader.parseNext()
	if err != nil {
		return nil, err
	}
	reader.addMsg(m)
	return m, nil
}

func (reader *Reader) parseNext() (*Message, error) {
	dataLen := len(reader.data)
	for {
		if dataLen-reader.offset < HeaderLen {
			return nil, io.EOF
		}

		hdr := reader.data[reader.offset : reader.offset+HeaderLen]
		if hdr[0] != HEAD1 || hdr[1] != HEAD2 {
			reader.handleBadHeader(hdr)
			reader.offset++
			continue
		}

		msgType := int(hdr[2])
		dfmt, ok := reader.formats[msgType]
		if !ok {
			reader.handleUnknownMessageType(msgType)
			reader.offset++
			continue
		}

		end := reader.offset + dfmt.Len
		if end > dataLen {
			if reader.offset+EndOfFileGarbageLimit < dataLen {
				reader.log.Debug("truncated record", zap.String("type", dfmt.Name), zap.Int("offset", reader.offset))
			}
			reader.offset = dataLen
			return nil, io.EOF
		}

		elements, err := dfmt.Unpack(reader.data[reader.offset+HeaderLen : end])
		if err != nil {
			reader.log.Debug("failed to unpack record", zap.String("type", dfmt.Name), zap.Error(err))
			reader.offset++
			continue
		}
		reader.offset = end

		m := &Message{Format: dfmt, Elements: elements}
		if msgType == FmtType {
			reader.processFmtMessage(elements)
		}
		return m, nil
	}
}

func (reader *Reader) handleBadHeader(hdr []byte) {
	reader.badHeaders++
	if len(reader.data)-reader.offset >= EndOfFileGarbageLimit || len(reader.data) < EndOfFileGarbageLimit {
		reader.log.Debug("bad header",
			zap.String("bytes", fmt.Sprintf("0x%02x 0x%02x", hdr[0], hdr[1])),
			zap.Int("offset", reader.offset))
	}
}

func (reader *Reader) handleUnknownMessageType(mtype int) {
	reader.unknownTypes++
	if len(reader.data)-reader.offset >= EndOfFileGarbageLimit || len(reader.data) < EndOfFileGarbageLimit {
		reader.log.Debug("unknown msg type",
			zap.Int("type", mtype),
			zap.Int("offset", reader.offset))
	}
}

func (reader *Reader) processFmtMessage(elements []any) {
	ftype, _ := elements[0].(int64)
	length, _ := elements[1].(int64)
	name, _ := elements[2].(string)
	format, _ := elements[3].(string)
	columns, _ := elements[4].(string)

	mfmt, err := NewFormat(int(ftype), name, int(length), format, splitColumns(columns))
	if err != nil {
		reader.log.Debug("ignoring format", zap.String("name", name), zap.Error(err))
		return
	}
	reader.formats[mfmt.Type] = mfmt
}

func (reader *Reader) addMsg(m *Message) {
	msgType := m.Type()
	reader.Messages[msgType] = m

	if reader.clock != nil {
		reader.clock.MessageArrived(m)
		reader.clock.SetMessageTimestamp(m)
	}

	switch msgType {
	case "MSG":
		message := m.text()
		switch {
		case strings.Contains(message, "Rover"):
			reader.MavType = MavTypeGroundRover
		case strings.Contains(message, "Plane"):
			reader.MavType = MavTypeFixedWing
		case strings.Contains(message, "Copter"):
			reader.MavType = MavTypeQuadrotor
		case strings.HasPrefix(message, "Antenna"):
			reader.MavType = MavTypeAntennaTracker
		case strings.Contains(message, "ArduSub"):
			reader.MavType = MavTypeSubmarine
		case strings.Contains(message, "Blimp"):
			reader.MavType = MavTypeAirship
		}
	case "MODE":
		if mode := m.mode(); mode != -1 {
			reader.FlightMode = modeStringACM(mode)
		} else {
			reader.FlightMode = "UNKNOWN"
		}
	}
}

package sonar

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logBuilder struct {
	bytes.Buffer
}

func (b *logBuilder) putInt(v int32) {
	_ = binary.Write(&b.Buffer, binary.BigEndian, v)
}

func (b *logBuilder) putBytes(p []byte) {
	b.putInt(int32(len(p)))
	b.Write(p)
}

func (b *logBuilder) header() {
	b.putBytes([]byte("PingViewer sensor log file"))
	b.putInt(1)
	for _, s := range []string{"8f3c2a1", "2021-03-05", "v2.3.1", "windows", "10"} {
		b.putBytes([]byte(s))
	}
	b.putInt(1)
	b.putInt(1)
}

func (b *logBuilder) record(stamp string, p Packet) {
	b.putBytes([]byte(stamp))
	b.putBytes(p.Marshal())
}

func distanceSimple(mm uint32, confidence uint8) Packet {
	payload := binary.LittleEndian.AppendUint32(nil, mm)
	return Packet{ID: IDDistanceSimple, Src: 1, Payload: append(payload, confidence)}
}

func distance(id uint16, mm uint32, confidence uint16) Packet {
	payload := binary.LittleEndian.AppendUint32(nil, mm)
	payload = binary.LittleEndian.AppendUint16(payload, confidence)
	payload = append(payload, make([]byte, 22)...)
	return Packet{ID: id, Src: 1, Payload: payload}
}

func sampleLog() []byte {
	var b logBuilder
	b.header()
	b.record("00:00:01.250", distanceSimple(1500, 100))
	b.record("00:00:01.500", Packet{ID: 5, Payload: []byte("ack")})
	bad := distance(IDDistance, 1, 1).Marshal()
	bad[len(bad)-1] ^= 0xFF
	b.putBytes([]byte("00:00:01.750"))
	b.putBytes(bad)
	b.record("00:00:02.000\x00", distance(IDDistance, 1600, 90))
	b.record("01:02:03.004", distance(IDProfile, 1700, 80))
	b.Write([]byte{0x00, 0x00}) // truncated tail
	return b.Bytes()
}

func TestPacketRoundTrip(t *testing.T) {
	p := distanceSimple(1234, 77)
	raw := p.Marshal()
	assert.Equal(t, []byte{'B', 'R', 5, 0, 0xBB, 0x04, 1, 0}, raw[:8])

	got, err := DecodePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	d, c, err := got.Distance()
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), d)
	assert.Equal(t, uint16(77), c)

	raw[len(raw)-2]++
	_, err = DecodePacket(raw)
	assert.ErrorIs(t, err, ErrBadChecksum)

	_, err = DecodePacket([]byte("BR"))
	assert.ErrorIs(t, err, ErrBadPacket)
	_, _, err = Packet{ID: 5}.Distance()
	assert.ErrorIs(t, err, ErrBadPacket)
}

func TestReader(t *testing.T) {
	start := time.Date(2021, 3, 5, 9, 30, 0, 0, time.UTC)
	r, err := NewReader(bytes.NewReader(sampleLog()), start, nil)
	require.NoError(t, err)
	assert.Equal(t, "PingViewer sensor log file", r.Header.Magic)
	assert.Equal(t, "v2.3.1", r.Header.Tag)
	assert.Equal(t, int32(1), r.Header.SensorFamily)

	var got []Distance
	for {
		d, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, d)
	}
	assert.Equal(t, []Distance{
		{Time: start.Add(1250 * time.Millisecond), Distance: 1500, Confidence: 100},
		{Time: start.Add(2 * time.Second), Distance: 1600, Confidence: 90},
		{Time: start.Add(time.Hour + 2*time.Minute + 3*time.Second + 4*time.Millisecond), Distance: 1700, Confidence: 80},
	}, got)

	bad, others := r.Stats()
	assert.Equal(t, 1, bad)
	assert.Equal(t, 1, others)
	assert.NoError(t, r.Close())
}

func TestReaderRejectsShortHeader(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte{0, 0, 0, 4, 'P'}), time.Time{}, nil)
	assert.Error(t, err)
}

func TestStartTime(t *testing.T) {
	loc, err := time.LoadLocation("Australia/Melbourne")
	require.NoError(t, err)

	got, err := StartTime("logs/20210305-093000123.bin", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2021, 3, 5, 9, 30, 0, 123_000_000, loc)))

	got, err = StartTime("20210305-093000.bin", loc)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Nanosecond())

	for _, name := range []string{"sonar.bin", "20210305-0930.bin", "20210305-093000x.bin"} {
		_, err := StartTime(name, loc)
		assert.Error(t, err, name)
	}
}

func TestParseOffset(t *testing.T) {
	d, err := ParseOffset("\x0000:01:02.5\x00")
	require.NoError(t, err)
	assert.Equal(t, time.Minute+2500*time.Millisecond, d)

	d, err = ParseOffset("12:30")
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour+30*time.Minute, d)

	_, err = ParseOffset("soon")
	assert.Error(t, err)
}

func TestLogsToCSV(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "20210305-093000000.bin")
	second := filepath.Join(dir, "20210305-100000000.bin")
	require.NoError(t, os.WriteFile(first, sampleLog(), 0o644))
	require.NoError(t, os.WriteFile(second, sampleLog(), 0o644))

	out := filepath.Join(dir, "combined.csv")
	opts := Options{Timezone: "Australia/Melbourne", Sort: true}
	require.NoError(t, LogsToCSV(context.Background(), []string{second, first}, out, opts))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	want := "timestamp,distance [mm],confidence\n" +
		"2021-03-05 09:30:01.250000+11:00,1500,100\n" +
		"2021-03-05 09:30:02.000000+11:00,1600,90\n" +
		"2021-03-05 10:32:03.004000+11:00,1700,80\n" +
		"2021-03-05 10:00:01.250000+11:00,1500,100\n" +
		"2021-03-05 10:00:02.000000+11:00,1600,90\n" +
		"2021-03-05 11:02:03.004000+11:00,1700,80\n"
	assert.Equal(t, want, string(data))

	require.NoError(t, ToCSV(context.Background(), first, "", opts))
	_, err = os.Stat(filepath.Join(dir, "20210305-093000000.csv"))
	assert.NoError(t, err)
}

func TestToCSVNeedsTimezone(t *testing.T) {
	err := ToCSV(context.Background(), "20210305-093000000.bin", "", Options{})
	assert.ErrorContains(t, err, "timezone")
}

package tlog

import (
	"bytes"
	"io"
	"testing"

	"github.com/bluenviron/gomavlib/v2/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v2/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edancain/mavlogparse/tlog/tlogtest"
)

const t0 = 1_700_000_000_000_000

func newBuilder(t *testing.T, version frame.WriterOutVersion) *tlogtest.Builder {
	t.Helper()
	b, err := tlogtest.NewBuilder(common.Dialect, version)
	require.NoError(t, err)
	return b
}

func addSample(b *tlogtest.Builder) []int {
	return []int{
		b.MustAdd(t0, &common.MessageVfrHud{Airspeed: 12.5, Groundspeed: 11, Heading: 90, Throttle: 40, Alt: 100.25, Climb: -0.5}),
		b.MustAdd(t0+100_000, &common.MessageAttitude{TimeBootMs: 1000, Roll: 0.5, Pitch: -0.25, Yaw: 1.5}),
		b.MustAdd(t0+200_000, &common.MessageBatteryStatus{Voltages: [10]uint16{11000, 11010, 65535}}),
	}
}

func readAll(t *testing.T, r *Reader) []*Message {
	t.Helper()
	var out []*Message
	for {
		m, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, m)
	}
}

func TestReaderDecodesFrames(t *testing.T) {
	for _, version := range []frame.WriterOutVersion{frame.V1, frame.V2} {
		b := newBuilder(t, version)
		addSample(b)

		r, err := NewReader(bytes.NewReader(b.Bytes()), Options{Dialect: "common"})
		require.NoError(t, err)
		msgs := readAll(t, r)
		require.Len(t, msgs, 3)

		hud := msgs[0]
		assert.Equal(t, "VFR_HUD", hud.Type())
		assert.InDelta(t, 1_700_000_000.0, hud.Timestamp(), 1e-6)
		alt, ok := hud.Get("alt")
		require.True(t, ok)
		assert.Equal(t, float32(100.25), alt)
		heading, _ := hud.Get("heading")
		assert.Equal(t, int64(90), heading)
		assert.Equal(t, byte(1), hud.SystemID)

		att := msgs[1]
		assert.Equal(t, "ATTITUDE", att.Type())
		assert.InDelta(t, 1_700_000_000.1, att.Timestamp(), 1e-6)
		boot, _ := att.Get("time_boot_ms")
		assert.Equal(t, uint64(1000), boot)
		assert.Contains(t, att.Fields(), "rollspeed")

		bat := msgs[2]
		assert.Equal(t, "BATTERY_STATUS", bat.Type())
		v, ok := bat.Get("voltages[1]")
		require.True(t, ok)
		assert.Equal(t, uint64(11010), v)
		_, ok = bat.Get("voltages")
		assert.False(t, ok)

		assert.Equal(t, 3, r.Count())
	}
}

func TestReaderResynchronises(t *testing.T) {
	b := newBuilder(t, frame.V2)
	b.MustAdd(t0, &common.MessageVfrHud{Alt: 1})
	b.Garbage([]byte{0x00, 0x01, 0x02})
	b.MustAdd(t0+100_000, &common.MessageVfrHud{Alt: 2})
	b.Garbage([]byte{0x00, 0x00, 0x00, 0x00, 0x00}) // trailing partial record

	r, err := NewReader(bytes.NewReader(b.Bytes()), Options{Dialect: "common"})
	require.NoError(t, err)
	msgs := readAll(t, r)
	require.Len(t, msgs, 2)
	alt, _ := msgs[1].Get("alt")
	assert.Equal(t, float32(2), alt)

	_, _, skipped := r.Stats()
	assert.Equal(t, 3, skipped)
}

func TestReaderSkipsBadData(t *testing.T) {
	b := newBuilder(t, frame.V2)
	offsets := addSample(b)

	data := bytes.Clone(b.Bytes())
	// first payload byte of the attitude frame
	data[offsets[1]+TimestampLen+v2HeaderLen] ^= 0xFF

	r, err := NewReader(bytes.NewReader(data), Options{Dialect: "common"})
	require.NoError(t, err)
	msgs := readAll(t, r)
	require.Len(t, msgs, 2)
	assert.Equal(t, "VFR_HUD", msgs[0].Type())
	assert.Equal(t, "BATTERY_STATUS", msgs[1].Type())

	badData, _, _ := r.Stats()
	assert.Equal(t, 1, badData)
}

func TestReaderSchema(t *testing.T) {
	r, err := NewReader(bytes.NewReader(nil), Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDialect, r.Dialect())

	schema := r.Schema()
	assert.Contains(t, schema["VFR_HUD"], "groundspeed")
	assert.Contains(t, schema["SCALED_IMU2"], "xgyro")
	assert.Contains(t, schema["GPS2_RAW"], "lat")

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestUnknownDialect(t *testing.T) {
	_, err := NewReader(bytes.NewReader(nil), Options{Dialect: "klingon"})
	assert.ErrorContains(t, err, "unknown mavlink dialect")
	assert.Equal(t, []string{"all", "ardupilotmega", "common", "minimal"}, Dialects())
}

func TestNames(t *testing.T) {
	assert.Equal(t, "GPS2_RAW", messageName("MessageGps2Raw"))
	assert.Equal(t, "SCALED_PRESSURE2", messageName("MessageScaledPressure2"))
	assert.Equal(t, "time_boot_ms", snake("TimeBootMs"))
	assert.Equal(t, "vibration_x", snake("VibrationX"))
	assert.Equal(t, "xacc", snake("Xacc"))
}

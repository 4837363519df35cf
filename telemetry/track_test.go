package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v2/pkg/dialects/common"
	"github.com/peterstace/simplefeatures/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edancain/mavlogparse/tlog/tlogtest"
)

func TestTrackFromTelemetry(t *testing.T) {
	dir := t.TempDir()
	log := writeTlog(t, dir, "flight.tlog", func(b *tlogtest.Builder) {
		b.MustAdd(t0, &common.MessageGlobalPositionInt{})
		b.MustAdd(t0+250_000, &common.MessageGlobalPositionInt{Lat: -378_136_000, Lon: 1_449_631_000})
		b.MustAdd(t0+250_000, &common.MessageGlobalPositionInt{Lat: -378_136_100, Lon: 1_449_631_100})
		b.MustAdd(t0+500_000, &common.MessageVfrHud{Alt: 3})
		b.MustAdd(t0+750_000, &common.MessageGlobalPositionInt{Lat: -378_137_000, Lon: 1_449_632_000})
	})

	src, err := Open(log, OpenOptions{})
	require.NoError(t, err)
	defer src.Close()

	tr, err := Track(context.Background(), src, TrackOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Points)
	assert.Equal(t, time.Unix(1_700_000_000, 250_000_000).UTC(), tr.Start)
	assert.Equal(t, time.Unix(1_700_000_000, 750_000_000).UTC(), tr.End)

	seq := tr.Line.Coordinates()
	require.Equal(t, 2, seq.Length())
	assert.InDelta(t, 144.9631, seq.GetXY(0).X, 1e-9)
	assert.InDelta(t, -37.8136, seq.GetXY(0).Y, 1e-9)
	assert.InDelta(t, 144.9632, seq.GetXY(1).X, 1e-9)

	var buf bytes.Buffer
	require.NoError(t, tr.WriteGeoJSON(&buf, "flight"))

	var feature struct {
		Type     string `json:"type"`
		ID       string `json:"id"`
		Geometry struct {
			Type        string      `json:"type"`
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &feature))
	assert.Equal(t, "Feature", feature.Type)
	assert.Equal(t, "flight", feature.ID)
	assert.Equal(t, "LineString", feature.Geometry.Type)
	assert.Len(t, feature.Geometry.Coordinates, 2)
	assert.Equal(t, 2.0, feature.Properties["points"])
	assert.Equal(t, "2023-11-14T22:13:20.25Z", feature.Properties["start"])
}

func TestTrackNeedsTwoPoints(t *testing.T) {
	src := &fakeSource{
		schema: Schema{"POS": {"la", "lo"}},
		msgs: []Message{
			fakeMessage{typ: "POS", ts: 1, values: map[string]any{"la": 1.0, "lo": 2.0}},
			fakeMessage{typ: "POS", ts: 2, values: map[string]any{"la": 0.0, "lo": 0.0}},
		},
	}
	_, err := Track(context.Background(), src, TrackOptions{Type: "POS", Lat: "la", Lon: "lo"})
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

func TestTrackKeepsEquatorAndMeridian(t *testing.T) {
	src := &fakeSource{
		schema: Schema{"POS": {"lat", "lon"}},
		msgs: []Message{
			fakeMessage{typ: "POS", ts: 1, values: map[string]any{"lat": 0.0, "lon": 32.5}},
			fakeMessage{typ: "POS", ts: 2, values: map[string]any{"lat": 0.0, "lon": 0.0}},
			fakeMessage{typ: "POS", ts: 3, values: map[string]any{"lat": 51.47, "lon": 0.0}},
		},
	}
	tr, err := Track(context.Background(), src, TrackOptions{Type: "POS"})
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Points)

	seq := tr.Line.Coordinates()
	assert.Equal(t, geom.XY{X: 32.5, Y: 0}, seq.GetXY(0))
	assert.Equal(t, geom.XY{X: 0, Y: 51.47}, seq.GetXY(1))
}

func TestTrackOptions(t *testing.T) {
	o, err := TrackOptions{}.resolve(Schema{"GPS": {"Lat", "Lng"}})
	require.NoError(t, err)
	assert.Equal(t, TrackOptions{Type: "GPS", Lat: "Lat", Lon: "Lng", Scale: 1}, o)

	_, err = TrackOptions{}.resolve(Schema{"ATT": {"Roll"}})
	assert.ErrorIs(t, err, ErrUnknownType)

	src := &fakeSource{
		schema: Schema{"POS": {"lat", "lon"}},
		msgs:   []Message{fakeMessage{typ: "POS", ts: 1, values: map[string]any{"lat": 1.0}}},
	}
	_, err = Track(context.Background(), src, TrackOptions{Type: "POS"})
	assert.ErrorIs(t, err, ErrUnknownField)
}

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/peterstace/simplefeatures/geom"
)

// TrackOptions pick the position message. Zero values select GLOBAL_POSITION_INT lat/lon
// in 1e-7 degrees for telemetry logs and GPS Lat/Lng in degrees for DataFlash logs.
type TrackOptions struct {
	Type  string
	Lat   string
	Lon   string
	Scale float64
}

func (o TrackOptions) resolve(schema Schema) (TrackOptions, error) {
	if o.Type == "" {
		switch {
		case schema["GLOBAL_POSITION_INT"] != nil:
			o = TrackOptions{Type: "GLOBAL_POSITION_INT", Lat: "lat", Lon: "lon", Scale: 1e-7}
		case schema["GPS"] != nil:
			o = TrackOptions{Type: "GPS", Lat: "Lat", Lon: "Lng", Scale: 1}
		default:
			return o, fmt.Errorf("%w: no position message", ErrUnknownType)
		}
	}
	if o.Lat == "" {
		o.Lat = "lat"
	}
	if o.Lon == "" {
		o.Lon = "lon"
	}
	if o.Scale == 0 {
		o.Scale = 1
	}
	return o, nil
}

// Trajectory is the path flown, as a line of lon/lat positions.
type Trajectory struct {
	Line   geom.LineString
	Start  time.Time
	End    time.Time
	Points int
}

// Track collects the positions of src into a line. Fixes at 0,0 and repeated timestamps
// are dropped.
func Track(ctx context.Context, src Source, opts TrackOptions) (*Trajectory, error) {
	opts, err := opts.resolve(src.Schema())
	if err != nil {
		return nil, err
	}

	var coords []float64
	var first, last float64
	seen := make(map[float64]bool)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.Path(), err)
		}
		if m.Type() != opts.Type {
			continue
		}
		lat, ok1 := position(m, opts.Lat, opts.Scale)
		lon, ok2 := position(m, opts.Lon, opts.Scale)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: %s.%s/%s", ErrUnknownField, opts.Type, opts.Lat, opts.Lon)
		}
		if lat == 0 && lon == 0 {
			continue
		}
		ts := m.Timestamp()
		if seen[ts] {
			continue
		}
		seen[ts] = true
		if len(coords) == 0 {
			first = ts
		}
		last = ts
		coords = append(coords, lon, lat)
	}

	points := len(coords) / 2
	if points < 2 {
		return nil, fmt.Errorf("%w: %d in %s", ErrTooFewPoints, points, src.Path())
	}
	return &Trajectory{
		Line:   geom.NewLineString(geom.NewSequence(coords, geom.DimXY)),
		Start:  EpochTime(first),
		End:    EpochTime(last),
		Points: points,
	}, nil
}

func position(m Message, field string, scale float64) (float64, bool) {
	v, ok := m.Get(field)
	if !ok {
		return 0, false
	}
	f, ok := toFloat(v)
	return f * scale, ok
}

// WriteGeoJSON writes the trajectory as a GeoJSON Feature.
func (t *Trajectory) WriteGeoJSON(w io.Writer, id any) error {
	feature := geom.GeoJSONFeature{
		Geometry: t.Line.AsGeometry(),
		ID:       id,
		Properties: map[string]interface{}{
			"start":  t.Start.Format(time.RFC3339Nano),
			"end":    t.End.Format(time.RFC3339Nano),
			"points": t.Points,
		},
	}
	enc := json.NewEncoder(w)
	return enc.Encode(feature)
}

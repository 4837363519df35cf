package telemetry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(rows *[]Row) func(Row) error {
	return func(r Row) error {
		*rows = append(*rows, r)
		return nil
	}
}

func TestAlignerSampleAndHold(t *testing.T) {
	layout, err := flightFields.Resolve(testSchema)
	require.NoError(t, err)
	a := NewAligner(layout)

	var rows []Row
	emit := collect(&rows)
	msgs := []fakeMessage{
		{typ: "VFR_HUD", ts: 1, values: map[string]any{"alt": 5.0, "heading": int64(10)}},
		{typ: "VFR_HUD", ts: 2, values: map[string]any{"alt": 6.0, "heading": int64(11)}},
		{typ: "SCALED_IMU", ts: 2.5, values: map[string]any{"xacc": int64(1)}},
		{typ: "ATTITUDE", ts: 2, values: map[string]any{"roll": 0.1}},
		{typ: "ATTITUDE", ts: 3, values: map[string]any{}},
	}
	for _, m := range msgs {
		require.NoError(t, a.Add(m, emit))
	}
	require.Len(t, rows, 2)
	require.NoError(t, a.Flush(emit))
	require.Len(t, rows, 3)

	assert.Equal(t, 1.0, rows[0].Timestamp)
	assert.Equal(t, []any{5.0, int64(10)}, rows[0].Values[:2])
	assert.True(t, math.IsNaN(rows[0].Values[2].(float64)))

	assert.Equal(t, 2.0, rows[1].Timestamp)
	assert.Equal(t, []any{6.0, int64(11), 0.1}, rows[1].Values)

	// a field missing from the message reads as NaN
	assert.Equal(t, 3.0, rows[2].Timestamp)
	assert.Equal(t, []any{6.0, int64(11)}, rows[2].Values[:2])
	assert.True(t, math.IsNaN(rows[2].Values[2].(float64)))
}

func TestAlignerRowsAreCopies(t *testing.T) {
	layout, err := flightFields.Resolve(testSchema)
	require.NoError(t, err)
	a := NewAligner(layout)

	var rows []Row
	emit := collect(&rows)
	require.NoError(t, a.Add(fakeMessage{typ: "ATTITUDE", ts: 1, values: map[string]any{"roll": 1.0}}, emit))
	require.NoError(t, a.Add(fakeMessage{typ: "ATTITUDE", ts: 2, values: map[string]any{"roll": 2.0}}, emit))
	require.NoError(t, a.Flush(emit))

	require.Len(t, rows, 2)
	assert.Equal(t, 1.0, rows[0].Values[2])
	assert.Equal(t, 2.0, rows[1].Values[2])
}

func TestAlignerFlushesSingleTimestamp(t *testing.T) {
	layout, err := flightFields.Resolve(testSchema)
	require.NoError(t, err)
	a := NewAligner(layout)

	var rows []Row
	emit := collect(&rows)
	require.NoError(t, a.Add(fakeMessage{typ: "VFR_HUD", ts: 7, values: map[string]any{"alt": 1.0, "heading": int64(2)}}, emit))
	require.NoError(t, a.Add(fakeMessage{typ: "ATTITUDE", ts: 7, values: map[string]any{"roll": 3.0}}, emit))
	assert.Empty(t, rows)

	require.NoError(t, a.Flush(emit))
	require.Len(t, rows, 1)
	assert.Equal(t, []any{1.0, int64(2), 3.0}, rows[0].Values)
}

func TestAlignerWithoutMessages(t *testing.T) {
	layout, err := flightFields.Resolve(testSchema)
	require.NoError(t, err)
	a := NewAligner(layout)

	var rows []Row
	emit := collect(&rows)
	require.NoError(t, a.Add(fakeMessage{typ: "GPS", ts: 1}, emit))
	assert.ErrorIs(t, a.Flush(emit), ErrNoMessages)
	assert.Empty(t, rows)
}

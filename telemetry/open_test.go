package telemetry

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bluenviron/gomavlib/v2/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v2/pkg/frame"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edancain/mavlogparse/tlog/tlogtest"
)

func drain(t *testing.T, src Source) []Message {
	t.Helper()
	var out []Message
	for {
		m, err := src.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, m)
	}
}

func TestOpenCompressedTelemetry(t *testing.T) {
	b, err := tlogtest.NewBuilder(common.Dialect, frame.V2)
	require.NoError(t, err)
	flightLog(b)

	dir := t.TempDir()
	gzPath := filepath.Join(dir, "flight.tlog.gz")
	f, err := os.Create(gzPath)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write(b.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zstPath := filepath.Join(dir, "flight.tlog.zst")
	require.NoError(t, os.WriteFile(zstPath, enc.EncodeAll(b.Bytes(), nil), 0o644))
	require.NoError(t, enc.Close())

	for _, path := range []string{gzPath, zstPath} {
		src, err := Open(path, OpenOptions{Dialect: "common"})
		require.NoError(t, err)
		msgs := drain(t, src)
		require.NoError(t, src.Close())

		require.Len(t, msgs, 5, path)
		assert.Equal(t, "VFR_HUD", msgs[0].Type())
		assert.Equal(t, "HEARTBEAT", msgs[4].Type())
		assert.Contains(t, src.Schema()["ATTITUDE"], "yawspeed")
		assert.Equal(t, path, src.Path())
	}
}

func TestOpenDataFlash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.bin")
	require.NoError(t, os.WriteFile(path, dataflash([]uint64{5_000_000}, []int16{100}), 0o644))

	src, err := Open(path, OpenOptions{})
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, []string{"ATT", "FMT"}, src.Schema().Types())
	assert.Equal(t, []string{"TimeUS", "Roll", "Pitch", "Yaw"}, src.Schema()["ATT"])

	msgs := drain(t, src)
	require.Len(t, msgs, 2)
	assert.Equal(t, "ATT", msgs[1].Type())
	assert.InDelta(t, 5.0, msgs[1].Timestamp(), 1e-9)
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "missing.tlog"), OpenOptions{})
	assert.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = Open(empty, OpenOptions{})
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.tlog.gz")
	require.NoError(t, os.WriteFile(bad, []byte("not gzip"), 0o644))
	_, err = Open(bad, OpenOptions{})
	assert.Error(t, err)

	plain := filepath.Join(dir, "x.tlog")
	require.NoError(t, os.WriteFile(plain, nil, 0o644))
	_, err = Open(plain, OpenOptions{Dialect: "nope"})
	assert.Error(t, err)
}

func TestIsDataFlash(t *testing.T) {
	assert.True(t, IsDataFlash("logs/00000042.BIN"))
	assert.True(t, IsDataFlash("logs/00000042.bin.zst"))
	assert.False(t, IsDataFlash("flight.tlog"))
	assert.False(t, IsDataFlash("flight.tlog.gz"))
	assert.Equal(t, "flight.csv", DefaultOutput("flight.tlog"))
}

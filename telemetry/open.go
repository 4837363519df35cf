package telemetry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/edancain/mavlogparse/fileparser"
	"github.com/edancain/mavlogparse/tlog"
)

// OpenOptions configure how a log is decoded.
type OpenOptions struct {
	// Dialect is the MAVLink dialect for telemetry logs. Empty means tlog.DefaultDialect.
	Dialect string
	// ZeroTimeBase keeps DataFlash timestamps relative to boot instead of GPS time.
	ZeroTimeBase bool
	Logger       *zap.Logger
}

func (o OpenOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

type codec int

const (
	codecNone codec = iota
	codecGzip
	codecZstd
)

// splitCodec strips a compression suffix from a file name.
func splitCodec(path string) (string, codec) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return strings.TrimSuffix(path, filepath.Ext(path)), codecGzip
	case ".zst":
		return strings.TrimSuffix(path, filepath.Ext(path)), codecZstd
	}
	return path, codecNone
}

// IsDataFlash reports whether path names an ArduPilot DataFlash log, compressed or not.
func IsDataFlash(path string) bool {
	name, _ := splitCodec(path)
	return strings.EqualFold(filepath.Ext(name), ".bin")
}

// Open opens a log. DataFlash logs (.bin) are read with fileparser, anything else as a
// MAVLink telemetry log. A .gz or .zst suffix is decompressed on the fly.
func Open(path string, opts OpenOptions) (Source, error) {
	log := opts.logger().With(zap.String("log", path))
	_, c := splitCodec(path)

	if IsDataFlash(path) {
		fopts := fileparser.Options{ZeroTimeBase: opts.ZeroTimeBase, Logger: log}
		if c == codecNone {
			r, err := fileparser.Open(path, fopts)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", path, err)
			}
			return newBinSource(path, r), nil
		}
		data, err := readCompressed(path, c)
		if err != nil {
			return nil, err
		}
		r, err := fileparser.NewReader(data, fopts)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return newBinSource(path, r), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rc, err := decompress(f, c)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	r, err := tlog.NewReader(rc, tlog.Options{Dialect: opts.Dialect, Logger: log})
	if err != nil {
		rc.Close()
		f.Close()
		return nil, err
	}
	return &tlogSource{path: path, r: r, closers: []io.Closer{rc, f}, log: log}, nil
}

func decompress(f *os.File, c codec) (io.ReadCloser, error) {
	switch c {
	case codecGzip:
		return gzip.NewReader(f)
	case codecZstd:
		dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	}
	return io.NopCloser(f), nil
}

func readCompressed(path string, c codec) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rc, err := decompress(f, c)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	return data, nil
}

type binSource struct {
	path   string
	r      *fileparser.Reader
	schema Schema
}

func newBinSource(path string, r *fileparser.Reader) *binSource {
	schema := make(Schema)
	for _, f := range r.Formats() {
		schema[f.Name] = f.Leaves()
	}
	return &binSource{path: path, r: r, schema: schema}
}

func (s *binSource) Next() (Message, error) {
	m, err := s.r.Next()
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *binSource) Schema() Schema { return s.schema }

func (s *binSource) Path() string { return s.path }

func (s *binSource) Close() error { return s.r.Close() }

type tlogSource struct {
	path    string
	r       *tlog.Reader
	schema  Schema
	closers []io.Closer
	log     *zap.Logger
}

func (s *tlogSource) Next() (Message, error) {
	m, err := s.r.Next()
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *tlogSource) Schema() Schema {
	if s.schema == nil {
		s.schema = Schema(s.r.Schema())
	}
	return s.schema
}

func (s *tlogSource) Path() string { return s.path }

func (s *tlogSource) Close() error {
	badData, unknown, skipped := s.r.Stats()
	s.log.Debug("closed telemetry log",
		zap.Int("messages", s.r.Count()),
		zap.Int("bad_data", badData),
		zap.Int("unknown", unknown),
		zap.Int("skipped_bytes", skipped))

	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configure conversion of one or more logs.
type Options struct {
	// Fields is the allowlist. Nil means DefaultFields.
	Fields       FieldSet
	Dialect      string
	ZeroTimeBase bool
	// Sep is the CSV field delimiter. Default ",".
	Sep string
	// Jobs bounds the logs converted at once when each log has its own output.
	Jobs   int
	Logger *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) jobs() int {
	if o.Jobs < 1 {
		return 1
	}
	return o.Jobs
}

func (o Options) fields() FieldSet {
	if o.Fields == nil {
		return DefaultFields()
	}
	return o.Fields
}

func (o Options) open() OpenOptions {
	return OpenOptions{Dialect: o.Dialect, ZeroTimeBase: o.ZeroTimeBase, Logger: o.Logger}
}

// Converter turns the messages of one log into aligned rows. A Converter reads its log
// once.
type Converter struct {
	src    Source
	layout *Layout
	opts   Options
	log    *zap.Logger
}

// NewConverter opens path and resolves the allowlist against its schema.
func NewConverter(path string, opts Options) (*Converter, error) {
	src, err := Open(path, opts.open())
	if err != nil {
		return nil, err
	}
	c, err := NewSourceConverter(src, opts)
	if err != nil {
		src.Close()
		return nil, err
	}
	return c, nil
}

// NewSourceConverter converts an already open source. Closing the converter closes src.
func NewSourceConverter(src Source, opts Options) (*Converter, error) {
	layout, err := opts.fields().Resolve(src.Schema())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Path(), err)
	}
	return &Converter{
		src:    src,
		layout: layout,
		opts:   opts,
		log:    opts.logger().With(zap.String("log", src.Path())),
	}, nil
}

func (c *Converter) Layout() *Layout {
	return c.layout
}

func (c *Converter) Close() error {
	return c.src.Close()
}

// Rows calls fn for every aligned row of the log. Each Row owns its values. A log without
// any selected message yields no rows and no error.
func (c *Converter) Rows(ctx context.Context, fn func(Row) error) error {
	a := NewAligner(c.layout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := c.src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", c.src.Path(), err)
		}
		if err := a.Add(m, fn); err != nil {
			return err
		}
	}
	err := a.Flush(fn)
	if errors.Is(err, ErrNoMessages) {
		c.log.Warn("no desired messages found in file")
		return nil
	}
	return err
}

// DefaultOutput is the CSV path used for a log when none is given: the log path with
// its extension replaced by .csv.
func DefaultOutput(log string) string {
	return strings.TrimSuffix(log, filepath.Ext(log)) + ".csv"
}

// ToCSV writes the rows to output, or DefaultOutput when output is empty. The file is
// appended to and the header is only written when the file is new.
func (c *Converter) ToCSV(ctx context.Context, output string) (err error) {
	if output == "" {
		output = DefaultOutput(c.src.Path())
	}
	sep, err := ParseSep(c.opts.Sep)
	if err != nil {
		return err
	}
	c.log.Info("processing log", zap.String("output", output))

	_, statErr := os.Stat(output)
	adding := statErr == nil

	f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := NewCSVWriter(f, sep)
	if !adding {
		if err := w.WriteHeader(c.layout.Columns()); err != nil {
			return err
		}
	}
	if err := c.Rows(ctx, w.WriteRow); err != nil {
		return err
	}
	return w.Flush()
}

// ToFrame collects the rows in memory. The timestamp column becomes the UTC index.
func (c *Converter) ToFrame(ctx context.Context) (*Frame, error) {
	frame := NewFrame(c.layout.Columns()[1:])
	err := c.Rows(ctx, func(r Row) error {
		return frame.Append(EpochTime(r.Timestamp), r.Values)
	})
	if err != nil {
		return nil, err
	}
	return frame, nil
}

// LogsToCSV converts every log. With an output path all logs are appended to it in
// order; without one each log is written next to itself and logs are converted
// concurrently, at most opts.Jobs at a time. Logs with the same default output are
// converted one after another.
func LogsToCSV(ctx context.Context, logs []string, output string, opts Options) error {
	convert := func(ctx context.Context, log, output string) error {
		c, err := NewConverter(log, opts)
		if err != nil {
			return err
		}
		defer c.Close()
		return c.ToCSV(ctx, output)
	}

	if output != "" {
		for _, log := range logs {
			if err := convert(ctx, log, output); err != nil {
				return err
			}
		}
		return nil
	}

	// Logs sharing a default output, such as x.tlog and x.bin, append to it in turn.
	var outputs []string
	groups := make(map[string][]string)
	for _, log := range logs {
		out := DefaultOutput(log)
		if _, ok := groups[out]; !ok {
			outputs = append(outputs, out)
		}
		groups[out] = append(groups[out], log)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.jobs())
	for _, out := range outputs {
		group := groups[out]
		g.Go(func() error {
			for _, log := range group {
				if err := convert(ctx, log, out); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// LogsToFrame converts logs in order into one frame. All logs must resolve to the same
// columns.
func LogsToFrame(ctx context.Context, logs []string, opts Options) (*Frame, error) {
	var out *Frame
	for _, log := range logs {
		c, err := NewConverter(log, opts)
		if err != nil {
			return nil, err
		}
		frame, err := c.ToFrame(ctx)
		c.Close()
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = frame
			continue
		}
		if err := out.Concat(frame); err != nil {
			return nil, fmt.Errorf("%s: %w", log, err)
		}
	}
	if out == nil {
		out = NewFrame(nil)
	}
	return out, nil
}

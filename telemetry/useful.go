package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// UsefulOptions configure UsefulFields.
type UsefulOptions struct {
	// Fields restricts the search. Nil searches every field of every type.
	Fields       FieldSet
	Dialect      string
	ZeroTimeBase bool
	// Out, when set, receives the result as JSON.
	Out    string
	Jobs   int
	Logger *zap.Logger
}

// fieldScan is what one log says about one field: the first value seen and whether a
// later value differed from it.
type fieldScan struct {
	first   any
	seen    bool
	changed bool
}

type typeScan struct {
	fields  []string
	scans   []fieldScan
	pending int
}

type logScan map[string]*typeScan

// UsefulFields finds, per message type, the fields whose value is not constant across
// logs. Logs are scanned concurrently. Fields are listed in schema order and types with
// no useful field are left out.
func UsefulFields(ctx context.Context, logs []string, opts UsefulOptions) (map[string][]string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := opts.Fields
	if fields == nil {
		fields = AllFields()
	}
	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}

	scans := make([]logScan, len(logs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, log := range logs {
		g.Go(func() error {
			logger.Info("extracting useful fields", zap.String("log", log))
			scan, err := scanLog(ctx, log, fields, opts)
			if err != nil {
				return err
			}
			scans[i] = scan
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	useful := mergeScans(scans)
	if opts.Out != "" {
		if err := SaveFields(opts.Out, useful); err != nil {
			return nil, err
		}
		logger.Info("saved useful fields", zap.String("output", opts.Out))
	}
	return useful, nil
}

func scanLog(ctx context.Context, log string, fields FieldSet, opts UsefulOptions) (logScan, error) {
	src, err := Open(log, OpenOptions{Dialect: opts.Dialect, ZeroTimeBase: opts.ZeroTimeBase, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	defer src.Close()

	layout, err := fields.Resolve(src.Schema())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", log, err)
	}
	scan := make(logScan, len(layout.order))
	tracking := 0
	for _, typ := range layout.order {
		f := layout.Fields(typ)
		scan[typ] = &typeScan{fields: f, scans: make([]fieldScan, len(f)), pending: len(f)}
		if len(f) > 0 {
			tracking++
		}
	}

	for tracking > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", log, err)
		}
		ts, ok := scan[m.Type()]
		if !ok || ts.pending == 0 {
			continue
		}
		for i, f := range ts.fields {
			fs := &ts.scans[i]
			if fs.changed {
				continue
			}
			v, _ := m.Get(f)
			switch {
			case !fs.seen:
				fs.first, fs.seen = v, true
			case v != fs.first:
				fs.changed = true
				ts.pending--
			}
		}
		if ts.pending == 0 {
			// every field varies; stop looking at this type
			tracking--
		}
	}
	return scan, nil
}

// mergeScans combines per-log results. A field is useful if it changed within a log or
// its first value differs between logs.
func mergeScans(scans []logScan) map[string][]string {
	type merged struct {
		fields []string
		byName map[string]*fieldScan
	}
	all := make(map[string]*merged)
	for _, scan := range scans {
		for typ, ts := range scan {
			m, ok := all[typ]
			if !ok {
				m = &merged{byName: make(map[string]*fieldScan)}
				all[typ] = m
			}
			for i, f := range ts.fields {
				dst, ok := m.byName[f]
				if !ok {
					dst = &fieldScan{}
					m.byName[f] = dst
					m.fields = append(m.fields, f)
				}
				src := ts.scans[i]
				switch {
				case !src.seen:
				case !dst.seen:
					*dst = src
				case src.changed || src.first != dst.first:
					dst.changed = true
				}
			}
		}
	}

	useful := make(map[string][]string)
	for typ, m := range all {
		for _, f := range m.fields {
			if m.byName[f].changed {
				useful[typ] = append(useful[typ], f)
			}
		}
	}
	return useful
}

// SaveFields writes a type to fields mapping as indented JSON with sorted types. The
// file can be read back with LoadFieldSet.
func SaveFields(file string, fields map[string][]string) error {
	data, err := json.MarshalIndent(fields, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(file, append(data, '\n'), 0o644)
}

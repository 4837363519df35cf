package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"
	"go.uber.org/zap"

	"github.com/edancain/mavlogparse/sonar"
	"github.com/edancain/mavlogparse/store"
	"github.com/edancain/mavlogparse/telemetry"
)

var errNoLogs = errors.New("no logs given")

func newCSVCommand() *ffcli.Command {
	fs := flag.NewFlagSet("csv", flag.ExitOnError)
	c := addShared(fs)
	output := fs.String("o", "", "output file shared by all logs (default: one .csv per log)")
	sep := fs.String("sep", ",", "field delimiter")

	return &ffcli.Command{
		Name:       "csv",
		ShortUsage: "mavlogparse csv [flags] <log>...",
		ShortHelp:  "convert logs to time-aligned CSV",
		FlagSet:    fs,
		Options:    options(),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errNoLogs
			}
			logger, err := c.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			fields, err := c.fieldSet()
			if err != nil {
				return err
			}
			return telemetry.LogsToCSV(ctx, args, *output, telemetry.Options{
				Fields:       fields,
				Dialect:      *c.dialect,
				ZeroTimeBase: *c.zero,
				Sep:          *sep,
				Jobs:         *c.jobs,
				Logger:       logger,
			})
		},
	}
}

func newListCommand(stdout io.Writer) *ffcli.Command {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	c := addShared(fs)
	output := fs.String("o", "", "also save the fields to this JSON file")

	return &ffcli.Command{
		Name:       "list",
		ShortUsage: "mavlogparse list [flags] <log>...",
		ShortHelp:  "list the fields whose value changes across logs",
		FlagSet:    fs,
		Options:    options(),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errNoLogs
			}
			logger, err := c.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			fields, err := c.fieldSet()
			if err != nil {
				return err
			}
			useful, err := telemetry.UsefulFields(ctx, args, telemetry.UsefulOptions{
				Fields:       fields,
				Dialect:      *c.dialect,
				ZeroTimeBase: *c.zero,
				Out:          *output,
				Jobs:         *c.jobs,
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			if *c.quiet {
				return nil
			}
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "    ")
			return enc.Encode(useful)
		},
	}
}

func newLoadCommand(stdout io.Writer) *ffcli.Command {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")
	timestamp := fs.String("timestamp", "timestamp", "column of UTC epoch seconds")
	tz := fs.String("tz", telemetry.DefaultTimezone, "timezone of the index")
	cols := fs.String("cols", "", "comma separated columns to load (default all)")
	sep := fs.String("sep", ",", "field delimiter")
	head := fs.Int("n", 5, "rows to print")

	return &ffcli.Command{
		Name:       "load",
		ShortUsage: "mavlogparse load [flags] <csv>",
		ShortHelp:  "load an exported CSV and print its first rows",
		FlagSet:    fs,
		Options:    options(),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("expected one csv file")
			}
			opts := telemetry.CSVOptions{Timestamp: *timestamp, Timezone: *tz, Sep: *sep}
			if *cols != "" {
				opts.Columns = strings.Split(*cols, ",")
			}
			f, err := telemetry.ReadCSV(args[0], opts)
			if err != nil {
				return err
			}
			return printFrame(stdout, f, *head)
		},
	}
}

func printFrame(w io.Writer, f *telemetry.Frame, n int) error {
	fmt.Fprintf(w, "%d rows x %d columns\n", f.Len(), len(f.Columns()))
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"time"}, f.Columns()...)); err != nil {
		return err
	}
	index := f.Index()
	for i := 0; i < f.Len() && i < n; i++ {
		rec := []string{index[i].Format(time.RFC3339Nano)}
		for _, v := range f.Row(i) {
			rec = append(rec, telemetry.FormatValue(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func newDBCommand() *ffcli.Command {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	c := addShared(fs)
	output := fs.String("o", "telemetry.db", "sqlite database")
	table := fs.String("table", "", "single table for all logs (default: one table per log)")

	return &ffcli.Command{
		Name:       "db",
		ShortUsage: "mavlogparse db [flags] <log>...",
		ShortHelp:  "store time-aligned rows in sqlite",
		FlagSet:    fs,
		Options:    options(),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errNoLogs
			}
			logger, err := c.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			fields, err := c.fieldSet()
			if err != nil {
				return err
			}
			opts := telemetry.Options{
				Fields:       fields,
				Dialect:      *c.dialect,
				ZeroTimeBase: *c.zero,
				Logger:       logger,
			}

			db, err := store.Open(*output, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if *table != "" {
				f, err := telemetry.LogsToFrame(ctx, args, opts)
				if err != nil {
					return err
				}
				return db.WriteFrame(ctx, *table, f)
			}
			for _, log := range args {
				f, err := logFrame(ctx, log, opts)
				if err != nil {
					return err
				}
				if err := db.WriteFrame(ctx, store.TableName(log), f); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func logFrame(ctx context.Context, log string, opts telemetry.Options) (*telemetry.Frame, error) {
	conv, err := telemetry.NewConverter(log, opts)
	if err != nil {
		return nil, err
	}
	defer conv.Close()
	return conv.ToFrame(ctx)
}

func newTrackCommand() *ffcli.Command {
	fs := flag.NewFlagSet("track", flag.ExitOnError)
	c := addShared(fs)
	output := fs.String("o", "", "GeoJSON output (default: log path with a .geojson extension)")
	typ := fs.String("type", "", "position message (default GLOBAL_POSITION_INT, or GPS for DataFlash)")
	lat := fs.String("lat", "", "latitude field")
	lon := fs.String("lon", "", "longitude field")
	scale := fs.Float64("scale", 0, "multiplier from field units to degrees")

	return &ffcli.Command{
		Name:       "track",
		ShortUsage: "mavlogparse track [flags] <log>",
		ShortHelp:  "export the flight path as GeoJSON",
		FlagSet:    fs,
		Options:    options(),
		Exec: func(ctx context.Context, args []string) (err error) {
			if len(args) != 1 {
				return errors.New("expected one log")
			}
			log := args[0]
			logger, err := c.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			src, err := telemetry.Open(log, telemetry.OpenOptions{Dialect: *c.dialect, ZeroTimeBase: *c.zero, Logger: logger})
			if err != nil {
				return err
			}
			defer src.Close()
			traj, err := telemetry.Track(ctx, src, telemetry.TrackOptions{Type: *typ, Lat: *lat, Lon: *lon, Scale: *scale})
			if err != nil {
				return fmt.Errorf("%s: %w", log, err)
			}

			path := *output
			if path == "" {
				path = strings.TrimSuffix(telemetry.DefaultOutput(log), ".csv") + ".geojson"
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
			}()
			logger.Info("writing track", zap.String("output", path), zap.Int("points", traj.Points))
			return traj.WriteGeoJSON(f, filepath.Base(log))
		},
	}
}

func newSonarCommand() *ffcli.Command {
	fs := flag.NewFlagSet("sonar", flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")
	tz := fs.String("tz", "", "IANA timezone the logs were recorded in (required)")
	sortLogs := fs.Bool("s", false, "process logs in file name order")
	output := fs.String("o", "", "output file shared by all logs (default: one .csv per log)")
	quiet := fs.Bool("q", false, "only log warnings and errors")
	verbose := fs.Bool("v", false, "debug logging")

	return &ffcli.Command{
		Name:       "sonar",
		ShortUsage: "mavlogparse sonar -tz <zone> [flags] <log>...",
		ShortHelp:  "convert Ping Viewer sonar logs to CSV",
		FlagSet:    fs,
		Options:    options(),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errNoLogs
			}
			logger, err := newLogger(*quiet, *verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return sonar.LogsToCSV(ctx, args, *output, sonar.Options{Timezone: *tz, Sort: *sortLogs, Logger: logger})
		},
	}
}

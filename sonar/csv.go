package sonar

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/edancain/mavlogparse/telemetry"
)

// TimeLayout renders distance timestamps with their UTC offset.
const TimeLayout = "2006-01-02 15:04:05.000000-07:00"

var csvHeader = []string{"timestamp", "distance [mm]", "confidence"}

// Options configure CSV export.
type Options struct {
	// Timezone is the IANA zone the log was recorded in. Required.
	Timezone string
	// Sort orders the logs by file name, which for Ping Viewer names is start time.
	Sort   bool
	Logger *zap.Logger
}

func (o Options) location() (*time.Location, error) {
	if o.Timezone == "" {
		return nil, errors.New("a timezone is required")
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", o.Timezone, err)
	}
	return loc, nil
}

// ToCSV appends the distance estimates of log to output, or to the log path with a .csv
// extension when output is empty. The header is only written to a new file.
func ToCSV(ctx context.Context, log, output string, opts Options) (err error) {
	loc, err := opts.location()
	if err != nil {
		return err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if output == "" {
		output = telemetry.DefaultOutput(log)
	}

	r, err := Open(log, loc, logger)
	if err != nil {
		return err
	}
	defer r.Close()

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

	logger.Info("processing sonar log", zap.String("log", log), zap.String("output", output))
	w := csv.NewWriter(f)
	if !adding {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}
	rows := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", log, err)
		}
		rec := []string{
			d.Time.Format(TimeLayout),
			strconv.FormatUint(uint64(d.Distance), 10),
			strconv.FormatUint(uint64(d.Confidence), 10),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
		rows++
	}
	w.Flush()
	bad, others := r.Stats()
	logger.Debug("sonar log done", zap.Int("rows", rows), zap.Int("bad_packets", bad), zap.Int("other_packets", others))
	return w.Error()
}

// LogsToCSV exports each log in turn. With an output path all logs share it.
func LogsToCSV(ctx context.Context, logs []string, output string, opts Options) error {
	if opts.Sort {
		logs = append([]string(nil), logs...)
		sort.SliceStable(logs, func(i, j int) bool {
			return filepath.Base(logs[i]) < filepath.Base(logs[j])
		})
	}
	for _, log := range logs {
		if err := ToCSV(ctx, log, output, opts); err != nil {
			return err
		}
	}
	return nil
}

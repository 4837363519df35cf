package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/peterbourgon/ff/v3/ffyaml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edancain/mavlogparse/telemetry"
)

// Build flags
var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cmd := newCommand(os.Stdout)
	if err := cmd.ParseAndRun(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func newCommand(stdout io.Writer) *ffcli.Command {
	fs := flag.NewFlagSet("mavlogparse", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "mavlogparse [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newCSVCommand(),
			newListCommand(stdout),
			newLoadCommand(stdout),
			newDBCommand(),
			newTrackCommand(),
			newSonarCommand(),
			newVersionCommand(stdout),
		},
	}
}

func newVersionCommand(stdout io.Writer) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "mavlogparse version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Fprintln(stdout, strings.Join(versionFields, " "))
			return nil
		},
	}
}

func options() []ff.Option {
	return []ff.Option{
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parser),
		ff.WithEnvVarPrefix("MAVLOGPARSE"),
	}
}

// sharedFlags holds the flags shared by the telemetry subcommands.
type sharedFlags struct {
	fields  *string
	dialect *string
	zero    *bool
	jobs    *int
	quiet   *bool
	verbose *bool
}

func addShared(fs *flag.FlagSet) *sharedFlags {
	_ = fs.String("config", "", "config file (optional)")
	return &sharedFlags{
		fields:  fs.String("f", "", "field allowlist, JSON or YAML (default depends on the command)"),
		dialect: fs.String("d", "ardupilotmega", "mavlink dialect"),
		zero:    fs.Bool("zero-time-base", false, "timestamps are relative to boot, not epoch"),
		jobs:    fs.Int("j", 1, "logs processed in parallel"),
		quiet:   fs.Bool("q", false, "only log warnings and errors, print no results"),
		verbose: fs.Bool("v", false, "debug logging"),
	}
}

func (c *sharedFlags) fieldSet() (telemetry.FieldSet, error) {
	if *c.fields == "" {
		return nil, nil
	}
	return telemetry.LoadFieldSet(*c.fields)
}

func (c *sharedFlags) logger() (*zap.Logger, error) {
	return newLogger(*c.quiet, *c.verbose)
}

func newLogger(quiet, verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.Sampling = nil
	config.DisableStacktrace = true
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch {
	case verbose:
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case quiet:
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	return config.Build()
}

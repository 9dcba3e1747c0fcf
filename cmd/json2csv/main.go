// Command json2csv converts JSON documents to CSV (or SQL tables) using an
// outline: a declarative mapping of columns to key paths, with optional jq
// scripts around and inside the row pipeline.
//
// Usage:
//
//	json2csv -outline people.outline.json [flags] INPUT...
//
// Inputs are converted one after the other. Each input produces
// <input-without-ext>.csv unless -o or a SQL sink is given.
//
// Defaults come from ~/.config/json2csv/config.toml (or $JSON2CSV_CONFIG),
// then JSON2CSV_* environment variables (a .env file in the working directory
// is loaded first), then flags.
//
// Exit codes:
//   - 0: every input converted.
//   - 1: at least one input failed.
//   - 2: usage, configuration or outline error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"json2csv/internal/config"
	"json2csv/internal/metrics"
	"json2csv/internal/metrics/datadog"
	"json2csv/internal/outline"
	"json2csv/internal/script"
	"json2csv/internal/sink"
	"json2csv/internal/transformer"

	// register the SQL sinks; -sink selects one.
	_ "json2csv/internal/sink/all"
)

const jobName = "json2csv"

// backendCloser is the minimal interface used by this command to manage a metrics backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
type deps struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	LoadConfig     func() (*config.Config, error)
	BackendFactory func(ctx context.Context, job string, tags []string) (backendCloser, error)
	IsTerminal     func() bool
	NewRunID       func() string
}

// runConfig holds the parsed flags and derived values for a run.
type runConfig struct {
	OutlinePath string
	Inputs      []string

	EachLine   bool
	Output     string
	Delimiter  rune
	Strings    bool
	NoHeader   bool
	AllowEmpty bool
	NoScripts  bool
	Encoding   string

	Sink  string
	DSN   string
	Table string

	KeepGoing bool
	Validate  bool
	Verbose   bool
	Timeout   time.Duration

	MetricsBackend string
	MetricsTags    string
}

func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		LoadConfig: config.Load,
		BackendFactory: func(ctx context.Context, job string, tags []string) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{JobName: job, Tags: tags})
		},
		IsTerminal: func() bool {
			fd := os.Stderr.Fd()
			return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
		},
		NewRunID: func() string { return uuid.NewString() },
	})
	os.Exit(code)
}

// run executes the converter and returns an exit code.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdin == nil {
		d.Stdin = strings.NewReader("")
	}
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.LoadConfig == nil {
		d.LoadConfig = func() (*config.Config, error) { return config.DefaultConfig(), nil }
	}
	if d.IsTerminal == nil {
		d.IsTerminal = func() bool { return false }
	}
	if d.NewRunID == nil {
		d.NewRunID = func() string { return uuid.NewString() }
	}
	logger := log.New(d.Stderr, "", log.LstdFlags)

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(d.Stderr, "env: %v\n", err)
		return 2
	}
	defaults, err := d.LoadConfig()
	if err != nil {
		fmt.Fprintf(d.Stderr, "config: %v\n", err)
		return 2
	}

	cfg, err := parseFlags(args, defaults)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	o, issues, err := outline.Load(cfg.OutlinePath)
	for _, iss := range issues {
		fmt.Fprintf(d.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if err != nil {
		logger.Printf("outline is invalid: %s: %v", cfg.OutlinePath, err)
		return 2
	}
	if cfg.Validate {
		logger.Printf("outline is valid: %s (%d columns)", cfg.OutlinePath, len(o.Fields))
		return 0
	}

	runID := d.NewRunID()
	backend, stopMetrics := initMetrics(ctx, cfg, runID, d, logger)
	defer stopMetrics()
	rec := metrics.NewRecorder(backend)

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var engine script.Engine = script.NewJQ()
	if cfg.NoScripts {
		engine = script.Nop{}
	}
	conv := transformer.New(o,
		transformer.WithEngine(engine),
		transformer.WithLogger(logger),
		transformer.WithAllowEmpty(cfg.AllowEmpty),
		transformer.WithJob(jobName),
		transformer.WithVerbose(cfg.Verbose),
		transformer.WithMetrics(backend),
	)

	start := time.Now()
	var failed int
	var rows int64
	for _, in := range cfg.Inputs {
		n, err := convertInput(ctx, conv, rec, cfg, in, d)
		if err != nil {
			failed++
			fmt.Fprintf(d.Stderr, "json2csv: %s: %v\n", in, err)
			if !cfg.KeepGoing {
				break
			}
			continue
		}
		rows += n
		if cfg.Verbose {
			logger.Printf("json2csv: run=%s input=%s rows=%d", runID, in, n)
		}
	}

	if d.IsTerminal() {
		fmt.Fprintf(d.Stderr, "json2csv: %d/%d inputs converted, %d rows in %s\n",
			len(cfg.Inputs)-failed, len(cfg.Inputs), rows, time.Since(start).Truncate(time.Millisecond))
	}
	if failed > 0 {
		return 1
	}
	return 0
}

// parseFlags parses command arguments over the configured defaults.
//
// Errors:
//   - Returns an error for invalid/missing required flags.
//   - Does not exit the process (caller decides exit code).
func parseFlags(args []string, defaults *config.Config) (runConfig, error) {
	if defaults == nil {
		defaults = config.DefaultConfig()
	}
	fs := flag.NewFlagSet("json2csv", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage: %s -outline FILE [flags] INPUT...\n", fs.Name())
		fs.PrintDefaults()
	}

	timeout, err := defaults.Convert.TimeoutDuration()
	if err != nil {
		return runConfig{}, err
	}

	var cfg runConfig
	var delim string
	fs.StringVar(&cfg.OutlinePath, "outline", "", "Outline file (.json with comments, .yaml)")
	fs.BoolVar(&cfg.EachLine, "e", false, "Input is line-delimited JSON, one record per line")
	fs.BoolVar(&cfg.EachLine, "each-line", false, "Same as -e")
	fs.StringVar(&cfg.Output, "o", "", "Output file for a single input ('-' for stdout)")
	fs.StringVar(&delim, "d", defaults.Output.Delimiter, `Delimiter, one character ('\t' accepted)`)
	fs.BoolVar(&cfg.Strings, "strings", defaults.Output.Strings, "Render arrays and objects as text instead of JSON")
	fs.BoolVar(&cfg.NoHeader, "no-header", !defaults.Output.Header, "Do not write the header line")
	fs.BoolVar(&cfg.AllowEmpty, "allow-empty", defaults.Convert.AllowEmpty, "Write header-only output when an input has no rows")
	fs.BoolVar(&cfg.NoScripts, "no-scripts", defaults.Convert.NoScripts, "Ignore every script in the outline")
	fs.StringVar(&cfg.Encoding, "encoding", defaults.Output.Encoding, "Output encoding (utf-8, utf-8-bom, windows-1250, iso-8859-2, ...)")
	fs.StringVar(&cfg.Sink, "sink", defaults.Sink.Kind, "Output sink: csv|sqlite|postgres|mssql")
	fs.StringVar(&cfg.DSN, "dsn", defaults.Sink.DSN, "Database DSN for SQL sinks")
	fs.StringVar(&cfg.Table, "table", defaults.Sink.Table, "Target table for SQL sinks")
	fs.BoolVar(&cfg.KeepGoing, "keep-going", defaults.Convert.KeepGoing, "Continue with the next input after a failure")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate the outline and exit")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose logs, including a dump of every record")
	fs.DurationVar(&cfg.Timeout, "timeout", timeout, "Abort the run after this long (0 = no limit)")
	fs.StringVar(&cfg.MetricsBackend, "metrics-backend", defaults.Metrics.Backend, "Metrics backend: none|datadog")
	fs.StringVar(&cfg.MetricsTags, "metrics-tags", defaults.Metrics.Tags, "Extra metric tags CSV (e.g. env:prod,team:data)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}
	cfg.Inputs = fs.Args()

	if strings.TrimSpace(cfg.OutlinePath) == "" {
		return runConfig{}, errors.New("missing required -outline <file>")
	}
	if cfg.Validate {
		return cfg, nil
	}
	if len(cfg.Inputs) == 0 {
		return runConfig{}, errors.New("missing input file(s)")
	}
	if cfg.Output != "" && len(cfg.Inputs) > 1 {
		return runConfig{}, errors.New("-o requires a single input")
	}
	if cfg.Delimiter, err = parseDelimiter(delim); err != nil {
		return runConfig{}, err
	}
	if cfg.Sink != sink.KindCSV && strings.TrimSpace(cfg.DSN) == "" {
		return runConfig{}, fmt.Errorf("-sink %s requires -dsn", cfg.Sink)
	}
	if _, err := sink.LookupEncoding(cfg.Encoding); err != nil {
		return runConfig{}, err
	}
	if cfg.Timeout < 0 {
		return runConfig{}, errors.New("-timeout must be >= 0")
	}
	return cfg, nil
}

// parseDelimiter accepts a single character or the escape \t.
func parseDelimiter(s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("-d must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("-d: %q cannot delimit CSV fields", r)
	}
	return r, nil
}

// initMetrics builds the selected backend and returns it with its shutdown
// hook. A nil backend means metrics are disabled; backend failures are logged
// and leave metrics disabled.
func initMetrics(ctx context.Context, cfg runConfig, runID string, d deps, logger *log.Logger) (metrics.Backend, func()) {
	nop := func() {}
	switch cfg.MetricsBackend {
	case "", "none":
		return nil, nop
	case "datadog":
		if d.BackendFactory == nil {
			logger.Printf("metrics: no datadog factory; metrics disabled")
			return nil, nop
		}
		tags := append(datadog.ParseTagsCSV(cfg.MetricsTags), "run:"+runID, "tool:json2csv")
		b, err := d.BackendFactory(ctx, jobName, tags)
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return nil, nop
		}
		if cfg.Verbose {
			logger.Printf("metrics: backend=%s job_name=%s tags=%v", cfg.MetricsBackend, jobName, tags)
		}
		return b, func() {
			if err := b.Close(); err != nil {
				logger.Printf("metrics: datadog close/flush error: %v", err)
			}
		}
	default:
		logger.Printf("metrics: unknown backend %q; metrics disabled", cfg.MetricsBackend)
		return nil, nop
	}
}

// convertInput converts one input and writes it to the configured sink. It
// returns the number of rows written.
func convertInput(ctx context.Context, conv *transformer.Converter, rec metrics.Recorder, cfg runConfig, in string, d deps) (int64, error) {
	var r io.Reader = d.Stdin
	if in != "-" {
		f, err := os.Open(in)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r = f
	}

	res, err := conv.Convert(ctx, r, cfg.EachLine)
	if err != nil {
		return 0, err
	}
	records := transformer.DefaultStringifier().Records(res.Rows, res.Headers, cfg.Strings)

	start := time.Now()
	n, err := write(ctx, cfg, in, d.Stdout, res.Headers, records)
	rec.RecordStep(jobName, "write", err, time.Since(start))
	return n, err
}

func write(ctx context.Context, cfg runConfig, in string, stdout io.Writer, headers []string, records [][]string) (n int64, err error) {
	sc := sink.Config{
		Kind:      cfg.Sink,
		Delimiter: cfg.Delimiter,
		NoHeader:  cfg.NoHeader,
		Encoding:  cfg.Encoding,
		DSN:       cfg.DSN,
		Table:     cfg.Table,
	}

	if cfg.Sink == sink.KindCSV {
		path := outputPath(cfg.Output, in)
		if path == "-" {
			sc.Writer = stdout
		} else {
			f, err := os.Create(path)
			if err != nil {
				return 0, err
			}
			defer func() {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
			}()
			sc.Writer = f
		}
	}

	s, err := sink.New(ctx, sc)
	if err != nil {
		return 0, err
	}
	n, err = s.Write(ctx, headers, records)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// outputPath derives the CSV path for an input: the explicit -o value, stdout
// for stdin, or the input path with its extension replaced by .csv.
func outputPath(output, in string) string {
	if output != "" {
		return output
	}
	if in == "-" {
		return "-"
	}
	return strings.TrimSuffix(in, filepath.Ext(in)) + ".csv"
}

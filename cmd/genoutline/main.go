// Command genoutline generates a candidate outline for json2csv by walking
// every record of a JSON input and collecting the distinct leaf paths.
//
// Usage:
//
//	genoutline (-e | -c KEY | -d) [-p] [-no-duplicate-accessors] [-sort] [-o FILE] INPUT
//
// Exactly one of the record selectors must be given:
//
//   - -e: the input is line-delimited, one record per line;
//   - -c KEY: records are the array under KEY (".a.b" for a nested path);
//   - -d: records are the values of the root object.
//
// The outline is written as indented JSON with sorted keys to -o, or to
// <input-without-ext>.outline.json. It is meant to be reviewed and edited
// before use. The jq notes printed with -p go to stderr when the outline is
// written to stdout.
//
// Exit codes:
//   - 0: outline written.
//   - 1: the input could not be read or holds no fields.
//   - 2: usage error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"json2csv/internal/discovery"
	"json2csv/internal/jsonvalue"
	"json2csv/internal/outline"
	"json2csv/internal/source"
)

const scriptsNote = "NOTE: You chose to enable jq-processing. Remember you have to nullify default accessors " +
	"when you want JQ selectors to be applied. If you do not set default accessors to null, " +
	"the JQ selector will not be applied, due to performance issue when repeatedly calling JQ."

const noDuplicatesWarning = "...\nWARNING: are you sure you want to remove all default accessors ? " +
	"(It will dramatically reduce the processing speed of the conversion. " +
	"It should only be used for debug purpose or to learn how to create an outline file.)"

// deps are external seams for testability.
type deps struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// runConfig holds the parsed flags for a run.
type runConfig struct {
	Input  string
	Output string

	EachLine     bool
	Collection   string
	DropRootKeys bool

	Scripts              bool
	NoDuplicateAccessors bool
	Sort                 bool
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], deps{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}))
}

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

	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	doc, err := discover(ctx, cfg, d.Stdin)
	if err != nil {
		if errors.Is(err, discovery.ErrNoFields) {
			fmt.Fprintf(d.Stderr, "genoutline: %s: no fields found; check the record selector (-e, -c, -d)\n", cfg.Input)
		} else {
			fmt.Fprintf(d.Stderr, "genoutline: %s: %v\n", cfg.Input, err)
		}
		return 1
	}

	if err := writeOutline(cfg, d.Stdout, doc); err != nil {
		fmt.Fprintf(d.Stderr, "genoutline: %v\n", err)
		return 1
	}

	if cfg.Scripts {
		// Keep stdout a valid outline when the outline itself went there.
		notes := d.Stdout
		if outlinePath(cfg) == "-" {
			notes = d.Stderr
		}
		fmt.Fprintln(notes, scriptsNote)
		if cfg.NoDuplicateAccessors {
			fmt.Fprintln(notes, noDuplicatesWarning)
		}
	}
	return 0
}

// parseFlags parses command arguments into a validated runConfig.
func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("genoutline", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage: %s (-e | -c KEY | -d) [flags] INPUT\n", fs.Name())
		fs.PrintDefaults()
	}

	var cfg runConfig
	fs.BoolVar(&cfg.EachLine, "e", false, "Process each line of the input as a record")
	fs.BoolVar(&cfg.EachLine, "each-line", false, "Same as -e")
	fs.StringVar(&cfg.Collection, "c", "", "Key of the array of records (`KEY`, or .a.b for a nested path)")
	fs.StringVar(&cfg.Collection, "collection", "", "Same as -c")
	fs.BoolVar(&cfg.DropRootKeys, "d", false, "Records are the values of the root object")
	fs.BoolVar(&cfg.DropRootKeys, "dropRootKeys", false, "Same as -d")
	fs.BoolVar(&cfg.Scripts, "p", false, "Add a jq fallback for every accessor (slow; meant as a starting point)")
	fs.BoolVar(&cfg.Scripts, "processing", false, "Same as -p")
	fs.BoolVar(&cfg.NoDuplicateAccessors, "no-duplicate-accessors", false, "With -p, leave keypaths empty so jq does all extraction")
	fs.BoolVar(&cfg.Sort, "sort", false, "Sort fields by path instead of grouping them in first-seen order")
	fs.StringVar(&cfg.Output, "o", "", "Outline file to write ('-' for stdout)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	selectors := 0
	for _, set := range []bool{cfg.EachLine, cfg.Collection != "", cfg.DropRootKeys} {
		if set {
			selectors++
		}
	}
	if selectors != 1 {
		return runConfig{}, errors.New("exactly one of -e, -c KEY, -d is required")
	}
	if fs.NArg() != 1 {
		return runConfig{}, fmt.Errorf("expected exactly one input file, got %d", fs.NArg())
	}
	cfg.Input = fs.Arg(0)
	return cfg, nil
}

func discover(ctx context.Context, cfg runConfig, stdin io.Reader) (outline.Document, error) {
	r := stdin
	if cfg.Input != "-" {
		f, err := os.Open(cfg.Input)
		if err != nil {
			return outline.Document{}, err
		}
		defer f.Close()
		r = f
	}

	opt := discovery.Options{
		Scripts:              cfg.Scripts,
		NoDuplicateAccessors: cfg.NoDuplicateAccessors,
		Collection:           cfg.Collection,
		DropRootKeys:         cfg.DropRootKeys,
	}
	if cfg.Sort {
		opt.Order = discovery.OrderSorted
	}

	c := discovery.NewCollector()
	if cfg.EachLine {
		err := source.EachLine(ctx, r, "", func(_ int, rec jsonvalue.Value) error {
			c.Add(rec)
			return nil
		})
		if err != nil {
			return outline.Document{}, err
		}
		return c.Document(opt)
	}

	root, err := source.ReadDocument(r)
	if err != nil {
		return outline.Document{}, err
	}
	records, err := source.Records(root, source.Selector{Collection: cfg.Collection, DropRootKeys: cfg.DropRootKeys})
	if err != nil {
		return outline.Document{}, err
	}
	for _, rec := range records {
		c.Add(rec)
	}
	return c.Document(opt)
}

// outlinePath is -o, stdout for stdin, or the input with its extension
// replaced by .outline.json.
func outlinePath(cfg runConfig) string {
	if cfg.Output != "" {
		return cfg.Output
	}
	if cfg.Input == "-" {
		return "-"
	}
	return strings.TrimSuffix(cfg.Input, filepath.Ext(cfg.Input)) + ".outline.json"
}

func writeOutline(cfg runConfig, stdout io.Writer, doc outline.Document) (err error) {
	path := outlinePath(cfg)
	if path == "-" {
		return outline.Encode(stdout, doc)
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
	if err := outline.Encode(f, doc); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Package sink writes converted rows to their destination: a delimited text
// file or a SQL table.
package sink

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a sink.
//
// Kind selects a registered backend. The remaining fields are interpreted by
// the backend: text sinks use Writer, Delimiter, NoHeader and Encoding, SQL
// sinks use DSN and Table.
type Config struct {
	Kind string

	// Writer receives delimited output.
	Writer    io.Writer
	Delimiter rune
	NoHeader  bool
	Encoding  string

	DSN   string
	Table string
}

// Sink receives the rows of one converted document.
type Sink interface {
	// Write stores records, each aligned to headers, and reports how many
	// rows were written. A sink may be written once per document.
	Write(ctx context.Context, headers []string, records [][]string) (int64, error)

	// Close flushes and releases the sink. Call it once.
	Close() error
}

// Factory opens a Sink for a Config.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind.
//
// Call Register from an init function of the backend package.
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("sink: Register called with empty kind")
	}
	if f == nil {
		panic("sink: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("sink: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a sink using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Sink, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("sink: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("sink: unsupported kind=%s (have %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backends in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Args converts string records to driver arguments for SQL sinks.
func Args(records [][]string) [][]any {
	out := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(rec))
		for j, v := range rec {
			row[j] = v
		}
		out[i] = row
	}
	return out
}

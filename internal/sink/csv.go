package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// KindCSV is the delimited text sink.
const KindCSV = "csv"

func init() {
	Register(KindCSV, NewCSV)
}

// ErrUnknownEncoding is returned for an output encoding name that cannot be
// resolved.
var ErrUnknownEncoding = errors.New("sink: unknown encoding")

// named covers the encodings people ask for most, including the BOM variant
// spreadsheet tools need to detect UTF-8.
var named = map[string]encoding.Encoding{
	"utf-8-bom":    unicode.UTF8BOM,
	"utf8-bom":     unicode.UTF8BOM,
	"windows-1250": charmap.Windows1250,
	"windows-1252": charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-2":   charmap.ISO8859_2,
	"latin2":       charmap.ISO8859_2,
}

// LookupEncoding resolves an output encoding by name. The empty name and
// utf-8 mean no transcoding and return nil.
func LookupEncoding(name string) (encoding.Encoding, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	if e, ok := named[n]; ok {
		return e, nil
	}
	e, err := htmlindex.Get(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	if e == unicode.UTF8 {
		return nil, nil
	}
	return e, nil
}

// CSV writes rows as delimited text.
type CSV struct {
	w        *csv.Writer
	enc      io.WriteCloser
	noHeader bool
}

// NewCSV opens a delimited text sink over cfg.Writer.
//
// The delimiter defaults to a comma. Characters the target encoding cannot
// represent are replaced rather than failing the write.
func NewCSV(_ context.Context, cfg Config) (Sink, error) {
	if cfg.Writer == nil {
		return nil, fmt.Errorf("sink: csv: no writer")
	}
	e, err := LookupEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	out := cfg.Writer
	s := &CSV{noHeader: cfg.NoHeader}
	if e != nil {
		s.enc = transform.NewWriter(out, encoding.ReplaceUnsupported(e.NewEncoder()))
		out = s.enc
	}

	s.w = csv.NewWriter(out)
	if cfg.Delimiter != 0 {
		s.w.Comma = cfg.Delimiter
	}
	// csv.Writer validates the delimiter lazily; fail at open time instead.
	if d := cfg.Delimiter; d == '"' || d == '\r' || d == '\n' || d == utf8.RuneError || (d != 0 && !utf8.ValidRune(d)) {
		return nil, fmt.Errorf("sink: csv: invalid delimiter %q", cfg.Delimiter)
	}
	return s, nil
}

// Write writes the header line (unless disabled) and every record.
func (s *CSV) Write(_ context.Context, headers []string, records [][]string) (int64, error) {
	if !s.noHeader {
		if err := s.w.Write(headers); err != nil {
			return 0, fmt.Errorf("sink: csv: header: %w", err)
		}
	}
	var n int64
	for _, rec := range records {
		if err := s.w.Write(rec); err != nil {
			return n, fmt.Errorf("sink: csv: row %d: %w", n, err)
		}
		n++
	}
	s.w.Flush()
	return n, s.w.Error()
}

// Close flushes buffered output. The underlying writer is left open.
func (s *CSV) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	if s.enc != nil {
		return s.enc.Close()
	}
	return nil
}

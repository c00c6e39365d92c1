package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"github.com/dcshock/checkpipe/pipeline"
)

const maxLineSize = 16 << 20

// ReaderOption configures a Reader.
type ReaderOption func(*readerOptions)

type readerOptions struct {
	root string
}

// WithRoot decodes the value at the given gjson path of every line instead of the
// whole line, e.g. "doc" for lines like {"doc": {...}, "meta": {...}}.
func WithRoot(path string) ReaderOption {
	return func(o *readerOptions) { o.root = path }
}

// Reader is a source over a JSON-lines file. Blank lines are skipped; a line that does
// not decode into T fails with a parse error naming the file and line.
type Reader[T any] struct {
	path string
	opts readerOptions
	f    *os.File
	sc   *bufio.Scanner
	line int
}

// NewReader opens path, which is either a JSON-lines file or a checkpoint directory
// holding records.jsonl.
func NewReader[T any](path string, opts ...ReaderOption) (*Reader[T], error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	if info.IsDir() {
		path = filepath.Join(path, RecordsFile)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	r := &Reader[T]{path: path, f: f, sc: bufio.NewScanner(f)}
	r.sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for _, o := range opts {
		o(&r.opts)
	}
	return r, nil
}

func (r *Reader[T]) Name() string {
	return fmt.Sprintf("JSONL(%s)", r.path)
}

func (r *Reader[T]) Next(ctx context.Context) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line, err := r.nextLine()
	if err != nil {
		return nil, err
	}
	if r.opts.root != "" {
		res := gjson.GetBytes(line, r.opts.root)
		if !res.Exists() {
			return nil, pipeline.ParseErrorf(r.path, "line %d: no value at %q", r.line, r.opts.root)
		}
		line = []byte(res.Raw)
	}
	var v T
	if err := json.Unmarshal(line, &v); err != nil {
		return nil, pipeline.ParseErrorf(r.path, "line %d: %v", r.line, err)
	}
	return v, nil
}

// nextLine returns the next non-blank line, or io.EOF.
func (r *Reader[T]) nextLine() ([]byte, error) {
	for r.sc.Scan() {
		r.line++
		line := bytes.TrimSpace(r.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		return append([]byte(nil), line...), nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}
	return nil, io.EOF
}

func (r *Reader[T]) Close() error {
	return r.f.Close()
}

// ReadAll decodes every record of path.
func ReadAll[T any](path string, opts ...ReaderOption) ([]T, error) {
	r, err := NewReader[T](path, opts...)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []T
	for {
		v, err := r.Next(context.Background())
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v.(T))
	}
}

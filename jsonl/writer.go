// Package jsonl persists records as JSON lines: one checkpoint directory holds one
// records.jsonl file next to the completion marker.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dcshock/checkpipe/pipeline"
)

// RecordsFile is the name of the data file inside a checkpoint directory.
const RecordsFile = "records.jsonl"

// Writer is a pass-through task that appends every record of type T to
// dir/records.jsonl and finalizes the directory when the pipeline ends.
type Writer[T any] struct {
	*pipeline.Artifact
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
	n   int
}

var (
	_ pipeline.Beginner = (*Writer[any])(nil)
	_ pipeline.Ender    = (*Writer[any])(nil)
	_ pipeline.Reducer  = (*Writer[any])(nil)
	_ io.Closer         = (*Writer[any])(nil)
)

// NewWriter creates dir and returns a writer recording artifact as the configuration
// that produced it.
func NewWriter[T any](dir string, artifact interface{}) (*Writer[T], error) {
	a, err := pipeline.NewArtifact(dir, artifact)
	if err != nil {
		return nil, err
	}
	return &Writer[T]{Artifact: a}, nil
}

func (w *Writer[T]) Name() string {
	return fmt.Sprintf("JSONLWriter(%s)", filepath.Base(w.Dir()))
}

// Begin truncates the records file.
func (w *Writer[T]) Begin(ctx context.Context) error {
	f, err := os.Create(w.Path(RecordsFile))
	if err != nil {
		return fmt.Errorf("open records: %w", err)
	}
	w.f = f
	w.buf = bufio.NewWriter(f)
	w.enc = json.NewEncoder(w.buf)
	w.enc.SetEscapeHTML(false)
	w.n = 0
	return nil
}

func (w *Writer[T]) Process(ctx context.Context, item interface{}) (interface{}, error) {
	v, ok := item.(T)
	if !ok {
		var zero T
		return nil, pipeline.PipelineErrorf(w.Dir(), "jsonl writer: expected %T, got %T", zero, item)
	}
	if w.enc == nil {
		return nil, pipeline.PipelineErrorf(w.Dir(), "jsonl writer: Process before Begin")
	}
	if err := w.enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode record %d: %w", w.n, err)
	}
	w.n++
	return item, nil
}

// Count is the number of records written since Begin.
func (w *Writer[T]) Count() int { return w.n }

// End flushes, syncs and closes the records file, then finalizes the directory.
func (w *Writer[T]) End(ctx context.Context) error {
	if w.f == nil {
		if err := w.Begin(ctx); err != nil {
			return err
		}
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush records: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("sync records: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close records: %w", err)
	}
	w.f, w.buf, w.enc = nil, nil, nil
	return w.Artifact.End(ctx)
}

// Close releases the records file of a failed run without finalizing the directory.
func (w *Writer[T]) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f, w.buf, w.enc = nil, nil, nil
	return err
}

// Reduce replaces the records file with the concatenation of every shard's records, in
// shard order.
func (w *Writer[T]) Reduce(ctx context.Context, dirs []string) error {
	if w.f == nil {
		if err := w.Begin(ctx); err != nil {
			return err
		}
	}
	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate records: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind records: %w", err)
	}
	w.buf.Reset(w.f)
	w.n = 0
	for _, dir := range dirs {
		n, err := w.appendShard(dir)
		if err != nil {
			return err
		}
		w.n += n
	}
	return nil
}

func (w *Writer[T]) appendShard(dir string) (int, error) {
	r, err := NewReader[T](dir)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	n := 0
	for {
		line, err := r.nextLine()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if _, err := w.buf.Write(append(line, '\n')); err != nil {
			return n, fmt.Errorf("append shard %s: %w", dir, err)
		}
		n++
	}
}

// Codec reads and writes checkpoints of records of type T.
type Codec[T any] struct{}

func (Codec[T]) Writer(dir string, artifact interface{}) (pipeline.Task, error) {
	return NewWriter[T](dir, artifact)
}

func (Codec[T]) Reader(dir string) (pipeline.Source, error) {
	return NewReader[T](dir)
}

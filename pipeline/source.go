package pipeline

import (
	"context"
	"errors"
	"io"
)

// Source is the input sequence of a pipeline. Next returns io.EOF once the sequence is
// exhausted. Sources that hold resources also implement io.Closer; pipelines close them
// when a run finishes, successfully or not.
type Source interface {
	Next(ctx context.Context) (interface{}, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (interface{}, error)

func (f SourceFunc) Next(ctx context.Context) (interface{}, error) { return f(ctx) }

// SliceSource yields the elements of a slice in order.
type SliceSource struct {
	name  string
	items []interface{}
	pos   int
}

// NewSliceSource returns a source over items.
func NewSliceSource(name string, items []interface{}) *SliceSource {
	return &SliceSource{name: name, items: items}
}

// FromSlice returns a source over a typed slice.
func FromSlice[T any](name string, items []T) *SliceSource {
	out := make([]interface{}, len(items))
	for i, v := range items {
		out[i] = v
	}
	return NewSliceSource(name, out)
}

func (s *SliceSource) Next(ctx context.Context) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.items) {
		return nil, io.EOF
	}
	v := s.items[s.pos]
	s.pos++
	return v, nil
}

func (s *SliceSource) Name() string { return s.name }

// Collect drains src into a slice.
func Collect(ctx context.Context, src Source) ([]interface{}, error) {
	var out []interface{}
	for {
		v, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

// nextChunk reads up to n records from src; n <= 0 reads the whole input. The returned
// slice is empty only at the end of the input.
func nextChunk(ctx context.Context, src Source, n int) ([]interface{}, error) {
	var chunk []interface{}
	if n > 0 {
		chunk = make([]interface{}, 0, n)
	}
	for n <= 0 || len(chunk) < n {
		v, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		chunk = append(chunk, v)
	}
	return chunk, nil
}

func closeSource(src Source) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Task adapters for common pipeline patterns.

package pipeline

import (
	"context"
	"fmt"
)

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func(ctx context.Context, item interface{}) (interface{}, error)

// Process calls f(ctx, item).
func (f TaskFunc) Process(ctx context.Context, item interface{}) (interface{}, error) {
	return f(ctx, item)
}

type namedFunc struct {
	name string
	fn   TaskFunc
}

func (n *namedFunc) Process(ctx context.Context, item interface{}) (interface{}, error) {
	return n.fn(ctx, item)
}

func (n *namedFunc) Name() string { return n.name }

// Named returns fn as a task reported under name.
func Named(name string, fn TaskFunc) Task {
	return &namedFunc{name: name, fn: fn}
}

// ConvertFunc converts a record of type A to type B. Used by Func to build a task.
type ConvertFunc[A, B any] func(ctx context.Context, a A) (B, error)

// Func returns a task that converts records of type A to type B. A record of any other
// type fails the run with a pipeline error.
func Func[A, B any](name string, convert ConvertFunc[A, B]) Task {
	return Named(name, func(ctx context.Context, item interface{}) (interface{}, error) {
		a, ok := item.(A)
		if !ok {
			var zero A
			return nil, PipelineErrorf("", "%s: expected %T, got %T", name, zero, item)
		}
		return convert(ctx, a)
	})
}

// Identity returns a task that passes records through unchanged.
func Identity() Task {
	return Named("Identity", func(ctx context.Context, item interface{}) (interface{}, error) {
		return item, nil
	})
}

// Tap returns a task that calls fn(ctx, item) then passes item through unchanged.
// Use for logging or counting without changing the record.
func Tap(fn func(context.Context, interface{})) Task {
	return Named("Tap", func(ctx context.Context, item interface{}) (interface{}, error) {
		fn(ctx, item)
		return item, nil
	})
}

// Validate returns a task that passes records through only if predicate(v) is true.
// Otherwise the run fails with errMsg. Records must be of type T.
func Validate[T any](predicate func(T) bool, errMsg string) Task {
	if errMsg == "" {
		errMsg = "validation failed"
	}
	return Named("Validate", func(ctx context.Context, item interface{}) (interface{}, error) {
		v, ok := item.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("validate: expected %T, got %T", zero, item)
		}
		if !predicate(v) {
			return nil, fmt.Errorf("%s", errMsg)
		}
		return item, nil
	})
}

// Constant returns a task that ignores its input and always outputs value.
func Constant(value interface{}) Task {
	return Named("Constant", func(ctx context.Context, _ interface{}) (interface{}, error) {
		return value, nil
	})
}

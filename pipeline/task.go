package pipeline

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// Task is a unit of work in a pipeline. Process must return the transformed record (or
// the original one) and must not depend on the order of unrelated records.
//
// Everything else is optional. A task implements the capability interfaces below only
// for the hooks it needs; the package-level BatchProcess, Begin, End and RunReduce
// functions supply the default behavior for the rest.
type Task interface {
	Process(ctx context.Context, item interface{}) (interface{}, error)
}

// BatchTask processes a chunk in one call, e.g. to use a bulk external API. The result
// must be observably equal to calling Process on each element in order.
type BatchTask interface {
	BatchProcess(ctx context.Context, items []interface{}) ([]interface{}, error)
}

// Beginner is called once before the first record.
type Beginner interface {
	Begin(ctx context.Context) error
}

// Ender is called once after the last record. Tasks owning a directory finalize it here.
type Ender interface {
	End(ctx context.Context) error
}

// Reducer merges complete shard directories into the task's own directory. It must be
// idempotent: merging the same shards twice yields the same content.
type Reducer interface {
	Reduce(ctx context.Context, dirs []string) error
}

// RunReducer replaces shard discovery for composite tasks.
type RunReducer interface {
	RunReduce(ctx context.Context) error
}

// Namer names a task in pipeline descriptions and reports.
type Namer interface {
	Name() string
}

// BatchProcess runs t over items, using t's own BatchProcess when it has one and
// element-wise Process otherwise. A batch override that changes the number of records
// is rejected.
func BatchProcess(ctx context.Context, t Task, items []interface{}) ([]interface{}, error) {
	bt, ok := t.(BatchTask)
	if !ok {
		out := make([]interface{}, 0, len(items))
		for _, item := range items {
			v, err := t.Process(ctx, item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	out, err := bt.BatchProcess(ctx, items)
	if err != nil {
		return nil, err
	}
	if len(out) != len(items) {
		return nil, PipelineErrorf("", "%s: batch returned %d records for %d inputs", NameOf(t), len(out), len(items))
	}
	return out, nil
}

// Begin calls t.Begin if t implements Beginner.
func Begin(ctx context.Context, t Task) error {
	if b, ok := t.(Beginner); ok {
		return b.Begin(ctx)
	}
	return nil
}

// End calls t.End if t implements Ender.
func End(ctx context.Context, t Task) error {
	if e, ok := t.(Ender); ok {
		return e.End(ctx)
	}
	return nil
}

// Close releases what t holds open after a run failed before End, if t is an io.Closer.
// Closing never finalizes a directory, so the output stays partial.
func Close(t Task) error {
	if c, ok := t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Reduce merges dirs into t if t implements Reducer. Every shard must be complete.
func Reduce(ctx context.Context, t Task, dirs []string) error {
	r, ok := t.(Reducer)
	if !ok || len(dirs) == 0 {
		return nil
	}
	for _, d := range dirs {
		if !IsComplete(d) {
			return PipelineErrorf(d, "shard is not complete")
		}
	}
	return r.Reduce(ctx, dirs)
}

// RunReduce discovers the shard directories under t's directory and reduces them into
// t. Tasks without a directory, or without shards, are left alone.
func RunReduce(ctx context.Context, t Task) error {
	if rr, ok := t.(RunReducer); ok {
		return rr.RunReduce(ctx)
	}
	owner, ok := t.(DirOwner)
	if !ok || owner.Dir() == "" {
		return nil
	}
	if _, ok := t.(Reducer); !ok {
		return nil
	}
	dirs, err := ShardDirs(owner.Dir())
	if err != nil {
		return fmt.Errorf("discover shards of %s: %w", owner.Dir(), err)
	}
	return Reduce(ctx, t, dirs)
}

// NameOf returns the task's Name when it has one, otherwise its type name.
func NameOf(v interface{}) string {
	if n, ok := v.(Namer); ok {
		return n.Name()
	}
	t := reflect.TypeOf(v)
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	if i := strings.IndexByte(name, '['); i > 0 {
		name = name[:i]
	}
	return name
}

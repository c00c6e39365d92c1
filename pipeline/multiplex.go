package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"
)

// MultiplexItem is an ordered mapping from split name to one record per split. It is
// built once per logical record at a branch point and consumed at the join point.
type MultiplexItem struct {
	names  []string
	values map[string]interface{}
}

// NewMultiplexItem returns an empty item.
func NewMultiplexItem() *MultiplexItem {
	return &MultiplexItem{values: make(map[string]interface{})}
}

// Add sets the record for split name. A name added twice keeps its first position.
func (m *MultiplexItem) Add(name string, v interface{}) {
	if _, ok := m.values[name]; !ok {
		m.names = append(m.names, name)
	}
	m.values[name] = v
}

// Get returns the record for split name.
func (m *MultiplexItem) Get(name string) (interface{}, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Names returns the split names in insertion order.
func (m *MultiplexItem) Names() []string {
	return append([]string(nil), m.names...)
}

func (m *MultiplexItem) Len() int { return len(m.names) }

// All iterates over split name and record pairs in insertion order.
func (m *MultiplexItem) All() iter.Seq2[string, interface{}] {
	return func(yield func(string, interface{}) bool) {
		for _, n := range m.names {
			if !yield(n, m.values[n]) {
				return
			}
		}
	}
}

// SplitFactory creates the task for one split. dir is the split's own output directory
// (parent/split), or empty when the multiplex task has no directory.
type SplitFactory func(split, dir string) (Task, error)

// MultiplexTask routes each split of a MultiplexItem through that split's own task and
// fans the results back into a new MultiplexItem.
type MultiplexTask struct {
	order  []string
	tasks  map[string]Task
	dir    string
	config interface{}
}

var (
	_ Task       = (*MultiplexTask)(nil)
	_ BatchTask  = (*MultiplexTask)(nil)
	_ RunReducer = (*MultiplexTask)(nil)
	_ io.Closer  = (*MultiplexTask)(nil)
	_ DirOwner   = (*MultiplexTask)(nil)
)

// NewMultiplexTask wraps pre-built tasks, one per split, in the given split order. The
// composite owns no directory: its children manage their own output.
func NewMultiplexTask(tasks map[string]Task, order []string) (*MultiplexTask, error) {
	if err := validateNames(order); err != nil {
		return nil, err
	}
	if len(tasks) != len(order) {
		return nil, ConfigErrorf("multiplex: %d tasks for splits %s", len(tasks), describeNames(order))
	}
	for _, name := range order {
		if tasks[name] == nil {
			return nil, ConfigErrorf("multiplex: no task for split %q", name)
		}
	}
	return &MultiplexTask{order: append([]string(nil), order...), tasks: tasks}, nil
}

// NewSplitMultiplexTask creates one task per split with create, giving each split the
// output directory dir/<split>, and records the split list in dir's manifest so later
// stages can recover it. config is the snapshot written to dir when the task ends.
// An empty dir builds the same composite without any directory.
func NewSplitMultiplexTask(dir string, splits []string, create SplitFactory, config interface{}) (*MultiplexTask, error) {
	if err := validateNames(splits); err != nil {
		return nil, err
	}
	if dir != "" {
		if IsComplete(dir) {
			return nil, PipelineErrorf(dir, "refusing to write into a complete directory")
		}
		if err := WriteSplitManifest(dir, splits); err != nil {
			return nil, fmt.Errorf("write split manifest: %w", err)
		}
	}
	m := &MultiplexTask{
		order:  append([]string(nil), splits...),
		tasks:  make(map[string]Task, len(splits)),
		dir:    dir,
		config: config,
	}
	for _, split := range splits {
		splitDir := ""
		if dir != "" {
			splitDir = filepath.Join(dir, split)
		}
		t, err := create(split, splitDir)
		if err != nil {
			return nil, fmt.Errorf("multiplex split %q: %w", split, err)
		}
		m.tasks[split] = t
	}
	return m, nil
}

// Splits returns the split names in order.
func (m *MultiplexTask) Splits() []string { return append([]string(nil), m.order...) }

// Task returns the task for split.
func (m *MultiplexTask) Task(split string) (Task, bool) {
	t, ok := m.tasks[split]
	return t, ok
}

// Dir returns the shared parent directory, or empty.
func (m *MultiplexTask) Dir() string { return m.dir }

func (m *MultiplexTask) Name() string {
	return fmt.Sprintf("Multiplex(%s)", NameOf(m.tasks[m.order[0]]))
}

func (m *MultiplexTask) Process(ctx context.Context, item interface{}) (interface{}, error) {
	in, err := m.item(item)
	if err != nil {
		return nil, err
	}
	out := NewMultiplexItem()
	for name, v := range in.All() {
		t, ok := m.tasks[name]
		if !ok {
			return nil, PipelineErrorf(m.dir, "multiplex: no task for split %q", name)
		}
		res, err := t.Process(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("split %q: %w", name, err)
		}
		out.Add(name, res)
	}
	return out, nil
}

// BatchProcess hands every split's records to that split's task as one batch and
// reassembles the items in their original order.
func (m *MultiplexTask) BatchProcess(ctx context.Context, items []interface{}) ([]interface{}, error) {
	ins := make([]*MultiplexItem, len(items))
	values := make(map[string][]interface{})
	for i, item := range items {
		in, err := m.item(item)
		if err != nil {
			return nil, err
		}
		ins[i] = in
		for name, v := range in.All() {
			if _, ok := m.tasks[name]; !ok {
				return nil, PipelineErrorf(m.dir, "multiplex: no task for split %q", name)
			}
			values[name] = append(values[name], v)
		}
	}

	results := make(map[string][]interface{}, len(values))
	for _, name := range m.order {
		if len(values[name]) == 0 {
			continue
		}
		res, err := BatchProcess(ctx, m.tasks[name], values[name])
		if err != nil {
			return nil, fmt.Errorf("split %q: %w", name, err)
		}
		results[name] = res
	}

	outs := make([]interface{}, len(items))
	next := make(map[string]int, len(results))
	for i, in := range ins {
		out := NewMultiplexItem()
		for _, name := range in.names {
			out.Add(name, results[name][next[name]])
			next[name]++
		}
		outs[i] = out
	}
	return outs, nil
}

func (m *MultiplexTask) Begin(ctx context.Context) error {
	for _, name := range m.order {
		if err := Begin(ctx, m.tasks[name]); err != nil {
			return fmt.Errorf("split %q: begin: %w", name, err)
		}
	}
	return nil
}

// End ends every split's task, then finalizes the shared directory.
func (m *MultiplexTask) End(ctx context.Context) error {
	for _, name := range m.order {
		if err := End(ctx, m.tasks[name]); err != nil {
			return fmt.Errorf("split %q: end: %w", name, err)
		}
	}
	if m.dir == "" {
		return nil
	}
	return finalizeDir(m.dir, m.config)
}

// Close closes every split's task. The shared directory is left unfinalized.
func (m *MultiplexTask) Close() error {
	var errs []error
	for _, name := range m.order {
		if err := Close(m.tasks[name]); err != nil {
			errs = append(errs, fmt.Errorf("split %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// RunReduce discovers shards of the shared directory and hands each split the matching
// split subdirectory of every shard.
func (m *MultiplexTask) RunReduce(ctx context.Context) error {
	if m.dir == "" {
		for _, name := range m.order {
			if err := RunReduce(ctx, m.tasks[name]); err != nil {
				return fmt.Errorf("split %q: %w", name, err)
			}
		}
		return nil
	}
	shards, err := ShardDirs(m.dir)
	if err != nil {
		return fmt.Errorf("discover shards of %s: %w", m.dir, err)
	}
	if len(shards) == 0 {
		return nil
	}
	for _, name := range m.order {
		dirs := make([]string, len(shards))
		for i, shard := range shards {
			dirs[i] = filepath.Join(shard, name)
		}
		if err := Reduce(ctx, m.tasks[name], dirs); err != nil {
			return fmt.Errorf("split %q: reduce: %w", name, err)
		}
	}
	return nil
}

func (m *MultiplexTask) item(v interface{}) (*MultiplexItem, error) {
	in, ok := v.(*MultiplexItem)
	if !ok {
		return nil, PipelineErrorf(m.dir, "multiplex: expected *MultiplexItem, got %T", v)
	}
	return in, nil
}

// Branch returns the branch-point task: every record becomes a MultiplexItem holding
// the same record under each split name.
func Branch(splits []string) (Task, error) {
	if err := validateNames(splits); err != nil {
		return nil, err
	}
	splits = append([]string(nil), splits...)
	return Named("Branch", func(ctx context.Context, item interface{}) (interface{}, error) {
		out := NewMultiplexItem()
		for _, s := range splits {
			out.Add(s, item)
		}
		return out, nil
	}), nil
}

// JoinFunc folds the splits of one logical record back into a single record.
type JoinFunc func(ctx context.Context, item *MultiplexItem) (interface{}, error)

// Join returns the join-point task for fn.
func Join(name string, fn JoinFunc) Task {
	return Named(name, func(ctx context.Context, item interface{}) (interface{}, error) {
		in, ok := item.(*MultiplexItem)
		if !ok {
			return nil, PipelineErrorf("", "%s: expected *MultiplexItem, got %T", name, item)
		}
		return fn(ctx, in)
	})
}

// MultiplexSource zips one source per split into a stream of MultiplexItems. All split
// sources must yield the same number of records.
type MultiplexSource struct {
	order   []string
	sources map[string]Source
}

// NewMultiplexSource returns a source over the given per-split sources.
func NewMultiplexSource(sources map[string]Source, order []string) (*MultiplexSource, error) {
	if err := validateNames(order); err != nil {
		return nil, err
	}
	for _, name := range order {
		if sources[name] == nil {
			return nil, ConfigErrorf("multiplex source: no source for split %q", name)
		}
	}
	return &MultiplexSource{order: append([]string(nil), order...), sources: sources}, nil
}

func (s *MultiplexSource) Next(ctx context.Context) (interface{}, error) {
	out := NewMultiplexItem()
	ended := 0
	for _, name := range s.order {
		v, err := s.sources[name].Next(ctx)
		if errors.Is(err, io.EOF) {
			ended++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("split %q: %w", name, err)
		}
		out.Add(name, v)
	}
	switch ended {
	case 0:
		return out, nil
	case len(s.order):
		return nil, io.EOF
	default:
		return nil, PipelineErrorf("", "multiplex source: splits %s have different lengths", describeNames(s.order))
	}
}

// Close closes every split source.
func (s *MultiplexSource) Close() error {
	var errs []error
	for _, name := range s.order {
		if err := closeSource(s.sources[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *MultiplexSource) Name() string {
	return fmt.Sprintf("Multiplex(%s)", NameOf(s.sources[s.order[0]]))
}

package pipeline

import (
	"context"
	"io"
	"time"
)

// TimedTask wraps a task and accumulates the wall-clock time spent in every delegated
// call. It never changes records, ordering or errors.
type TimedTask struct {
	task    Task
	elapsed time.Duration
}

// NewTimedTask wraps t.
func NewTimedTask(t Task) *TimedTask {
	return &TimedTask{task: t}
}

func (t *TimedTask) Process(ctx context.Context, item interface{}) (interface{}, error) {
	defer t.observe(time.Now())
	return t.task.Process(ctx, item)
}

func (t *TimedTask) BatchProcess(ctx context.Context, items []interface{}) ([]interface{}, error) {
	defer t.observe(time.Now())
	return BatchProcess(ctx, t.task, items)
}

func (t *TimedTask) Begin(ctx context.Context) error {
	defer t.observe(time.Now())
	return Begin(ctx, t.task)
}

func (t *TimedTask) End(ctx context.Context) error {
	defer t.observe(time.Now())
	return End(ctx, t.task)
}

// Close closes the wrapped task if it is an io.Closer.
func (t *TimedTask) Close() error { return Close(t.task) }

func (t *TimedTask) Reduce(ctx context.Context, dirs []string) error {
	defer t.observe(time.Now())
	return Reduce(ctx, t.task, dirs)
}

func (t *TimedTask) RunReduce(ctx context.Context) error {
	defer t.observe(time.Now())
	return RunReduce(ctx, t.task)
}

// Dir returns the wrapped task's directory, if it owns one.
func (t *TimedTask) Dir() string {
	if o, ok := t.task.(DirOwner); ok {
		return o.Dir()
	}
	return ""
}

func (t *TimedTask) Name() string { return NameOf(t.task) }

// Unwrap returns the wrapped task.
func (t *TimedTask) Unwrap() Task { return t.task }

// Elapsed is the total time spent in the wrapped task so far.
func (t *TimedTask) Elapsed() time.Duration { return t.elapsed }

func (t *TimedTask) observe(start time.Time) { t.elapsed += time.Since(start) }

// TimedSource wraps a source and accumulates the time spent producing records.
type TimedSource struct {
	src     Source
	elapsed time.Duration
}

// NewTimedSource wraps src.
func NewTimedSource(src Source) *TimedSource {
	return &TimedSource{src: src}
}

func (s *TimedSource) Next(ctx context.Context) (interface{}, error) {
	defer s.observe(time.Now())
	return s.src.Next(ctx)
}

// Close closes the wrapped source if it is an io.Closer.
func (s *TimedSource) Close() error {
	if c, ok := s.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *TimedSource) Name() string { return NameOf(s.src) }

func (s *TimedSource) Elapsed() time.Duration { return s.elapsed }

func (s *TimedSource) observe(start time.Time) { s.elapsed += time.Since(start) }

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("checkpipe/pipeline")

// Observer provides pre/post hooks around a pipeline run so callers can log, export
// metrics or record run history. BeforePipeline is called after the run id is assigned
// and before Begin; AfterPipeline is called when the run finishes, with the error that
// ended it (nil on success).
type Observer interface {
	BeforePipeline(ctx context.Context, runID, name string) error
	AfterPipeline(ctx context.Context, runID string, report Report, err error) error
}

// RunOptions is optional and used to attach an Observer and RunID. If Observer is set
// and RunID is empty, a new UUID is generated for the run.
type RunOptions struct {
	Observer Observer
	RunID    string
}

// Timing is the accumulated time spent in one element of a pipeline.
type Timing struct {
	Name    string
	Elapsed time.Duration
}

// Report summarizes a pipeline run: its description, the number of records pulled
// from the source and the time spent in the source and in each task.
type Report struct {
	Pipeline string
	Count    int
	Timings  []Timing
}

// Runner is implemented by both drivers.
type Runner interface {
	// Begin resets the record count and begins every task in chain order.
	Begin(ctx context.Context) error
	// Run begins, drives the whole input through the chain and ends.
	Run(ctx context.Context, opts *RunOptions) error
	// End ends every task in chain order.
	End(ctx context.Context) error
	// Reduce runs every task's shard reduction in chain order.
	Reduce(ctx context.Context) error
	Count() int
	Report() Report
	String() string
}

// base holds what both drivers share: the timed source, the timed task chain and the
// per-run record count.
type base struct {
	source *TimedSource
	tasks  []*TimedTask
	count  int
}

func newBase(src Source, tasks []Task) base {
	b := base{source: NewTimedSource(src), tasks: make([]*TimedTask, len(tasks))}
	for i, t := range tasks {
		b.tasks[i] = NewTimedTask(t)
	}
	return b
}

func (b *base) Begin(ctx context.Context) error {
	b.count = 0
	for i, t := range b.tasks {
		if err := t.Begin(ctx); err != nil {
			return fmt.Errorf("task %d (%s): begin: %w", i, t.Name(), err)
		}
	}
	return nil
}

func (b *base) End(ctx context.Context) error {
	for i, t := range b.tasks {
		if err := t.End(ctx); err != nil {
			return fmt.Errorf("task %d (%s): end: %w", i, t.Name(), err)
		}
	}
	return nil
}

func (b *base) Reduce(ctx context.Context) error {
	for i, t := range b.tasks {
		if err := t.RunReduce(ctx); err != nil {
			return fmt.Errorf("task %d (%s): reduce: %w", i, t.Name(), err)
		}
	}
	return nil
}

func (b *base) Count() int { return b.count }

func (b *base) Report() Report {
	r := Report{Pipeline: b.String(), Count: b.count}
	r.Timings = append(r.Timings, Timing{Name: b.source.Name(), Elapsed: b.source.Elapsed()})
	for _, t := range b.tasks {
		r.Timings = append(r.Timings, Timing{Name: t.Name(), Elapsed: t.Elapsed()})
	}
	return r
}

// String is the pipeline's identity: the source and task names joined by " | ".
func (b *base) String() string {
	names := make([]string, 0, len(b.tasks)+1)
	names = append(names, b.source.Name())
	for _, t := range b.tasks {
		names = append(names, t.Name())
	}
	return strings.Join(names, " | ")
}

// run wraps loop with observer hooks, tracing and the begin/end lifecycle. End is only
// reached when every record went through the chain, so a failed run never sets a
// completion marker; its tasks are closed instead.
func (b *base) run(ctx context.Context, opts *RunOptions, mode string, loop func(context.Context) error) (err error) {
	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("pipeline", b.String()),
		attribute.String("mode", mode),
	))
	defer func() {
		span.SetAttributes(attribute.Int("count", b.count))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var obs Observer
	var runID string
	if opts != nil && opts.Observer != nil {
		obs = opts.Observer
		runID = opts.RunID
		if runID == "" {
			runID = uuid.New().String()
		}
		if err := obs.BeforePipeline(ctx, runID, b.String()); err != nil {
			return fmt.Errorf("before pipeline: %w", err)
		}
	}

	err = b.drive(ctx, loop)
	if err != nil {
		b.abort()
	}
	if closeErr := b.source.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close source: %w", closeErr)
	}
	if obs != nil {
		if postErr := obs.AfterPipeline(ctx, runID, b.Report(), err); postErr != nil && err == nil {
			// Don't mask the pipeline error.
			err = fmt.Errorf("after pipeline: %w", postErr)
		}
	}
	return err
}

func (b *base) drive(ctx context.Context, loop func(context.Context) error) error {
	if err := b.Begin(ctx); err != nil {
		return err
	}
	if err := loop(ctx); err != nil {
		return err
	}
	return b.End(ctx)
}

// abort closes every task after a failed run. The run error is what callers see.
func (b *base) abort() {
	for _, t := range b.tasks {
		_ = t.Close()
	}
}

// StreamingPipeline pulls one record at a time and pushes it through the whole chain
// before pulling the next.
type StreamingPipeline struct {
	base
}

// NewStreaming returns a streaming pipeline over src and tasks.
func NewStreaming(src Source, tasks []Task) *StreamingPipeline {
	return &StreamingPipeline{base: newBase(src, tasks)}
}

// Run executes the pipeline. Returns the first error; a failing task aborts the run.
func (p *StreamingPipeline) Run(ctx context.Context, opts *RunOptions) error {
	return p.run(ctx, opts, "streaming", p.loop)
}

func (p *StreamingPipeline) loop(ctx context.Context) error {
	for {
		item, err := nextChunk(ctx, p.source, 1)
		if err != nil {
			return fmt.Errorf("source %s: %w", p.source.Name(), err)
		}
		if len(item) == 0 {
			return nil
		}
		v := item[0]
		for i, t := range p.tasks {
			v, err = t.Process(ctx, v)
			if err != nil {
				return fmt.Errorf("task %d (%s): %w", i, t.Name(), err)
			}
		}
		p.count++
	}
}

// BatchPipeline pushes bounded chunks of the input through the chain. Chunk boundaries
// only affect throughput; the output equals the streaming output.
type BatchPipeline struct {
	base
	n int
}

// NewBatch returns a batch pipeline with chunks of n records; n <= 0 processes the
// whole input as a single chunk.
func NewBatch(src Source, tasks []Task, n int) *BatchPipeline {
	return &BatchPipeline{base: newBase(src, tasks), n: n}
}

// ChunkSize returns the configured chunk size (0 for the whole input).
func (p *BatchPipeline) ChunkSize() int {
	if p.n < 0 {
		return 0
	}
	return p.n
}

// Run executes the pipeline. Returns the first error; a failing task aborts the run.
func (p *BatchPipeline) Run(ctx context.Context, opts *RunOptions) error {
	return p.run(ctx, opts, "batch", p.loop)
}

func (p *BatchPipeline) loop(ctx context.Context) error {
	for {
		chunk, err := nextChunk(ctx, p.source, p.n)
		if err != nil {
			return fmt.Errorf("source %s: %w", p.source.Name(), err)
		}
		if len(chunk) == 0 {
			return nil
		}
		p.count += len(chunk)
		for i, t := range p.tasks {
			chunk, err = t.BatchProcess(ctx, chunk)
			if err != nil {
				return fmt.Errorf("task %d (%s): %w", i, t.Name(), err)
			}
		}
		if p.n <= 0 {
			return nil
		}
	}
}

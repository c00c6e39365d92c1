// Package orchestrator runs the stages of a run config in order, skipping stages whose
// output is complete, rerunning stages left partial by an aborted run and resuming a
// stage from its last complete checkpoint.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dcshock/checkpipe/config"
	"github.com/dcshock/checkpipe/logger"
	"github.com/dcshock/checkpipe/pipeline"
)

// Orchestrator drives one run config.
type Orchestrator struct {
	cfg      *config.RunConfig
	reg      *config.Registry
	logger   logger.Logger
	observer pipeline.Observer
	runID    string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithObserver attaches an observer to every stage pipeline.
func WithObserver(obs pipeline.Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithRunID sets the run id shared by every stage. Defaults to a new UUID.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// New validates cfg and returns an orchestrator building tasks from reg.
func New(cfg *config.RunConfig, reg *config.Registry, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || reg == nil {
		return nil, pipeline.ConfigErrorf("orchestrator needs a config and a registry")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{cfg: cfg, reg: reg, logger: logger.NewNoopLogger()}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID == "" {
		o.runID = uuid.New().String()
	}
	return o, nil
}

// RunID returns the id every stage of this orchestrator reports to its observer.
func (o *Orchestrator) RunID() string { return o.runID }

// Plan reports what Run would do with every stage. It only reads the filesystem.
func (o *Orchestrator) Plan(ctx context.Context) ([]StagePlan, error) {
	if err := checkInvariants(o.cfg); err != nil {
		return nil, err
	}
	plans := make([]StagePlan, 0, len(o.cfg.Stages))
	for _, stage := range o.cfg.Stages {
		p, err := o.plan(stage)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func (o *Orchestrator) plan(stage config.StageConfig) (StagePlan, error) {
	p := StagePlan{Stage: stage.Name, Output: o.cfg.Dir(stageOutput(stage)), Action: ActionRun, ResumeFrom: -1}
	if p.Output != "" {
		st, err := pipeline.Status(p.Output)
		if err != nil {
			return p, fmt.Errorf("stage %q: %w", stage.Name, err)
		}
		p.Status = st
		switch st {
		case pipeline.Complete:
			p.Action = ActionSkip
			return p, nil
		case pipeline.Partial:
			p.Action = ActionRerun
		}
	}
	p.ResumeFrom, p.ResumeDir = lastCheckpoint(o.cfg, stage)
	return p, nil
}

// Run executes every stage in order and stops at the first failure. A stage whose
// output is complete is skipped; a partial output is deleted and the stage rebuilt.
// After a stage runs its output must be complete.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := checkInvariants(o.cfg); err != nil {
		return err
	}
	opts := &pipeline.RunOptions{Observer: o.observer, RunID: o.runID}
	for _, stage := range o.cfg.Stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.runStage(ctx, stage, opts); err != nil {
			return fmt.Errorf("stage %q: %w", stage.Name, err)
		}
	}
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage config.StageConfig, opts *pipeline.RunOptions) error {
	p, err := o.plan(stage)
	if err != nil {
		return err
	}
	log := o.logger.With(zap.String("stage", stage.Name), zap.String("output", p.Output))

	switch p.Action {
	case ActionSkip:
		if o.cfg.VerifyChecksums {
			if err := pipeline.VerifyChecksum(p.Output); err != nil {
				return err
			}
		}
		log.Info("stage output complete, skipping", zap.Stringer("action", p.Action))
		return nil
	case ActionRerun:
		log.Warn("stage output incomplete, rerunning", zap.Stringer("action", p.Action))
		if err := pipeline.DeleteDir(p.Output); err != nil {
			return err
		}
	default:
		log.Info("running stage", zap.Stringer("action", p.Action))
	}

	runner, err := o.buildStage(stage, false)
	if err != nil {
		return err
	}
	log.Debug("built pipeline", zap.String("pipeline", runner.String()), zap.Int("resume", p.ResumeFrom))
	if err := runner.Run(ctx, opts); err != nil {
		return err
	}
	if p.Output != "" && !pipeline.IsComplete(p.Output) {
		return pipeline.PipelineErrorf(p.Output, "stage finished without completing its output")
	}
	log.Info("stage finished", zap.Int("count", runner.Count()))
	return nil
}

// Reduce merges the shard directories written by shard jobs into each stage's
// directories. Stages whose output is already complete, or has no shard directories
// yet, are skipped, so a reduce can be repeated. Shard directories are never deleted.
func (o *Orchestrator) Reduce(ctx context.Context) error {
	if o.cfg.Part != nil {
		return pipeline.ConfigErrorf("reduce merges every shard and takes no part")
	}
	for _, stage := range o.cfg.Stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.reduceStage(ctx, stage); err != nil {
			return fmt.Errorf("stage %q: %w", stage.Name, err)
		}
	}
	return nil
}

func (o *Orchestrator) reduceStage(ctx context.Context, stage config.StageConfig) error {
	out := o.cfg.Dir(stageOutput(stage))
	log := o.logger.With(zap.String("stage", stage.Name), zap.String("output", out))
	if out != "" && pipeline.IsComplete(out) {
		log.Info("stage output complete, skipping reduce")
		return nil
	}
	if out != "" {
		// End finalizes every directory of the chain; without shards they would be empty.
		shards, err := pipeline.ShardDirs(out)
		if err != nil {
			return fmt.Errorf("discover shards of %s: %w", out, err)
		}
		if len(shards) == 0 {
			log.Warn("no shards to reduce, skipping")
			return nil
		}
	}

	runner, err := o.buildStage(stage, true)
	if err != nil {
		return err
	}
	log.Info("reducing stage", zap.Stringer("action", ActionReduce), zap.String("pipeline", runner.String()))
	if err := runner.Begin(ctx); err != nil {
		return err
	}
	if err := runner.Reduce(ctx); err != nil {
		return err
	}
	return runner.End(ctx)
}

package orchestrator

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/dcshock/checkpipe/config"
	"github.com/dcshock/checkpipe/pipeline"
)

// buildStage wires the runner for one stage. The source is the stage input, or the
// reader of the last complete checkpoint, in which case every task up to and
// including the checkpointed one is dropped. Incomplete directories the chain will
// write are deleted first unless reducing, where they hold the shards and the source
// is never read.
func (o *Orchestrator) buildStage(stage config.StageConfig, reducing bool) (runner pipeline.Runner, err error) {
	resume, resumeDir := lastCheckpoint(o.cfg, stage)

	var src pipeline.Source
	var splits []string
	switch {
	case reducing:
		// Reduction merges shard directories and never reads the input.
		src = pipeline.NewSliceSource(stage.Source.Type, nil)
		if resume >= 0 {
			splits = splitsAfter(o.reg, stage.Tasks[:resume+1])
		}
	case resume >= 0:
		if o.cfg.VerifyChecksums {
			if err := pipeline.VerifyChecksum(resumeDir); err != nil {
				return nil, err
			}
		}
		ref := stage.Tasks[resume]
		src, splits, err = config.BuildReader(o.reg, ref.Format, resumeDir)
		if err != nil {
			return nil, fmt.Errorf("resume from %s: %w", resumeDir, err)
		}
		if want := splitsAfter(o.reg, stage.Tasks[:resume+1]); !sameSplits(want, splits) {
			closeSource(src)
			return nil, pipeline.ConfigErrorf("checkpoint %s holds splits %v, config expects %v", resumeDir, splits, want)
		}
		o.logger.Info("resuming from checkpoint",
			zap.String("stage", stage.Name),
			zap.String("dir", resumeDir),
			zap.Int("skipped_tasks", resume+1))
	default:
		src, err = config.BuildSource(o.reg, o.cfg, stage)
		if err != nil {
			return nil, err
		}
	}
	defer func() {
		if err != nil {
			closeSource(src)
		}
	}()

	var tasks []pipeline.Task
	for i := resume + 1; i < len(stage.Tasks); i++ {
		ref := stage.Tasks[i]
		artifact := o.cfg.Artifact(stage, i+1)

		join := o.reg.IsJoin(ref.Type)
		switch {
		case join:
			if splits == nil {
				return nil, pipeline.ConfigErrorf("task %d (%s): join without multiplexed input", i, ref.Type)
			}
			if len(ref.Splits) > 0 {
				return nil, pipeline.ConfigErrorf("task %d (%s): a join takes no splits", i, ref.Type)
			}
		case len(ref.Splits) > 0:
			if splits == nil {
				branch, err := pipeline.Branch(ref.Splits)
				if err != nil {
					return nil, fmt.Errorf("task %d (%s): %w", i, ref.Type, err)
				}
				tasks = append(tasks, branch)
			} else if !sameSplits(splits, ref.Splits) {
				return nil, pipeline.ConfigErrorf("task %d (%s): splits %v do not match incoming splits %v", i, ref.Type, ref.Splits, splits)
			}
		default:
			if splits != nil {
				return nil, pipeline.ConfigErrorf("task %d (%s): receives records multiplexed over %v; give it splits or use a join", i, ref.Type, splits)
			}
		}

		outDir := o.cfg.Dir(ref.Output)
		if err := o.prepareDir(outDir, reducing); err != nil {
			return nil, fmt.Errorf("task %d (%s): %w", i, ref.Type, err)
		}
		t, err := config.BuildTask(o.reg, ref, outDir, artifact)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		tasks = append(tasks, t)

		if join {
			splits = nil
		} else if len(ref.Splits) > 0 {
			splits = ref.Splits
		}

		if ref.Save != "" {
			saveDir := o.cfg.Dir(ref.Save)
			if err := o.prepareDir(saveDir, reducing); err != nil {
				return nil, fmt.Errorf("task %d (%s): %w", i, ref.Type, err)
			}
			w, err := config.BuildWriter(o.reg, ref.Format, saveDir, splits, artifact)
			if err != nil {
				return nil, fmt.Errorf("task %d (%s): checkpoint: %w", i, ref.Type, err)
			}
			tasks = append(tasks, w)
		}
	}

	if stage.Mode == config.ModeBatch {
		return pipeline.NewBatch(src, tasks, stage.ChunkSize), nil
	}
	return pipeline.NewStreaming(src, tasks), nil
}

// prepareDir makes sure a directory the chain is about to write is not complete, and
// clears what an aborted run left in it.
func (o *Orchestrator) prepareDir(dir string, reducing bool) error {
	if dir == "" {
		return nil
	}
	st, err := pipeline.Status(dir)
	if err != nil {
		return err
	}
	switch st {
	case pipeline.Complete:
		return pipeline.PipelineErrorf(dir, "refusing to write into a complete directory")
	case pipeline.Partial:
		if reducing {
			return nil
		}
		o.logger.Warn("deleting incomplete directory", zap.String("dir", dir))
		return pipeline.DeleteDir(dir)
	}
	return nil
}

func closeSource(src pipeline.Source) {
	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
	}
}

package orchestrator

import (
	"slices"

	"github.com/dcshock/checkpipe/config"
	"github.com/dcshock/checkpipe/pipeline"
)

// Action is what the orchestrator does with a stage.
type Action int

const (
	// ActionSkip: the stage output is complete; nothing is built.
	ActionSkip Action = iota
	// ActionRun: the stage output is absent; the stage runs.
	ActionRun
	// ActionRerun: the stage output is partial; it is deleted and the stage runs.
	ActionRerun
	// ActionReduce: shards under the stage's directories are merged.
	ActionReduce
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionRun:
		return "run"
	case ActionRerun:
		return "rerun"
	case ActionReduce:
		return "reduce"
	default:
		return "unknown"
	}
}

// StagePlan describes what a run does with one stage.
type StagePlan struct {
	Stage  string
	Output string
	Status pipeline.DirStatus
	Action Action

	// ResumeFrom is the index of the task whose complete checkpoint replaces the
	// stage source, or -1.
	ResumeFrom int
	ResumeDir  string
}

// stageOutput is the directory whose completeness decides whether a stage is skipped:
// the explicit output, else the last task's output or checkpoint. Empty when the stage
// leaves nothing behind.
func stageOutput(stage config.StageConfig) string {
	if stage.Output != "" {
		return stage.Output
	}
	for i := len(stage.Tasks) - 1; i >= 0; i-- {
		if dir := stage.Tasks[i].OutputDir(); dir != "" {
			return dir
		}
	}
	return ""
}

// lastCheckpoint returns the index of the last task whose checkpoint is complete, or -1.
func lastCheckpoint(cfg *config.RunConfig, stage config.StageConfig) (int, string) {
	for i := len(stage.Tasks) - 1; i >= 0; i-- {
		t := stage.Tasks[i]
		if t.Save == "" {
			continue
		}
		if dir := cfg.Dir(t.Save); pipeline.IsComplete(dir) {
			return i, dir
		}
	}
	return -1, ""
}

// splitsAfter returns the splits of the records leaving tasks, nil when they are not
// multiplexed.
func splitsAfter(reg *config.Registry, tasks []config.TaskRef) []string {
	var splits []string
	for _, t := range tasks {
		switch {
		case reg.IsJoin(t.Type):
			splits = nil
		case len(t.Splits) > 0:
			splits = t.Splits
		}
	}
	return splits
}

// checkInvariants enforces that a complete directory never depends on an incomplete
// one. A violation means an earlier run was tampered with or the config changed, and
// nothing may run.
func checkInvariants(cfg *config.RunConfig) error {
	for _, stage := range cfg.Stages {
		for _, t := range stage.Tasks {
			if len(t.DependsOn) == 0 {
				continue
			}
			own := cfg.Dir(t.OutputDir())
			if !pipeline.IsComplete(own) {
				continue
			}
			for _, dep := range t.DependsOn {
				if depDir := cfg.Dir(dep); !pipeline.IsComplete(depDir) {
					return pipeline.ConfigErrorf("stage %q task %q: %s is complete but its dependency %s is not", stage.Name, t.Type, own, depDir)
				}
			}
		}
	}
	return nil
}

func sameSplits(a, b []string) bool {
	return slices.Equal(a, b)
}

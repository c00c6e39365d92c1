package config

import (
	"fmt"
	"io"
	"path/filepath"

	"dario.cat/mergo"

	"github.com/dcshock/checkpipe/pipeline"
)

// BuildSource builds the input source of stage.
func BuildSource(reg *Registry, cfg *RunConfig, stage StageConfig) (pipeline.Source, error) {
	f, err := reg.Source(stage.Source.Type)
	if err != nil {
		return nil, err
	}
	src, err := f(SourceSpec{
		Type:    stage.Source.Type,
		Path:    cfg.InputPath(stage.Source.Path),
		Options: stage.Source.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", stage.Source.Type, err)
	}
	return src, nil
}

// BuildTask builds the task for ref writing into dir (empty for none). A task with
// splits becomes a MultiplexTask with one instance per split: each instance gets a deep
// copy of ref's options with that split's overrides merged in, and the directory
// dir/<split>.
func BuildTask(reg *Registry, ref TaskRef, dir string, artifact ArtifactConfig) (pipeline.Task, error) {
	f, _, err := reg.Task(ref.Type)
	if err != nil {
		return nil, err
	}
	if len(ref.Splits) == 0 {
		t, err := f(TaskSpec{Type: ref.Type, Dir: dir, Options: ref.Options, Artifact: artifact})
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", ref.Type, err)
		}
		return t, nil
	}

	create := func(split, splitDir string) (pipeline.Task, error) {
		opts, err := SplitOptions(ref, split)
		if err != nil {
			return nil, err
		}
		a := artifact
		a.Split = split
		return f(TaskSpec{Type: ref.Type, Split: split, Dir: splitDir, Options: opts, Artifact: a})
	}
	t, err := pipeline.NewSplitMultiplexTask(dir, ref.Splits, create, artifact)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", ref.Type, err)
	}
	return t, nil
}

// SplitOptions returns a copy of ref's options with the overrides of split merged in.
func SplitOptions(ref TaskRef, split string) (map[string]interface{}, error) {
	cp, err := ref.Clone()
	if err != nil {
		return nil, pipeline.ConfigErrorf("copy task %q: %v", ref.Type, err)
	}
	opts := cp.Options
	if opts == nil {
		opts = make(map[string]interface{})
	}
	if override := cp.SplitOptions[split]; len(override) > 0 {
		if err := mergo.Merge(&opts, override, mergo.WithOverride); err != nil {
			return nil, pipeline.ConfigErrorf("task %q split %q: merge options: %v", ref.Type, split, err)
		}
	}
	return opts, nil
}

// BuildWriter returns the checkpoint writer for dir. With splits the writer is
// multiplexed: one codec writer per split in dir/<split>, plus the split manifest.
func BuildWriter(reg *Registry, format, dir string, splits []string, artifact ArtifactConfig) (pipeline.Task, error) {
	codec, err := reg.Codec(format)
	if err != nil {
		return nil, err
	}
	if len(splits) == 0 {
		return codec.Writer(dir, artifact)
	}
	return pipeline.NewSplitMultiplexTask(dir, splits, func(split, splitDir string) (pipeline.Task, error) {
		a := artifact
		a.Split = split
		return codec.Writer(splitDir, a)
	}, artifact)
}

// BuildReader returns a source over the checkpoint in dir. A multiplexed checkpoint is
// read back as MultiplexItems; splits is its split list in manifest order, or the
// sorted split subdirectories when the checkpoint has no manifest.
func BuildReader(reg *Registry, format, dir string) (src pipeline.Source, splits []string, err error) {
	codec, err := reg.Codec(format)
	if err != nil {
		return nil, nil, err
	}
	splits, ok, err := pipeline.ReadSplits(dir)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		// Without a manifest, split subdirectories mark a multiplexed checkpoint.
		splits, err = pipeline.ScanSplits(dir)
		if err != nil {
			return nil, nil, err
		}
		if len(splits) == 0 {
			src, err := codec.Reader(dir)
			return src, nil, err
		}
	}
	sources := make(map[string]pipeline.Source, len(splits))
	for _, split := range splits {
		s, err := codec.Reader(filepath.Join(dir, split))
		if err != nil {
			closeAll(sources)
			return nil, nil, fmt.Errorf("split %q: %w", split, err)
		}
		sources[split] = s
	}
	ms, err := pipeline.NewMultiplexSource(sources, splits)
	if err != nil {
		closeAll(sources)
		return nil, nil, err
	}
	return ms, splits, nil
}

func closeAll(sources map[string]pipeline.Source) {
	for _, s := range sources {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

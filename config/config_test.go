package config

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/dcshock/checkpipe/pipeline"
)

func TestParseRunConfig_TaskForms(t *testing.T) {
	cfg, err := ParseRunConfig([]byte(`
path: runs/demo
stages:
  - name: ingest
    source: {type: list, path: in.txt}
    tasks:
      - upper
      - type: prefix
        save: expanded
        splits: [en, fr]
        options: {prefix: "q:"}
        split_options: {fr: {prefix: "fr:"}}
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	st := cfg.Stages[0]
	require.Equal(t, "upper", st.Tasks[0].Type)
	want := TaskRef{
		Type:         "prefix",
		Save:         "expanded",
		Format:       "jsonl",
		Splits:       []string{"en", "fr"},
		Options:      map[string]interface{}{"prefix": "q:"},
		SplitOptions: map[string]map[string]interface{}{"fr": {"prefix": "fr:"}},
	}
	if diff := cmp.Diff(want, st.Tasks[1]); diff != "" {
		t.Errorf("task ref mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRunConfig_Defaults(t *testing.T) {
	cfg, err := ParseRunConfig([]byte(`
stages:
  - name: s
    tasks: [upper]
`))
	require.NoError(t, err)
	require.Equal(t, ".", cfg.Path)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "text", cfg.Log.Format)
	require.Equal(t, []string{"log"}, cfg.Observers)
	require.Equal(t, ModeStreaming, cfg.Stages[0].Mode)
	require.Equal(t, "jsonl", cfg.Stages[0].Source.Type)
}

func TestParseRunConfig_KeepsExplicitValues(t *testing.T) {
	cfg, err := ParseRunConfig([]byte(`
path: /data/run
log: {level: debug, format: json}
observers: [metrics]
stages:
  - name: s
    mode: batch
    chunk_size: 3
    source: {type: list}
    tasks: [upper]
`))
	require.NoError(t, err)
	require.Equal(t, "/data/run", cfg.Path)
	require.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
	require.Equal(t, []string{"metrics"}, cfg.Observers)
	require.Equal(t, ModeBatch, cfg.Stages[0].Mode)
	require.Equal(t, 3, cfg.Stages[0].ChunkSize)
	require.Equal(t, "list", cfg.Stages[0].Source.Type)
}

func TestParseRunConfig_Malformed(t *testing.T) {
	_, err := ParseRunConfig([]byte("stages: [\n"))
	require.ErrorIs(t, err, pipeline.ErrConfig)
}

func TestValidate(t *testing.T) {
	tests := map[string]string{
		"no stages": `path: x`,
		"no name": `
stages:
  - tasks: [upper]`,
		"duplicate stage": `
stages:
  - {name: a, tasks: [upper]}
  - {name: a, tasks: [upper]}`,
		"bad mode": `
stages:
  - {name: a, mode: parallel, tasks: [upper]}`,
		"negative chunk": `
stages:
  - {name: a, chunk_size: -1, tasks: [upper]}`,
		"no tasks": `
stages:
  - {name: a}`,
		"duplicate split": `
stages:
  - name: a
    tasks: [{type: upper, splits: [x, x]}]`,
		"unknown split option": `
stages:
  - name: a
    tasks: [{type: upper, splits: [x], split_options: {y: {k: v}}}]`,
		"depends without dir": `
stages:
  - name: a
    tasks: [{type: upper, depends_on: [other]}]`,
		"save equals output": `
stages:
  - name: a
    tasks: [{type: upper, save: d, output: d}]`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := ParseRunConfig([]byte(doc))
			require.NoError(t, err)
			require.ErrorIs(t, cfg.Validate(), pipeline.ErrConfig)
		})
	}
}

func TestLoad_ResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
path: out
stages:
  - name: s
    source: {type: list, path: "in-{part}.txt"}
    tasks: [{type: upper, save: up}]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "out"), cfg.RunPath())
	require.Equal(t, filepath.Join(dir, "out", "up"), cfg.Dir("up"))
	require.Equal(t, "/abs/up", cfg.Dir("/abs/up"))
	require.Empty(t, cfg.Dir(""))

	cfg.SetPart(2)
	require.Equal(t, filepath.Join(dir, "out", "up", "part2"), cfg.Dir("up"))
	require.Equal(t, filepath.Join(dir, "in-2.txt"), cfg.InputPath("in-{part}.txt"))
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.ErrorIs(t, err, pipeline.ErrConfig)
}

func TestTaskRef_Clone(t *testing.T) {
	ref := TaskRef{Type: "prefix", Options: map[string]interface{}{"prefix": "a"}}
	cp, err := ref.Clone()
	require.NoError(t, err)
	cp.Options["prefix"] = "b"
	require.Equal(t, "a", ref.Options["prefix"])
}

func TestArtifact(t *testing.T) {
	cfg, err := ParseRunConfig([]byte(`
stages:
  - name: s
    tasks: [a, b, c]
`))
	require.NoError(t, err)
	a := cfg.Artifact(cfg.Stages[0], 2)
	require.Equal(t, "s", a.Stage)
	require.Len(t, a.Tasks, 2)
	require.Equal(t, "b", a.Tasks[1].Type)
}

// Test fixtures: string records, an upper-casing task, a prefix task with options and
// a line codec.

type prefixOptions struct {
	Prefix string `yaml:"prefix"`
}

func testRegistry() *Registry {
	reg := NewRegistry()
	reg.RegisterTask("upper", func(spec TaskSpec) (pipeline.Task, error) {
		return pipeline.Func("upper", func(ctx context.Context, s string) (string, error) {
			return strings.ToUpper(s), nil
		}), nil
	})
	reg.RegisterTask("prefix", func(spec TaskSpec) (pipeline.Task, error) {
		var opts prefixOptions
		if err := spec.Decode(&opts); err != nil {
			return nil, err
		}
		return pipeline.Func("prefix", func(ctx context.Context, s string) (string, error) {
			return opts.Prefix + s, nil
		}), nil
	})
	reg.RegisterJoin("concat", func(spec TaskSpec) (pipeline.Task, error) {
		return pipeline.Join("concat", func(ctx context.Context, item *pipeline.MultiplexItem) (interface{}, error) {
			var parts []string
			for _, v := range item.All() {
				parts = append(parts, v.(string))
			}
			return strings.Join(parts, ","), nil
		}), nil
	})
	reg.RegisterSource("list", func(spec SourceSpec) (pipeline.Source, error) {
		return pipeline.FromSlice("list", strings.Split(spec.Path, ",")), nil
	})
	reg.RegisterCodec("lines", lineCodec{})
	return reg
}

type lineCodec struct{}

type lineWriter struct {
	*pipeline.Artifact
	lines []string
}

func (w *lineWriter) Process(ctx context.Context, item interface{}) (interface{}, error) {
	w.lines = append(w.lines, fmt.Sprint(item))
	return item, nil
}

func (w *lineWriter) End(ctx context.Context) error {
	data := strings.Join(w.lines, "\n")
	if err := os.WriteFile(w.Path("lines.txt"), []byte(data), 0o644); err != nil {
		return err
	}
	return w.Finalize()
}

func (lineCodec) Writer(dir string, artifact interface{}) (pipeline.Task, error) {
	a, err := pipeline.NewArtifact(dir, artifact)
	if err != nil {
		return nil, err
	}
	return &lineWriter{Artifact: a}, nil
}

func (lineCodec) Reader(dir string) (pipeline.Source, error) {
	f, err := os.Open(filepath.Join(dir, "lines.txt"))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return pipeline.FromSlice(dir, lines), sc.Err()
}

func TestRegistry(t *testing.T) {
	reg := testRegistry()
	require.Equal(t, []string{"concat", "prefix", "upper"}, reg.Names())
	require.True(t, reg.IsJoin("concat"))
	require.False(t, reg.IsJoin("upper"))

	_, _, err := reg.Task("missing")
	require.ErrorIs(t, err, pipeline.ErrConfig)
	_, err = reg.Source("missing")
	require.ErrorIs(t, err, pipeline.ErrConfig)
	_, err = reg.Codec("missing")
	require.ErrorIs(t, err, pipeline.ErrConfig)
}

func TestTaskSpec_DecodeRejectsUnknownOptions(t *testing.T) {
	var opts prefixOptions
	err := TaskSpec{Options: map[string]interface{}{"prefx": "a"}}.Decode(&opts)
	require.ErrorIs(t, err, pipeline.ErrConfig)
}

func TestBuildTask_Splits(t *testing.T) {
	reg := testRegistry()
	ref := TaskRef{
		Type:         "prefix",
		Splits:       []string{"en", "fr"},
		Options:      map[string]interface{}{"prefix": "q:"},
		SplitOptions: map[string]map[string]interface{}{"fr": {"prefix": "fr:"}},
	}
	task, err := BuildTask(reg, ref, "", ArtifactConfig{Stage: "s"})
	require.NoError(t, err)

	ctx := context.Background()
	branch, err := pipeline.Branch(ref.Splits)
	require.NoError(t, err)
	item, err := branch.Process(ctx, "x")
	require.NoError(t, err)
	out, err := task.Process(ctx, item)
	require.NoError(t, err)

	m := out.(*pipeline.MultiplexItem)
	en, _ := m.Get("en")
	fr, _ := m.Get("fr")
	require.Equal(t, "q:x", en)
	require.Equal(t, "fr:x", fr)
	require.Equal(t, map[string]interface{}{"prefix": "q:"}, ref.Options)
}

func TestBuildTask_Unknown(t *testing.T) {
	_, err := BuildTask(testRegistry(), TaskRef{Type: "nope"}, "", ArtifactConfig{})
	require.ErrorIs(t, err, pipeline.ErrConfig)
}

func TestBuildWriterReader_Multiplexed(t *testing.T) {
	reg := testRegistry()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ckpt")
	splits := []string{"b", "a"}

	w, err := BuildWriter(reg, "lines", dir, splits, ArtifactConfig{Stage: "s"})
	require.NoError(t, err)
	branch, err := pipeline.Branch(splits)
	require.NoError(t, err)
	p := pipeline.NewStreaming(pipeline.FromSlice("in", []string{"1", "2"}), []pipeline.Task{branch, w})
	require.NoError(t, p.Run(ctx, nil))
	require.True(t, pipeline.IsComplete(dir))

	src, gotSplits, err := BuildReader(reg, "lines", dir)
	require.NoError(t, err)
	require.Equal(t, splits, gotSplits)
	items, err := pipeline.Collect(ctx, src)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, splits, items[0].(*pipeline.MultiplexItem).Names())

	snapshot, err := os.ReadFile(filepath.Join(dir, "a", pipeline.ConfigFile))
	require.NoError(t, err)
	require.Contains(t, string(snapshot), "split: a")
}

func TestBuildReader_ScansSplitsWithoutManifest(t *testing.T) {
	reg := testRegistry()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ckpt")
	w, err := BuildWriter(reg, "lines", dir, []string{"fr", "en"}, ArtifactConfig{})
	require.NoError(t, err)
	branch, err := pipeline.Branch([]string{"fr", "en"})
	require.NoError(t, err)
	require.NoError(t, pipeline.NewStreaming(pipeline.FromSlice("in", []string{"x"}), []pipeline.Task{branch, w}).Run(ctx, nil))
	require.NoError(t, os.Remove(filepath.Join(dir, pipeline.SplitManifestFile)))

	src, splits, err := BuildReader(reg, "lines", dir)
	require.NoError(t, err)
	require.Equal(t, []string{"en", "fr"}, splits)
	items, err := pipeline.Collect(ctx, src)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, []string{"en", "fr"}, items[0].(*pipeline.MultiplexItem).Names())
}

func TestBuildReader_Plain(t *testing.T) {
	reg := testRegistry()
	dir := filepath.Join(t.TempDir(), "ckpt")
	w, err := BuildWriter(reg, "lines", dir, nil, ArtifactConfig{})
	require.NoError(t, err)
	require.NoError(t, pipeline.NewStreaming(pipeline.FromSlice("in", []string{"x"}), []pipeline.Task{w}).Run(context.Background(), nil))

	src, splits, err := BuildReader(reg, "lines", dir)
	require.NoError(t, err)
	require.Nil(t, splits)
	items, err := pipeline.Collect(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, []interface{}{"x"}, items)
}

func TestBuildSource(t *testing.T) {
	reg := testRegistry()
	cfg := &RunConfig{}
	src, err := BuildSource(reg, cfg, StageConfig{Source: SourceRef{Type: "list", Path: "a,b"}})
	require.NoError(t, err)
	items, err := pipeline.Collect(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, []interface{}{"a", "b"}, items)
}

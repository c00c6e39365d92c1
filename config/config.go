package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/dcshock/checkpipe/pipeline"
)

// Stage execution modes.
const (
	ModeStreaming = "streaming"
	ModeBatch     = "batch"
)

// RunConfig is the root structure of a run definition (e.g. from YAML).
type RunConfig struct {
	// Path is the run directory. Relative task outputs resolve against it.
	Path string `yaml:"path"`

	Log LogConfig `yaml:"log"`

	// Observers names the run observers to attach: log, metrics, ledger.
	Observers []string `yaml:"observers"`

	// MetricsFile, when set, receives the run metrics in Prometheus text format.
	MetricsFile string `yaml:"metrics_file"`

	// VerifyChecksums recomputes the content checksum of every complete directory
	// before it is skipped or read back.
	VerifyChecksums bool `yaml:"verify_checksums"`

	Stages []StageConfig `yaml:"stages"`

	// Part, when set, makes every output directory <dir>/part<N> for shard jobs.
	Part *int `yaml:"part,omitempty"`

	// base is the directory of the config file; relative Path and inputs resolve
	// against it.
	base string
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SourceRef selects the input of a stage.
//
//	source: {type: jsonl, path: "data/docs-{part}.jsonl"}
//
// "{part}" in Path is replaced by the shard number of a --part run.
type SourceRef struct {
	Type    string                 `yaml:"type"`
	Path    string                 `yaml:"path"`
	Options map[string]interface{} `yaml:"options,omitempty"`
}

// StageConfig is one named stage: a source and the chain of tasks it feeds.
type StageConfig struct {
	Name   string    `yaml:"name"`
	Source SourceRef `yaml:"source"`

	// Mode is "streaming" (default) or "batch".
	Mode string `yaml:"mode"`

	// ChunkSize bounds batch chunks; 0 processes the whole input as one chunk.
	ChunkSize int `yaml:"chunk_size"`

	// Output overrides the stage's output directory, which otherwise is the last
	// task's output or save directory.
	Output string `yaml:"output,omitempty"`

	Tasks []TaskRef `yaml:"tasks"`
}

// TaskRef is a single task entry: either a plain type name or type + options.
// In YAML, a task can be written as:
//   - normalize
//   - type: prefix
//     splits: [en, fr]
//     options: {prefix: "q:"}
//     split_options: {fr: {prefix: "fr:"}}
//     save: expanded
type TaskRef struct {
	Type string `yaml:"type"`

	// Save checkpoints the task's output records to this directory with the codec
	// named by Format.
	Save   string `yaml:"save,omitempty"`
	Format string `yaml:"format,omitempty"`

	// Output is the directory the task itself writes (tasks embedding an artifact).
	Output string `yaml:"output,omitempty"`

	// DependsOn lists directories that must be complete whenever Output is.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Splits multiplexes the task: one instance per split, each with its own
	// directory <output>/<split>.
	Splits       []string                          `yaml:"splits,omitempty"`
	SplitOptions map[string]map[string]interface{} `yaml:"split_options,omitempty"`

	Options map[string]interface{} `yaml:"options,omitempty"`
}

// UnmarshalYAML allows a task to be a string (type only) or a struct.
func (t *TaskRef) UnmarshalYAML(value *yaml.Node) error {
	var typeOnly string
	if err := value.Decode(&typeOnly); err == nil {
		t.Type = typeOnly
		return nil
	}
	type raw TaskRef
	return value.Decode((*raw)(t))
}

// Clone returns a deep copy of t.
func (t TaskRef) Clone() (TaskRef, error) {
	data, err := yaml.Marshal(t)
	if err != nil {
		return TaskRef{}, err
	}
	var out TaskRef
	if err := yaml.Unmarshal(data, &out); err != nil {
		return TaskRef{}, err
	}
	return out, nil
}

// OutputDir is the directory the task leaves behind: its own output, else its
// checkpoint.
func (t TaskRef) OutputDir() string {
	if t.Output != "" {
		return t.Output
	}
	return t.Save
}

var defaultRunConfig = RunConfig{
	Path:      ".",
	Log:       LogConfig{Level: "info", Format: "text"},
	Observers: []string{"log"},
}

var defaultStage = StageConfig{
	Mode:   ModeStreaming,
	Source: SourceRef{Type: "jsonl"},
}

const defaultFormat = "jsonl"

// ParseRunConfig parses YAML bytes into a RunConfig and applies defaults. Relative
// paths resolve against the working directory.
func ParseRunConfig(data []byte) (*RunConfig, error) {
	var cfg RunConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, pipeline.ConfigErrorf("parse run config: %v", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and validates the run config at path. Relative paths in the file resolve
// against the file's directory.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeline.ConfigErrorf("read run config: %v", err)
	}
	cfg, err := ParseRunConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.base = filepath.Dir(path)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *RunConfig) applyDefaults() error {
	if err := mergo.Merge(c, defaultRunConfig); err != nil {
		return pipeline.ConfigErrorf("apply defaults: %v", err)
	}
	for i := range c.Stages {
		if err := mergo.Merge(&c.Stages[i], defaultStage); err != nil {
			return pipeline.ConfigErrorf("stage %d: apply defaults: %v", i, err)
		}
		for j := range c.Stages[i].Tasks {
			t := &c.Stages[i].Tasks[j]
			if t.Save != "" && t.Format == "" {
				t.Format = defaultFormat
			}
		}
	}
	return nil
}

// Validate reports the first structural problem in the config as a ConfigError.
func (c *RunConfig) Validate() error {
	if len(c.Stages) == 0 {
		return pipeline.ConfigErrorf("no stages")
	}
	if c.Part != nil && *c.Part < 0 {
		return pipeline.ConfigErrorf("part must not be negative, got %d", *c.Part)
	}
	seen := make(map[string]struct{}, len(c.Stages))
	for i, st := range c.Stages {
		if st.Name == "" {
			return pipeline.ConfigErrorf("stage %d: name required", i)
		}
		if _, dup := seen[st.Name]; dup {
			return pipeline.ConfigErrorf("duplicate stage name %q", st.Name)
		}
		seen[st.Name] = struct{}{}
		if err := st.validate(); err != nil {
			return fmt.Errorf("stage %q: %w", st.Name, err)
		}
	}
	return nil
}

func (s StageConfig) validate() error {
	switch s.Mode {
	case ModeStreaming, ModeBatch:
	default:
		return pipeline.ConfigErrorf("mode %q not supported (use %q or %q)", s.Mode, ModeStreaming, ModeBatch)
	}
	if s.ChunkSize < 0 {
		return pipeline.ConfigErrorf("chunk_size must not be negative, got %d", s.ChunkSize)
	}
	if s.Source.Type == "" {
		return pipeline.ConfigErrorf("source type required")
	}
	if len(s.Tasks) == 0 {
		return pipeline.ConfigErrorf("no tasks")
	}
	for i, t := range s.Tasks {
		if t.Type == "" {
			return pipeline.ConfigErrorf("task %d: type required", i)
		}
		if t.Save != "" && t.Save == t.Output {
			return pipeline.ConfigErrorf("task %d (%s): save and output share directory %q", i, t.Type, t.Save)
		}
		if len(t.DependsOn) > 0 && t.OutputDir() == "" {
			return pipeline.ConfigErrorf("task %d (%s): depends_on requires output or save", i, t.Type)
		}
		splits := make(map[string]struct{}, len(t.Splits))
		for _, sp := range t.Splits {
			if sp == "" || strings.ContainsAny(sp, `/\`) {
				return pipeline.ConfigErrorf("task %d (%s): invalid split name %q", i, t.Type, sp)
			}
			if _, dup := splits[sp]; dup {
				return pipeline.ConfigErrorf("task %d (%s): duplicate split %q", i, t.Type, sp)
			}
			splits[sp] = struct{}{}
		}
		for sp := range t.SplitOptions {
			if _, ok := splits[sp]; !ok {
				return pipeline.ConfigErrorf("task %d (%s): split_options for unknown split %q", i, t.Type, sp)
			}
		}
	}
	return nil
}

// Dir resolves a task or stage directory: relative to the run path, then suffixed with
// the shard directory when the run is a shard job. Empty stays empty.
func (c *RunConfig) Dir(rel string) string {
	if rel == "" {
		return ""
	}
	dir := rel
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.RunPath(), dir)
	}
	if c.Part != nil {
		dir = filepath.Join(dir, pipeline.ShardPrefix+strconv.Itoa(*c.Part))
	}
	return dir
}

// RunPath is the resolved run directory.
func (c *RunConfig) RunPath() string {
	if filepath.IsAbs(c.Path) || c.base == "" {
		return c.Path
	}
	return filepath.Join(c.base, c.Path)
}

// InputPath resolves a source path against the config file's directory and fills in
// the shard number.
func (c *RunConfig) InputPath(path string) string {
	if path == "" {
		return ""
	}
	if c.Part != nil {
		path = strings.ReplaceAll(path, "{part}", strconv.Itoa(*c.Part))
	}
	if filepath.IsAbs(path) || c.base == "" {
		return path
	}
	return filepath.Join(c.base, path)
}

// SetPart turns the run into shard job n.
func (c *RunConfig) SetPart(n int) {
	c.Part = &n
}

// ArtifactConfig is the configuration snapshot recorded next to every finished
// directory: the stage's source and the prefix of the task list that produced it.
type ArtifactConfig struct {
	Stage  string    `yaml:"stage"`
	Source SourceRef `yaml:"source"`
	Tasks  []TaskRef `yaml:"tasks"`
	Split  string    `yaml:"split,omitempty"`
	Part   *int      `yaml:"part,omitempty"`
}

// Artifact returns the snapshot for the directory produced by the first n tasks of
// stage.
func (c *RunConfig) Artifact(stage StageConfig, n int) ArtifactConfig {
	return ArtifactConfig{
		Stage:  stage.Name,
		Source: stage.Source,
		Tasks:  append([]TaskRef(nil), stage.Tasks[:n]...),
		Part:   c.Part,
	}
}

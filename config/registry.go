// Package config provides the closed registry of task, join, source and codec types and
// the human-readable run configuration that refers to them.
package config

import (
	"bytes"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dcshock/checkpipe/pipeline"
)

// TaskSpec is what a TaskFactory receives for one task instance.
type TaskSpec struct {
	Type string

	// Split is the split this instance serves, or empty for an unsplit task.
	Split string

	// Dir is the resolved output directory, or empty when the task writes nothing.
	Dir string

	Options map[string]interface{}

	// Artifact is the configuration snapshot to record in Dir.
	Artifact interface{}
}

// Decode re-encodes the options into v, so factories can use typed option structs.
func (s TaskSpec) Decode(v interface{}) error {
	return decodeOptions(s.Options, v)
}

// TaskFactory builds a task from its spec.
type TaskFactory func(spec TaskSpec) (pipeline.Task, error)

// SourceSpec is what a SourceFactory receives.
type SourceSpec struct {
	Type    string
	Path    string
	Options map[string]interface{}
}

// Decode re-encodes the options into v.
func (s SourceSpec) Decode(v interface{}) error {
	return decodeOptions(s.Options, v)
}

type SourceFactory func(spec SourceSpec) (pipeline.Source, error)

// Codec persists records of a checkpoint directory and reads them back.
type Codec interface {
	// Writer returns a task that writes every record it sees to dir and passes it on.
	Writer(dir string, artifact interface{}) (pipeline.Task, error)
	// Reader returns a source over the records previously written to dir.
	Reader(dir string) (pipeline.Source, error)
}

type taskEntry struct {
	factory TaskFactory
	join    bool
}

// Registry maps type names to factories. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tasks   map[string]taskEntry
	sources map[string]SourceFactory
	codecs  map[string]Codec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks:   make(map[string]taskEntry),
		sources: make(map[string]SourceFactory),
		codecs:  make(map[string]Codec),
	}
}

// RegisterTask adds a task type. Overwrites any existing registration.
func (r *Registry) RegisterTask(name string, f TaskFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = taskEntry{factory: f}
}

// RegisterJoin adds a join task type: it consumes multiplexed records and emits plain
// ones.
func (r *Registry) RegisterJoin(name string, f TaskFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = taskEntry{factory: f, join: true}
}

func (r *Registry) RegisterSource(name string, f SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = f
}

func (r *Registry) RegisterCodec(name string, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[name] = c
}

// Task returns the factory for a task type; join reports whether it is a join.
func (r *Registry) Task(name string) (f TaskFactory, join bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[name]
	if !ok {
		return nil, false, pipeline.ConfigErrorf("task type %q not in registry", name)
	}
	return e.factory, e.join, nil
}

// IsJoin reports whether name is a registered join type.
func (r *Registry) IsJoin(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tasks[name].join
}

func (r *Registry) Source(name string) (SourceFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.sources[name]
	if !ok {
		return nil, pipeline.ConfigErrorf("source type %q not in registry", name)
	}
	return f, nil
}

func (r *Registry) Codec(name string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[name]
	if !ok {
		return nil, pipeline.ConfigErrorf("format %q not in registry", name)
	}
	return c, nil
}

// Names returns all registered task type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for n := range r.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// decodeOptions rejects option keys the target struct does not know.
func decodeOptions(opts map[string]interface{}, v interface{}) error {
	if len(opts) == 0 {
		return nil
	}
	data, err := yaml.Marshal(opts)
	if err != nil {
		return pipeline.ConfigErrorf("encode options: %v", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return pipeline.ConfigErrorf("decode options: %v", err)
	}
	return nil
}

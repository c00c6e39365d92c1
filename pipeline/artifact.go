package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DirOwner is implemented by tasks that own an artifact directory.
type DirOwner interface {
	Dir() string
}

// Artifact is embedded by tasks that persist output under a base directory. It creates
// the directory at construction and finalizes it in End: the config snapshot first, then
// the content checksum, then the completion marker.
//
// Tasks that buffer output must flush and close it before calling Artifact.End (or
// Finalize); a marker written over unflushed data defeats resume.
type Artifact struct {
	dir    string
	config interface{}
}

// NewArtifact creates dir (if needed) and returns an Artifact that records config as
// the configuration that produced it. Writing into a directory that is already
// complete is refused.
func NewArtifact(dir string, config interface{}) (*Artifact, error) {
	if dir == "" {
		return nil, ConfigErrorf("artifact directory is required")
	}
	if IsComplete(dir) {
		return nil, PipelineErrorf(dir, "refusing to write into a complete directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Artifact{dir: dir, config: config}, nil
}

// Dir returns the artifact's base directory.
func (a *Artifact) Dir() string { return a.dir }

// Config returns the configuration recorded for the artifact.
func (a *Artifact) Config() interface{} { return a.config }

// Path joins elem onto the base directory.
func (a *Artifact) Path(elem ...string) string {
	return filepath.Join(append([]string{a.dir}, elem...)...)
}

// End finalizes the artifact directory.
func (a *Artifact) End(ctx context.Context) error {
	return a.Finalize()
}

// Finalize writes the config snapshot (when a config was given), the checksum and
// the completion marker, in that order.
func (a *Artifact) Finalize() error {
	return finalizeDir(a.dir, a.config)
}

func finalizeDir(dir string, config interface{}) error {
	if config != nil {
		if err := WriteConfigSnapshot(dir, config); err != nil {
			return err
		}
	}
	if err := WriteChecksum(dir); err != nil {
		return err
	}
	return MarkComplete(dir)
}

// WriteConfigSnapshot durably writes config as YAML to dir/config.yml.
func WriteConfigSnapshot(dir string, config interface{}) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config snapshot: %w", err)
	}
	return writeFileDurable(filepath.Join(dir, ConfigFile), data, 0o644)
}

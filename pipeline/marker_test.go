package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "out")

	st, err := Status(dir)
	require.NoError(t, err)
	require.Equal(t, Absent, st)

	require.NoError(t, os.MkdirAll(dir, 0o755))
	st, err = Status(dir)
	require.NoError(t, err)
	require.Equal(t, Partial, st)

	require.NoError(t, MarkComplete(dir))
	st, err = Status(dir)
	require.NoError(t, err)
	require.Equal(t, Complete, st)
	require.Equal(t, "complete", st.String())
}

func TestMarkComplete_Twice(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, MarkComplete(dir))
	err := MarkComplete(dir)
	require.ErrorIs(t, err, ErrPipeline)
}

func TestNewArtifact_RefusesCompleteDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, MarkComplete(dir))

	_, err := NewArtifact(dir, nil)
	require.ErrorIs(t, err, ErrPipeline)

	_, err = NewArtifact("", nil)
	require.ErrorIs(t, err, ErrConfig)
}

func TestArtifact_Finalize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a")
	w := newLineWriter(t, dir)
	ctx := context.Background()

	require.NoError(t, w.Begin(ctx))
	_, err := w.Process(ctx, "x")
	require.NoError(t, err)
	require.False(t, IsComplete(dir))
	require.NoError(t, w.End(ctx))

	require.True(t, IsComplete(dir))
	require.FileExists(t, filepath.Join(dir, ConfigFile))
	require.FileExists(t, filepath.Join(dir, ChecksumFile))
	require.NoError(t, VerifyChecksum(dir))

	snapshot, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	require.NoError(t, err)
	require.Contains(t, string(snapshot), "task: lines")
}

// unmarshalable is an artifact config whose snapshot cannot be written.
type unmarshalable struct{}

func (unmarshalable) MarshalYAML() (interface{}, error) {
	return nil, errors.New("not serializable")
}

func TestArtifact_FinalizeFailureLeavesNoMarker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a")
	a, err := NewArtifact(dir, unmarshalable{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(a.Path("data"), []byte("x"), 0o644))

	require.ErrorContains(t, a.Finalize(), "config snapshot")
	require.False(t, IsComplete(dir))
	require.NoFileExists(t, filepath.Join(dir, ConfigFile))
	require.NoFileExists(t, filepath.Join(dir, ChecksumFile))

	st, err := Status(dir)
	require.NoError(t, err)
	require.Equal(t, Partial, st)
}

func TestVerifyChecksum_DetectsChange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data"), []byte("one"), 0o644))
	require.NoError(t, WriteChecksum(dir))
	require.NoError(t, VerifyChecksum(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "data"), []byte("two"), 0o644))
	require.ErrorIs(t, VerifyChecksum(dir), ErrPipeline)
}

func TestVerifyChecksum_MissingFilePasses(t *testing.T) {
	require.NoError(t, VerifyChecksum(t.TempDir()))
}

func TestChecksum_IgnoresMarkerAndTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data"), []byte("one"), 0o644))
	before, err := Checksum(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.tmp.123"), []byte("junk"), 0o644))
	require.NoError(t, MarkComplete(dir))
	after, err := Checksum(dir)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestWriteFileDurable_Replaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, WriteFileDurable(path, []byte("a")))
	require.NoError(t, WriteFileDurable(path, []byte("b")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "b", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestDeleteDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, DeleteDir(dir))
	_, err := os.Stat(dir)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestError_Format(t *testing.T) {
	err := PipelineErrorf("/tmp/x", "refusing %s", "write")
	require.EqualError(t, err, "pipeline error: refusing write (/tmp/x)")
	require.True(t, IsPipelineError(err))
	require.False(t, IsConfigError(err))

	wrapped := errors.Join(errors.New("ctx"), ParseErrorf("in.jsonl", "line %d", 3))
	require.True(t, IsParseError(wrapped))
	require.ErrorContains(t, ConfigErrorf("unknown task %q", "nope"), `configuration error: unknown task "nope"`)
}

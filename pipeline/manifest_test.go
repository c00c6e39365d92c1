package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestSplitManifest_KeepsOrder(t *testing.T) {
	dir := t.TempDir()
	splits := []string{"zeta", "alpha", "mid"}
	require.NoError(t, WriteSplitManifest(dir, splits))

	got, ok, err := ReadSplits(dir)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(splits, got); diff != "" {
		t.Errorf("split order mismatch (-want +got):\n%s", diff)
	}
}

func TestReadSplits_Missing(t *testing.T) {
	got, ok, err := ReadSplits(t.TempDir())
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, got)
}

func TestReadSplits_BareList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SplitManifestFile), []byte(`["b","a"]`), 0o644))
	got, ok, err := ReadSplits(dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"b", "a"}, got)
}

func TestReadSplits_Malformed(t *testing.T) {
	tests := map[string]string{
		"bad json":        `{"version":`,
		"unknown version": `{"version":9,"splits":["a"]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, SplitManifestFile), []byte(body), 0o644))
			_, _, err := ReadSplits(dir)
			require.ErrorIs(t, err, ErrParse)
		})
	}
}

func TestScanSplits(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"train", "dev", "part0", ".hidden"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, d), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), nil, 0o644))

	got, err := ScanSplits(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"dev", "train"}, got)
}

func TestShardDirs_NumericOrder(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"part10", "part2", "part0", "other"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, d), 0o755))
	}
	got, err := ShardDirs(dir)
	require.NoError(t, err)
	want := []string{
		filepath.Join(dir, "part0"),
		filepath.Join(dir, "part2"),
		filepath.Join(dir, "part10"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("shard order mismatch (-want +got):\n%s", diff)
	}
}

func TestShardDirs_Manifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteShardManifest(dir, []string{"part1", "part0"}))
	got, err := ShardDirs(dir)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "part1"), filepath.Join(dir, "part0")}, got)
}

func TestShardDirs_MissingDir(t *testing.T) {
	got, err := ShardDirs(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestValidateNames(t *testing.T) {
	for _, names := range [][]string{nil, {""}, {"a", "a"}, {"a/b"}, {".."}} {
		require.ErrorIs(t, validateNames(names), ErrConfig, "names %q", names)
	}
	require.NoError(t, validateNames([]string{"a", "b"}))
}

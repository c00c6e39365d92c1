package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	// SplitManifestFile lists the split names of a multiplexed directory in order.
	SplitManifestFile = ".multiplex"

	// ShardManifestFile optionally lists the shard directories of a stage in order.
	// Without it shards are discovered by scanning for ShardPrefix directories.
	ShardManifestFile = ".parts"

	// ShardPrefix is the naming convention for shard directories: part0, part1, ...
	ShardPrefix = "part"

	manifestVersion = 1
)

type manifest struct {
	Version int      `json:"version"`
	Names   []string `json:"splits"`
}

// WriteSplitManifest durably records the ordered split names of a multiplexed directory.
func WriteSplitManifest(dir string, splits []string) error {
	return writeManifest(filepath.Join(dir, SplitManifestFile), splits)
}

// ReadSplits returns the split names recorded in dir's manifest, in their original
// order. ok is false when dir has no manifest; see ScanSplits for older directories.
func ReadSplits(dir string) (splits []string, ok bool, err error) {
	return readManifest(filepath.Join(dir, SplitManifestFile))
}

// ScanSplits lists the subdirectories of dir that look like split outputs, sorted.
// It exists for directories written before manifests were introduced.
func ScanSplits(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var splits []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ShardPrefix) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		splits = append(splits, e.Name())
	}
	sort.Strings(splits)
	return splits, nil
}

// WriteShardManifest records the shard directory names of dir in merge order. External
// launchers that know their job layout use it to make reduce independent of directory
// scanning.
func WriteShardManifest(dir string, parts []string) error {
	return writeManifest(filepath.Join(dir, ShardManifestFile), parts)
}

// ShardDirs returns the shard directories under dir in merge order: the shard manifest
// when present, otherwise every part* subdirectory ordered by numeric suffix.
func ShardDirs(dir string) ([]string, error) {
	names, found, err := readManifest(filepath.Join(dir, ShardManifestFile))
	if err != nil {
		return nil, err
	}
	if !found {
		names, err = scanShards(dir)
		if err != nil {
			return nil, err
		}
	}
	dirs := make([]string, 0, len(names))
	for _, n := range names {
		dirs = append(dirs, filepath.Join(dir, n))
	}
	return dirs, nil
}

func scanShards(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), ShardPrefix) {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return shardLess(names[i], names[j]) })
	return names, nil
}

// shardLess orders part2 before part10; names without a numeric suffix sort lexically.
func shardLess(a, b string) bool {
	na, errA := strconv.Atoi(strings.TrimPrefix(a, ShardPrefix))
	nb, errB := strconv.Atoi(strings.TrimPrefix(b, ShardPrefix))
	if errA == nil && errB == nil && na != nb {
		return na < nb
	}
	return a < b
}

func writeManifest(path string, names []string) error {
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(manifest{Version: manifestVersion, Names: names})
	if err != nil {
		return err
	}
	return writeFileDurable(path, append(data, '\n'), 0o644)
}

// readManifest accepts the versioned object form and a bare JSON list.
func readManifest(path string) ([]string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var names []string
		if err := json.Unmarshal(data, &names); err != nil {
			return nil, false, ParseErrorf(path, "manifest: %v", err)
		}
		return names, true, nil
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, ParseErrorf(path, "manifest: %v", err)
	}
	if m.Version != manifestVersion {
		return nil, false, ParseErrorf(path, "unsupported manifest version %d", m.Version)
	}
	return m.Names, true, nil
}

// validateNames rejects empty and duplicate split names.
func validateNames(names []string) error {
	if len(names) == 0 {
		return ConfigErrorf("at least one split is required")
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" || strings.ContainsAny(n, `/\`) || n == "." || n == ".." {
			return ConfigErrorf("invalid split name %q", n)
		}
		if _, dup := seen[n]; dup {
			return ConfigErrorf("duplicate split name %q", n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

func describeNames(names []string) string {
	return fmt.Sprintf("[%s]", strings.Join(names, ", "))
}

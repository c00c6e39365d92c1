package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// MarkerFile is the zero-byte completion marker. Its presence is the only evidence
	// that a directory's contents are finished.
	MarkerFile = ".complete"

	// ChecksumFile holds the xxhash64 digest of a finished directory's contents.
	ChecksumFile = ".checksum"

	// ConfigFile is the artifact config snapshot written next to the marker.
	ConfigFile = "config.yml"
)

// DirStatus is the resume state of an artifact directory.
type DirStatus int

const (
	// Absent: the directory does not exist.
	Absent DirStatus = iota
	// Partial: the directory exists but has no completion marker.
	Partial
	// Complete: the completion marker is set.
	Complete
)

func (s DirStatus) String() string {
	switch s {
	case Absent:
		return "absent"
	case Partial:
		return "partial"
	case Complete:
		return "complete"
	default:
		return "DirStatus(" + strconv.Itoa(int(s)) + ")"
	}
}

// Status reports whether dir is absent, partially written or complete.
func Status(dir string) (DirStatus, error) {
	if _, err := os.Stat(filepath.Join(dir, MarkerFile)); err == nil {
		return Complete, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Absent, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Absent, nil
		}
		return Absent, err
	}
	if !info.IsDir() {
		return Absent, PipelineErrorf(dir, "artifact path is not a directory")
	}
	return Partial, nil
}

// IsComplete reports whether dir carries a completion marker.
func IsComplete(dir string) bool {
	st, err := Status(dir)
	return err == nil && st == Complete
}

// MarkComplete durably writes the completion marker in dir. All other output must
// already be flushed and closed.
func MarkComplete(dir string) error {
	if IsComplete(dir) {
		return PipelineErrorf(dir, "directory is already complete")
	}
	return writeFileDurable(filepath.Join(dir, MarkerFile), nil, 0o644)
}

// DeleteDir recursively removes an artifact directory.
func DeleteDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete %s: %w", dir, err)
	}
	return nil
}

// Checksum returns the xxhash64 digest of every regular file under dir, visited in
// sorted path order. The marker and checksum files themselves are excluded.
func Checksum(dir string) (uint64, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() == MarkerFile || d.Name() == ChecksumFile || isTempFile(d.Name()) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)

	digest := xxhash.New()
	for _, path := range paths {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return 0, err
		}
		_, _ = digest.WriteString(filepath.ToSlash(rel))
		_, _ = digest.Write([]byte{0})
		f, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		_, err = io.Copy(digest, f)
		f.Close()
		if err != nil {
			return 0, err
		}
	}
	return digest.Sum64(), nil
}

// WriteChecksum stores the digest of dir's contents in dir.
func WriteChecksum(dir string) error {
	sum, err := Checksum(dir)
	if err != nil {
		return fmt.Errorf("checksum %s: %w", dir, err)
	}
	data := []byte(strconv.FormatUint(sum, 16) + "\n")
	return writeFileDurable(filepath.Join(dir, ChecksumFile), data, 0o644)
}

// VerifyChecksum recomputes the digest of dir and compares it with the stored one.
// Directories finished without a checksum file pass.
func VerifyChecksum(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	want, err := strconv.ParseUint(strings.TrimSpace(string(data)), 16, 64)
	if err != nil {
		return PipelineErrorf(dir, "unreadable checksum file: %v", err)
	}
	got, err := Checksum(dir)
	if err != nil {
		return fmt.Errorf("checksum %s: %w", dir, err)
	}
	if got != want {
		return PipelineErrorf(dir, "content checksum mismatch: stored %x, computed %x", want, got)
	}
	return nil
}

const tempInfix = ".tmp."

func isTempFile(name string) bool { return strings.Contains(name, tempInfix) }

// writeFileDurable writes data to path via a synced temp file and an atomic rename,
// then syncs the parent directory.
func writeFileDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+tempInfix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

// WriteFileDurable is writeFileDurable for tasks that finalize their own output files.
func WriteFileDurable(path string, data []byte) error {
	return writeFileDurable(path, data, 0o644)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

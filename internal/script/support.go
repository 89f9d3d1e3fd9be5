package script

import (
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/zeebo/blake3"
)

//go:embed all:support
var supportFS embed.FS

var (
	supportOnce sync.Once
	supportPath string
	supportErr  error
)

// EnsureSupportDir materializes the embedded engine-side helper library
// into a content-addressed directory under the system temp dir and
// returns its path. The extraction happens at most once per host
// process; concurrent first calls are safe and the directory is stable
// across processes running the same build.
func EnsureSupportDir() (string, error) {
	supportOnce.Do(func() {
		supportPath, supportErr = extractSupport()
	})
	return supportPath, supportErr
}

func extractSupport() (string, error) {
	digest, err := supportDigest()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(os.TempDir(), "gimpscript-support-"+digest[:16])
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir, nil
	}

	// Extract into a scratch dir and rename so a half-written tree is
	// never observed under the final name.
	scratch := fmt.Sprintf("%s.tmp-%d", dir, os.Getpid())
	if err := writeSupportTree(scratch); err != nil {
		_ = os.RemoveAll(scratch)
		return "", err
	}
	if err := os.Rename(scratch, dir); err != nil {
		_ = os.RemoveAll(scratch)
		// Lost the race to another process; the winner's tree has the
		// same content hash.
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			return dir, nil
		}
		return "", fmt.Errorf("install support library: %w", err)
	}
	return dir, nil
}

func writeSupportTree(root string) error {
	return fs.WalkDir(supportFS, "support", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel("support", path)
		if err != nil {
			return err
		}
		target := filepath.Join(root, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := supportFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", path, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("write support file %s: %w", target, err)
		}
		return nil
	})
}

// supportDigest hashes the embedded tree (paths and contents, in sorted
// order) so the extraction directory name changes whenever the helper
// library does.
func supportDigest() (string, error) {
	var files []string
	err := fs.WalkDir(supportFS, "support", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk embedded support tree: %w", err)
	}
	sort.Strings(files)

	hasher := blake3.New()
	for _, path := range files {
		data, err := supportFS.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read embedded %s: %w", path, err)
		}
		hasher.Write([]byte(path))
		hasher.Write([]byte{0})
		hasher.Write(data)
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Package tempfile manages per-invocation scratch files. Paths use
// random names so concurrent invocations sharing a temp dir never
// collide, and a Set removes everything it created in one call.
package tempfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/gimpscript/gimpscript/internal/log"
)

// Path returns a fresh unique path in the system temp dir with the
// given suffix. The file is not created.
func Path(suffix string) string {
	return filepath.Join(os.TempDir(), uuid.NewString()+suffix)
}

// Set tracks scratch files for one invocation.
type Set struct {
	paths []string
}

// New returns an empty scratch set.
func New() *Set {
	return &Set{}
}

// Create makes an empty scratch file with the given suffix and returns
// it open for writing. The path is recorded for cleanup.
func (s *Set) Create(suffix string) (*os.File, error) {
	path := Path(suffix)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	s.paths = append(s.paths, path)
	return f, nil
}

// Add records an externally created path for cleanup.
func (s *Set) Add(path string) {
	s.paths = append(s.paths, path)
}

// Cleanup removes every tracked path. Missing files are fine; anything
// else is logged and skipped so one stuck file cannot leak the rest.
func (s *Set) Cleanup() {
	for _, path := range s.paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.WithComponent("tempfile").Warn("scratch file not removed", "path", path, "error", err)
		}
	}
	s.paths = nil
}

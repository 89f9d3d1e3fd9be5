// Package proctree tracks the engine's descendant processes. The
// display wrapper forks the engine, which forks its interpreter, so
// killing only the direct child leaks the rest of the tree; everything
// here operates on the whole set of descendants.
package proctree

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/gimpscript/gimpscript/internal/log"
)

const (
	pollInterval = 100 * time.Millisecond
	startTimeout = 10 * time.Second
)

// Expected returns the normalized child names a healthy engine tree
// shows below the spawned process. Without the display wrapper the
// spawned process is the engine itself, so only its interpreters
// appear as descendants; with the wrapper the engine is a descendant
// too.
func Expected(wrapped bool) []string {
	if wrapped {
		return []string{"gimp", "python", "script-fu", "xvfb"}
	}
	return []string{"python", "script-fu"}
}

// StartTimeoutError reports that the engine tree did not reach the
// expected shape within the startup window.
type StartTimeoutError struct {
	Expected []string
	Observed []string
}

func (e *StartTimeoutError) Error() string {
	return fmt.Sprintf("engine process tree did not start: expected children %v, observed %v",
		e.Expected, e.Observed)
}

// Descendants returns every live process below pid, depth first.
func Descendants(pid int32) ([]*process.Process, error) {
	root, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("inspect process %d: %w", pid, err)
	}
	return collect(root)
}

func collect(p *process.Process) ([]*process.Process, error) {
	children, err := p.Children()
	if err != nil {
		// No children is the common terminal case, not a failure.
		if err == process.ErrorNoChildren {
			return nil, nil
		}
		return nil, err
	}
	var all []*process.Process
	for _, child := range children {
		all = append(all, child)
		grand, err := collect(child)
		if err != nil {
			return nil, err
		}
		all = append(all, grand...)
	}
	return all, nil
}

// Names returns the sorted, deduplicated, normalized executable names
// of the given processes. Versioned interpreter binaries collapse to
// their family name so the expected set is stable across installs.
func Names(procs []*process.Process) []string {
	seen := make(map[string]struct{})
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		name = normalize(name)
		if name != "" {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if strings.HasPrefix(name, "python") {
		return "python"
	}
	return name
}

// WaitForStart polls until the descendant tree of pid contains every
// expected child name, or the startup window elapses. The context
// cancels the wait early.
func WaitForStart(ctx context.Context, pid int32, expected []string) error {
	logger := log.WithComponent("proctree")
	deadline := time.NewTimer(startTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	var observed []string
	for {
		procs, err := Descendants(pid)
		if err == nil {
			observed = Names(procs)
			if containsAll(observed, expected) {
				logger.Debug("engine tree started", "pid", pid, "children", observed)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &StartTimeoutError{Expected: expected, Observed: observed}
		case <-tick.C:
		}
	}
}

func containsAll(observed, expected []string) bool {
	have := make(map[string]struct{}, len(observed))
	for _, name := range observed {
		have[name] = struct{}{}
	}
	for _, name := range expected {
		if _, ok := have[name]; !ok {
			return false
		}
	}
	return true
}

// KillAll terminates every descendant of pid, leaves first so parents
// cannot respawn what was already reaped. Errors for processes that
// exited on their own are ignored.
func KillAll(pid int32) {
	logger := log.WithComponent("proctree")
	procs, err := Descendants(pid)
	if err != nil {
		logger.Debug("descendant scan failed", "pid", pid, "error", err)
		return
	}
	for i := len(procs) - 1; i >= 0; i-- {
		if err := procs[i].Kill(); err != nil {
			logger.Debug("kill descendant failed", "pid", procs[i].Pid, "error", err)
		}
	}
	if len(procs) > 0 {
		logger.Debug("killed engine descendants", "pid", pid, "count", len(procs))
	}
}

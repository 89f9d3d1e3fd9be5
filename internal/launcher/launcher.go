// Package launcher resolves the engine executable and builds the child
// command line. Graphical engines need a display; when the virtual
// framebuffer wrapper is available the command is prefixed with it so
// batch jobs run on headless machines.
package launcher

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Errors for unmet environment preconditions. Both are raised before
// any process is spawned.
var (
	ErrEngineNotInstalled  = errors.New("a working gimp installation with gimp on the PATH is necessary")
	ErrUnsupportedPlatform = fmt.Errorf("operating system %q is not supported", runtime.GOOS)
)

const (
	executableXvfb    = "xvfb-run"
	flagAutoServernum = "--auto-servernum"

	executableEngine    = "gimp"
	flagNoInterface     = "-i"
	flagNoData          = "-d"
	flagNoFonts         = "-f"
	flagInterpreter     = "--batch-interpreter=python-fu-eval"
	flagNonInteractive  = "-b"
	flagReadFromStdin   = "-"
	interpreterProbeTTL = 5 * time.Second
)

// macOS application bundles, checked when the executable is not on the
// search path.
var darwinLocations = []string{
	"/Applications/GIMP*.app/Contents/MacOS/gimp",
	"/Applications/Gimp*.app/Contents/MacOS/gimp",
	"~/Applications/GIMP*.app/Contents/MacOS/gimp",
	"~/Applications/Gimp*.app/Contents/MacOS/gimp",
}

// Process-wide caches. Resolution never changes at runtime, and a
// first-call race is harmless because every caller resolves to the
// same value.
var (
	mu          sync.Mutex
	enginePath  string
	pythonPath  string
	havePython  bool
	lookPath    = exec.LookPath
	globPath    = filepath.Glob
	currentGOOS = runtime.GOOS
)

// EnginePath resolves the engine executable: search path first, then
// platform-specific install locations. The result is cached for the
// life of the host process.
func EnginePath() (string, error) {
	mu.Lock()
	defer mu.Unlock()

	if enginePath != "" {
		return enginePath, nil
	}

	if currentGOOS != "linux" && currentGOOS != "darwin" {
		return "", ErrUnsupportedPlatform
	}

	if path, err := lookPath(executableEngine); err == nil {
		enginePath = path
	}

	if currentGOOS == "darwin" && enginePath == "" {
		home, _ := os.UserHomeDir()
		for _, location := range darwinLocations {
			if strings.HasPrefix(location, "~") && home != "" {
				location = filepath.Join(home, location[1:])
			}
			matches, err := globPath(location)
			if err == nil && len(matches) > 0 {
				enginePath = matches[0]
			}
		}
	}

	if enginePath == "" {
		return "", ErrEngineNotInstalled
	}
	return enginePath, nil
}

// SetEnginePath overrides discovery with an explicit executable path.
func SetEnginePath(path string) {
	mu.Lock()
	defer mu.Unlock()
	enginePath = path
}

// XvfbPath returns the virtual framebuffer wrapper, or "" when absent.
func XvfbPath() string {
	path, err := lookPath(executableXvfb)
	if err != nil {
		return ""
	}
	return path
}

// IsEnginePresent reports whether an engine executable can be resolved.
func IsEnginePresent() bool {
	_, err := EnginePath()
	return err == nil
}

// Command builds the argument vector for one invocation of the given
// engine executable. The fixed flag set selects no GUI, no user data
// or fonts, the alternate script-evaluation back end, non-interactive
// batch mode, and reading the program from standard input.
func Command(engine string, useXvfb bool) []string {
	var command []string
	if useXvfb {
		if xvfb := XvfbPath(); xvfb != "" {
			// --auto-servernum works around defunct wrapper processes
			// on older distributions.
			command = append(command, xvfb, flagAutoServernum)
		}
	}
	command = append(command,
		engine,
		flagNoInterface,
		flagNoData,
		flagNoFonts,
		flagInterpreter,
		flagNonInteractive,
		flagReadFromStdin,
	)
	return command
}

// UsesXvfb reports whether the given command vector includes the
// display wrapper.
func UsesXvfb(command []string) bool {
	return len(command) > 0 && strings.HasSuffix(command[0], executableXvfb)
}

// InterpreterPath locates the site-packages directories of the engine's
// embedded interpreter generation by probing a host-side Python 2
// binary. Cached process-wide after the first successful probe.
func InterpreterPath() (string, error) {
	mu.Lock()
	defer mu.Unlock()

	if havePython {
		return pythonPath, nil
	}

	python, err := lookPath("python2")
	if err != nil {
		return "", fmt.Errorf("could not find a python2 installation: %w", err)
	}

	probe := `import sys; print(":".join(set([p for p in sys.path if "site-packages" in p or "dist-packages" in p])));`
	cmd := exec.Command(python)
	cmd.Stdin = strings.NewReader(probe)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start python2 probe: %w", err)
	}
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil || stderr.Len() > 0 {
			return "", fmt.Errorf("could not determine python2 site-packages location")
		}
	case <-time.After(interpreterProbeTTL):
		_ = cmd.Process.Kill()
		<-done
		return "", fmt.Errorf("python2 probe timed out")
	}

	pythonPath = strings.TrimRight(stdout.String(), "\n")
	havePython = true
	return pythonPath, nil
}

// resetForTest clears the process-wide caches.
func resetForTest() {
	mu.Lock()
	defer mu.Unlock()
	enginePath = ""
	pythonPath = ""
	havePython = false
	lookPath = exec.LookPath
	globPath = filepath.Glob
	currentGOOS = runtime.GOOS
}

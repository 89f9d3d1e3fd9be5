package gimpscript

import (
	"os"
	"time"
)

// Option configures a Runner at construction time.
type Option func(*Runner)

// WithEnginePath pins the engine executable instead of discovering it
// on the search path.
func WithEnginePath(path string) Option {
	return func(r *Runner) { r.enginePath = path }
}

// WithEnvironment sets extra environment variables passed to every
// invocation of this Runner.
func WithEnvironment(env map[string]string) Option {
	return func(r *Runner) {
		if r.environ == nil {
			r.environ = make(map[string]string, len(env))
		}
		for k, v := range env {
			r.environ[k] = v
		}
	}
}

// WithWorkingDirectory sets the directory scripts run in. Relative
// paths inside scripts resolve against it and it is importable.
func WithWorkingDirectory(dir string) Option {
	return func(r *Runner) { r.workingDirectory = dir }
}

// WithoutDisplayWrapper disables the virtual framebuffer wrapper even
// when it is installed.
func WithoutDisplayWrapper() Option {
	return func(r *Runner) { r.useXvfb = false }
}

// WithProcessCheck waits for the engine's descendant process tree to
// reach its expected shape before counting the invocation as started.
func WithProcessCheck() Option {
	return func(r *Runner) { r.processCheck = true }
}

// WithoutInterpreterPathProbe skips locating host site-packages for
// the engine's embedded interpreter.
func WithoutInterpreterPathProbe() Option {
	return func(r *Runner) { r.interpreterProbe = false }
}

// WithDefaultTimeout replaces the Runner-wide default execution
// timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Runner) { r.defaultTimeout = d }
}

// ExecOption configures a single invocation.
type ExecOption func(*execOptions)

type execOptions struct {
	parameters map[string]any
	timeout    time.Duration
	outputSink *os.File
	errorSink  *os.File
	binary     bool
	scriptFile string
}

// WithParameters passes named values into the script. Supported types:
// strings, booleans, integer and float kinds, []byte, and anything
// JSON-marshalable for structured values.
func WithParameters(parameters map[string]any) ExecOption {
	return func(o *execOptions) {
		if o.parameters == nil {
			o.parameters = make(map[string]any, len(parameters))
		}
		for k, v := range parameters {
			o.parameters[k] = v
		}
	}
}

// WithTimeout overrides the Runner's default timeout for one
// invocation.
func WithTimeout(d time.Duration) ExecOption {
	return func(o *execOptions) { o.timeout = d }
}

// WithOutputSink streams the script's stdout to an open file instead
// of buffering it. The returned payload is empty and the file is
// closed when the invocation finishes.
func WithOutputSink(f *os.File) ExecOption {
	return func(o *execOptions) { o.outputSink = f }
}

// WithErrorSink streams the script's stderr to an open file instead of
// buffering it. Error classification for that stream is skipped; the
// file is closed when the invocation finishes.
func WithErrorSink(f *os.File) ExecOption {
	return func(o *execOptions) { o.errorSink = f }
}

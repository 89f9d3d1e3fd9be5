package gimpscript

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/gimpscript/gimpscript/internal/classify"
	"github.com/gimpscript/gimpscript/internal/launcher"
	"github.com/gimpscript/gimpscript/internal/log"
	"github.com/gimpscript/gimpscript/internal/params"
	"github.com/gimpscript/gimpscript/internal/proctree"
	"github.com/gimpscript/gimpscript/internal/script"
)

const defaultTimeout = 60 * time.Second

// Runner executes scripts in the engine. Each invocation spawns a
// fresh engine process; a Runner holds no process state and is safe
// for concurrent use.
type Runner struct {
	enginePath       string
	environ          map[string]string
	workingDirectory string
	useXvfb          bool
	processCheck     bool
	interpreterProbe bool
	defaultTimeout   time.Duration
}

// New creates a Runner. Engine discovery happens here so a missing
// installation fails fast instead of on the first invocation.
func New(opts ...Option) (*Runner, error) {
	r := &Runner{
		useXvfb:          true,
		interpreterProbe: true,
		defaultTimeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.enginePath == "" {
		path, err := launcher.EnginePath()
		if err != nil {
			return nil, err
		}
		r.enginePath = path
	}
	return r, nil
}

// Execute runs code inside the engine and returns its stdout as text.
// Engine startup warnings are stripped; an uncaught exception in the
// script comes back as a *ScriptError carrying the remote traceback.
func (r *Runner) Execute(ctx context.Context, code string, opts ...ExecOption) (string, error) {
	o := r.execOptions(opts)
	return r.run(ctx, code, o)
}

// ExecuteJSON runs code that emits JSON (normally via the gimpsupport
// return_json helper) and returns the decoded value.
func (r *Runner) ExecuteJSON(ctx context.Context, code string, opts ...ExecOption) (any, error) {
	o := r.execOptions(opts)
	out, err := r.run(ctx, code, o)
	if err != nil {
		return nil, err
	}
	return classify.ParseJSON(strings.TrimSpace(out))
}

// ExecuteBool runs code that emits a JSON boolean (normally via the
// gimpsupport return_bool helper).
func (r *Runner) ExecuteBool(ctx context.Context, code string, opts ...ExecOption) (bool, error) {
	o := r.execOptions(opts)
	out, err := r.run(ctx, code, o)
	if err != nil {
		return false, err
	}
	return classify.ParseBool(strings.TrimSpace(out))
}

// ExecuteBinary runs code that writes raw bytes to stdout and returns
// them unmodified.
func (r *Runner) ExecuteBinary(ctx context.Context, code string, opts ...ExecOption) ([]byte, error) {
	o := r.execOptions(opts)
	o.binary = true
	out, err := r.run(ctx, code, o)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// ExecuteFile runs a script from a file. Tracebacks reference the real
// path instead of an anonymous source marker.
func (r *Runner) ExecuteFile(ctx context.Context, path string, opts ...ExecOption) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve script path %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("script file: %w", err)
	}

	o := r.execOptions(opts)
	if o.parameters == nil {
		o.parameters = make(map[string]any, 1)
	}
	o.parameters[script.EnvScriptFile] = abs
	o.scriptFile = abs
	return r.run(ctx, script.FileLoader, o)
}

func (r *Runner) execOptions(opts []ExecOption) *execOptions {
	o := &execOptions{timeout: r.defaultTimeout}
	for _, opt := range opts {
		opt(o)
	}
	if o.timeout <= 0 {
		o.timeout = r.defaultTimeout
	}
	return o
}

func (r *Runner) run(ctx context.Context, code string, o *execOptions) (string, error) {
	invocation := uuid.NewString()
	logger := log.WithInvocation(invocation)

	defer func() {
		if o.outputSink != nil {
			o.outputSink.Close()
		}
		if o.errorSink != nil {
			o.errorSink.Close()
		}
	}()

	supportDir, err := script.EnsureSupportDir()
	if err != nil {
		return "", fmt.Errorf("prepare helper library: %w", err)
	}

	wrapped := script.Wrap(code, script.WrapOptions{
		SupportDir:     supportDir,
		RedirectOutput: o.outputSink != nil,
		RedirectError:  o.errorSink != nil,
	})

	env, err := r.buildEnv(o, logger)
	if err != nil {
		return "", err
	}

	command := launcher.Command(r.enginePath, r.useXvfb)
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = env
	// Own process group so a timeout can kill the wrapper and
	// everything it forked in one signal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr strings.Builder
	if o.outputSink != nil {
		cmd.Stdout = o.outputSink
	} else {
		cmd.Stdout = &stdout
	}
	if o.errorSink != nil {
		cmd.Stderr = o.errorSink
	} else {
		cmd.Stderr = &stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("create stdin pipe: %w", err)
	}

	digest := blake3.Sum256([]byte(code))
	logger.Debug("executing script",
		"digest", hex.EncodeToString(digest[:])[:16],
		"engine", r.enginePath,
		"xvfb", launcher.UsesXvfb(command),
		"timeout", o.timeout,
	)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start engine: %w", err)
	}
	pid := int32(cmd.Process.Pid)

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		_, err := stdin.Write([]byte(wrapped))
		writeErr <- err
	}()

	checkErr := make(chan error, 1)
	if r.processCheck {
		expected := proctree.Expected(launcher.UsesXvfb(command))
		go func() {
			checkErr <- proctree.WaitForStart(ctx, pid, expected)
		}()
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	kill := func() {
		proctree.KillAll(pid)
		if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			_ = cmd.Process.Kill()
		}
		<-waitErr
	}

	var exitErr error
wait:
	for {
		select {
		case <-timer.C:
			logger.Warn("execution timed out, killing engine tree", "timeout", o.timeout)
			kill()
			return "", &TimeoutError{Timeout: o.timeout, Code: wrapped}
		case <-ctx.Done():
			logger.Debug("context canceled, killing engine tree")
			kill()
			return "", ctx.Err()
		case err := <-checkErr:
			if err != nil {
				kill()
				return "", err
			}
		case exitErr = <-waitErr:
			break wait
		}
	}

	// Sweep stragglers the wrapper may have left behind. A clean exit
	// normally leaves nothing; the scan is cheap either way.
	proctree.KillAll(pid)

	if err := <-writeErr; err != nil {
		// A broken pipe means the engine died before reading the
		// script; classification of stderr tells the real story.
		logger.Debug("stdin write failed", "error", err)
	}

	if exitErr != nil {
		var ee *exec.ExitError
		if errors.As(exitErr, &ee) {
			logger.Warn("engine exited with non-zero status", "exit_code", ee.ExitCode())
		} else {
			return "", fmt.Errorf("wait for engine: %w", exitErr)
		}
	}

	out, err := classify.Classify(classify.Streams{
		Stdout:     []byte(stdout.String()),
		Stderr:     []byte(stderr.String()),
		HasStdout:  o.outputSink == nil,
		HasStderr:  o.errorSink == nil,
		Binary:     o.binary,
		ScriptFile: o.scriptFile,
	})
	if err != nil {
		return "", err
	}

	logger.Debug("execution finished", "duration", time.Since(started), "stdout_bytes", len(out))
	return out, nil
}

// buildEnv assembles the child environment: the host environment,
// Runner-level variables, encoded parameters, and the handshake
// variables the bootstrap reads.
func (r *Runner) buildEnv(o *execOptions, logger *slog.Logger) ([]string, error) {
	overlay := make(map[string]string)
	for k, v := range r.environ {
		overlay[k] = v
	}

	encoded, err := params.Encode(o.parameters)
	if err != nil {
		return nil, err
	}
	for k, v := range encoded {
		overlay[k] = v
	}

	workdir := r.workingDirectory
	if workdir == "" {
		if cwd, err := os.Getwd(); err == nil {
			workdir = cwd
		}
	}
	if workdir != "" {
		overlay[script.EnvWorkingDirectory] = workdir
	}

	if o.binary {
		overlay[script.EnvBinaryMode] = "1"
	}
	if o.outputSink != nil {
		overlay[script.EnvStdoutFile] = o.outputSink.Name()
	}
	if o.errorSink != nil {
		overlay[script.EnvStderrFile] = o.errorSink.Name()
	}

	if r.interpreterProbe {
		if path, err := launcher.InterpreterPath(); err == nil && path != "" {
			// The probe result goes in front of whatever PYTHONPATH the
			// caller or the host already carries.
			existing, ok := overlay["PYTHONPATH"]
			if !ok {
				existing = os.Getenv("PYTHONPATH")
			}
			if existing != "" {
				path = path + ":" + existing
			}
			overlay["PYTHONPATH"] = path
		} else if err != nil {
			logger.Debug("interpreter path probe skipped", "error", err)
		}
	}

	env := os.Environ()
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env, nil
}

package gimpscript

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gimpscript/gimpscript/internal/script"
	"github.com/gimpscript/gimpscript/internal/tempfile"
)

// stubRunner builds a Runner whose engine is a shell script, so the
// full spawn/stdin/classify pipeline runs without a real installation.
// The stub receives the usual flag vector and the program on stdin.
func stubRunner(t *testing.T, stubBody string, opts ...Option) *Runner {
	t.Helper()
	stub := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\n"+stubBody), 0o755))

	opts = append([]Option{
		WithEnginePath(stub),
		WithoutDisplayWrapper(),
		WithoutInterpreterPathProbe(),
	}, opts...)
	r, err := New(opts...)
	require.NoError(t, err)
	return r
}

func TestExecuteReturnsStdout(t *testing.T) {
	r := stubRunner(t, "cat > /dev/null\nprintf 'hello\\n'\n")

	out, err := r.Execute(context.Background(), `print("hello")`)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestExecuteDeliversWrappedProgramOnStdin(t *testing.T) {
	// Echo the program back so the wrapping is observable end to end.
	r := stubRunner(t, "cat\n")

	out, err := r.Execute(context.Background(), `print("marker")`)
	require.NoError(t, err)
	assert.Contains(t, out, "sys.excepthook = __script_error_hook")
	assert.Contains(t, out, `print("marker")`)
	assert.True(t, strings.HasSuffix(out, "pdb.gimp_quit(0)\n"))
}

func TestExecuteStripsStartupWarnings(t *testing.T) {
	r := stubRunner(t, "cat > /dev/null\nprintf '\\n(gimp:123): GLib-WARNING: noisy\\nhello\\n'\n")

	out, err := r.Execute(context.Background(), "pass")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestExecuteScriptError(t *testing.T) {
	r := stubRunner(t,
		"cat > /dev/null\n"+
			"printf 'Traceback (most recent call last):\\n  File \"<string>\", line 1, in <module>\\nZeroDivisionError: integer division or modulo by zero\\n' >&2\n"+
			"printf '"+script.SentinelLine+"' >&2\n")

	_, err := r.Execute(context.Background(), "1/0")

	var serr *ScriptError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Trace, "ZeroDivisionError")
	assert.NotContains(t, serr.Trace, script.SentinelToken)
}

func TestExecuteTimeoutKillsEngineTree(t *testing.T) {
	r := stubRunner(t, "cat > /dev/null\nsleep 30\n")

	started := time.Now()
	_, err := r.Execute(context.Background(), "hang", WithTimeout(300*time.Millisecond))

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 300*time.Millisecond, terr.Timeout)
	assert.Less(t, time.Since(started), 5*time.Second)

	// The diagnostic carries the full wrapped program, not just the
	// caller's fragment.
	msg := terr.Error()
	assert.Contains(t, msg, "hang")
	assert.Contains(t, msg, "sys.excepthook = __script_error_hook")
	assert.Contains(t, msg, "pdb.gimp_quit(0)")
}

func TestExecuteProcessCheckPassesForHealthyEngine(t *testing.T) {
	if testing.Short() {
		t.Skip("outlives the engine start window")
	}

	// An engine named like the real binary with interpreter children:
	// the check must pass on the interpreters alone, because without
	// the display wrapper the engine is the root of the tree, never one
	// of its own descendants.
	dir := t.TempDir()
	for _, name := range []string{"script-fu", "python"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\nsleep 12\n"), 0o755))
	}
	stub := filepath.Join(dir, "gimp")
	body := "#!/bin/sh\n" +
		"\"$(dirname \"$0\")/script-fu\" &\n" +
		"\"$(dirname \"$0\")/python\" &\n" +
		"cat > /dev/null\n" +
		"sleep 11\n" +
		"printf 'ok\\n'\n"
	require.NoError(t, os.WriteFile(stub, []byte(body), 0o755))

	r, err := New(
		WithEnginePath(stub),
		WithoutDisplayWrapper(),
		WithoutInterpreterPathProbe(),
		WithProcessCheck(),
	)
	require.NoError(t, err)

	out, err := r.Execute(context.Background(), "pass", WithTimeout(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestExecutePrependsProbePathToPythonPath(t *testing.T) {
	bin := t.TempDir()
	probe := filepath.Join(bin, "python2")
	require.NoError(t, os.WriteFile(probe, []byte("#!/bin/sh\ncat > /dev/null\nprintf '/opt/engine/site-packages\\n'\n"), 0o755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))

	stub := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\ncat > /dev/null\nprintf '%s\\n' \"$PYTHONPATH\"\n"), 0o755))

	r, err := New(
		WithEnginePath(stub),
		WithoutDisplayWrapper(),
		WithEnvironment(map[string]string{"PYTHONPATH": "/caller/modules"}),
	)
	require.NoError(t, err)

	out, err := r.Execute(context.Background(), "pass")
	require.NoError(t, err)
	assert.Equal(t, "/opt/engine/site-packages:/caller/modules\n", out)
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	r := stubRunner(t, "cat > /dev/null\nsleep 30\n")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := r.Execute(ctx, "hang")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestExecutePassesParametersAsEnvironment(t *testing.T) {
	r := stubRunner(t, "cat > /dev/null\nprintf '%s\\n' \"$greeting\" \"$count\" \"$ratio\" \"$flag\"\n")

	out, err := r.Execute(context.Background(), "pass", WithParameters(map[string]any{
		"greeting": "hi there",
		"count":    42,
		"ratio":    1.5,
		"flag":     true,
	}))
	require.NoError(t, err)
	assert.Equal(t, "hi there\n42\n1.5\nTrue\n", out)
}

func TestExecuteRejectsUnsupportedParameter(t *testing.T) {
	r := stubRunner(t, "cat > /dev/null\n")

	_, err := r.Execute(context.Background(), "pass", WithParameters(map[string]any{
		"bad": make(chan int),
	}))

	var perr *ParameterError
	assert.ErrorAs(t, err, &perr)
}

func TestExecuteRunnerEnvironmentAndWorkdir(t *testing.T) {
	dir := t.TempDir()
	r := stubRunner(t,
		"cat > /dev/null\nprintf '%s\\n' \"$EXTRA\" \"$"+script.EnvWorkingDirectory+"\"\n",
		WithEnvironment(map[string]string{"EXTRA": "value"}),
		WithWorkingDirectory(dir),
	)

	out, err := r.Execute(context.Background(), "pass")
	require.NoError(t, err)
	assert.Equal(t, "value\n"+dir+"\n", out)
}

func TestExecuteJSON(t *testing.T) {
	r := stubRunner(t, "cat > /dev/null\nprintf '{\"doubled\": 42}\\n'\n")

	v, err := r.ExecuteJSON(context.Background(), "pass")
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), m["doubled"])
}

func TestExecuteJSONDecodeFailure(t *testing.T) {
	r := stubRunner(t, "cat > /dev/null\nprintf 'not json'\n")

	_, err := r.ExecuteJSON(context.Background(), "pass")

	var jerr *JSONDecodeError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, "not json", jerr.Raw)
}

func TestExecuteBool(t *testing.T) {
	r := stubRunner(t, "cat > /dev/null\nprintf 'true\\n'\n")

	v, err := r.ExecuteBool(context.Background(), "pass")
	require.NoError(t, err)
	assert.True(t, v)
}

func TestExecuteBinary(t *testing.T) {
	r := stubRunner(t, "cat > /dev/null\nprintf 'a\\000b\\001c'\n")

	out, err := r.ExecuteBinary(context.Background(), "pass")
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 0x00, 'b', 0x01, 'c'}, out)
}

func TestExecuteBinarySetsModeFlag(t *testing.T) {
	r := stubRunner(t, "cat > /dev/null\nprintf '%s' \"$"+script.EnvBinaryMode+"\"\n")

	out, err := r.ExecuteBinary(context.Background(), "pass")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), out)
}

func TestExecuteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.py")
	require.NoError(t, os.WriteFile(path, []byte("print('from file')\n"), 0o644))

	r := stubRunner(t, "cat > /dev/null\nprintf '%s\\n' \"$"+script.EnvScriptFile+"\"\n")

	out, err := r.ExecuteFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
}

func TestExecuteFileMissing(t *testing.T) {
	r := stubRunner(t, "cat > /dev/null\n")

	_, err := r.ExecuteFile(context.Background(), "/nonexistent/job.py")
	assert.Error(t, err)
}

func TestExecuteFileRewritesTraceback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.py")
	require.NoError(t, os.WriteFile(path, []byte("1/0\n"), 0o644))

	r := stubRunner(t,
		"cat > /dev/null\n"+
			"printf 'Traceback (most recent call last):\\n  File \"<string>\", line 1, in <module>\\nZeroDivisionError: integer division or modulo by zero\\n' >&2\n"+
			"printf '"+script.SentinelLine+"' >&2\n")

	_, err := r.ExecuteFile(context.Background(), path)

	var serr *ScriptError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Trace, `File "`+path+`"`)
}

func TestExecuteWithOutputSink(t *testing.T) {
	scratch := tempfile.New()
	t.Cleanup(scratch.Cleanup)
	sink, err := scratch.Create(".out")
	require.NoError(t, err)

	r := stubRunner(t, "cat > /dev/null\nprintf 'streamed\\n'\n")

	out, err := r.Execute(context.Background(), "pass", WithOutputSink(sink))
	require.NoError(t, err)
	assert.Equal(t, "", out)

	data, err := os.ReadFile(sink.Name())
	require.NoError(t, err)
	assert.Equal(t, "streamed\n", string(data))

	// Sink is closed on return.
	_, err = sink.Write([]byte("x"))
	assert.Error(t, err)
}

func TestExecuteWithErrorSinkSkipsClassification(t *testing.T) {
	scratch := tempfile.New()
	t.Cleanup(scratch.Cleanup)
	sink, err := scratch.Create(".err")
	require.NoError(t, err)

	r := stubRunner(t, "cat > /dev/null\nprintf 'diagnostics\\n' >&2\nprintf 'ok\\n'\n")

	out, err := r.Execute(context.Background(), "pass", WithErrorSink(sink))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	data, err := os.ReadFile(sink.Name())
	require.NoError(t, err)
	assert.Equal(t, "diagnostics\n", string(data))
}

func TestExecuteSinkRedirectionHandshake(t *testing.T) {
	scratch := tempfile.New()
	t.Cleanup(scratch.Cleanup)
	sink, err := scratch.Create(".out")
	require.NoError(t, err)

	// The engine-side contract: the sink path travels in the
	// environment so the script can reopen it in append mode.
	r := stubRunner(t, "cat > /dev/null\nprintf '%s' \"$"+script.EnvStdoutFile+"\" >&2\n")

	errSink, err := scratch.Create(".err")
	require.NoError(t, err)

	_, err = r.Execute(context.Background(), "pass", WithOutputSink(sink), WithErrorSink(errSink))
	require.NoError(t, err)

	data, err := os.ReadFile(errSink.Name())
	require.NoError(t, err)
	assert.Equal(t, sink.Name(), string(data))
}

func TestNewFailsWithoutEngine(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := New()
	assert.ErrorIs(t, err, ErrEngineNotInstalled)
}

func TestDefaultTimeoutOption(t *testing.T) {
	r := stubRunner(t, "cat > /dev/null\nsleep 30\n", WithDefaultTimeout(300*time.Millisecond))

	_, err := r.Execute(context.Background(), "hang")

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 300*time.Millisecond, terr.Timeout)
}

// Package script builds the program text actually sent to the engine.
// Caller code is wrapped with an exception hook, working-directory
// setup and import path setup so that every invocation is
// self-terminating and errors surface as a sentinel line on the error
// stream.
package script

import "strings"

// SentinelToken prefixes the line the exception hook writes when the
// script raised. SentinelLine is the exact wire form; both are part of
// the host/engine contract and must not change.
const (
	SentinelToken = "__GIMP_SCRIPT_ERROR__"
	SentinelLine  = "__GIMP_SCRIPT_ERROR__ 1"
)

// Environment variable names shared between host and engine.
const (
	EnvWorkingDirectory = "__working_directory__"
	EnvStdoutFile       = "__stdout_file__"
	EnvStderrFile       = "__stderr_file__"
	EnvBinaryMode       = "__binary__"
	EnvScriptFile       = "__script_file__"
	EnvFiles            = "__files__"
)

// bootstrap installs the exception hook, changes into the requested
// working directory and makes the current directory importable. It runs
// before any caller code.
const bootstrap = `import os
import sys

import gimp
from gimp import pdb


def __script_error_hook(exctype, value, traceback):
    sys.__excepthook__(exctype, value, traceback)
    sys.stderr.write('` + SentinelToken + ` {:d}'.format(1))
    pdb.gimp_quit(0)


sys.excepthook = __script_error_hook
if '` + EnvWorkingDirectory + `' in os.environ:
    os.chdir(os.environ['` + EnvWorkingDirectory + `'])
sys.path.append(os.getcwd())
`

// redirectOutput reassigns the script-level output stream to the sink
// file the host already attached at the process level. Append mode so
// engine output written before the reassignment is preserved.
const redirectOutput = `if os.environ.get('` + EnvStdoutFile + `'):
    sys.stdout = open(os.environ['` + EnvStdoutFile + `'], 'ab' if os.environ.get('` + EnvBinaryMode + `') == '1' else 'a', 0)
`

const redirectError = `if os.environ.get('` + EnvStderrFile + `'):
    sys.stderr = open(os.environ['` + EnvStderrFile + `'], 'a', 0)
`

// trailer forces the engine to exit instead of returning to an
// interactive prompt.
const trailer = "\npdb.gimp_quit(0)\n"

// FileLoader is the program run by file-based invocations. The real
// script path travels as a parameter and its content is executed as the
// top-level script.
const FileLoader = "from gimpsupport.parameter import get_parameter\n" +
	"exec(open(get_parameter('" + EnvScriptFile + "')).read(), globals())"

// WrapOptions controls the bootstrap prepended to caller code.
type WrapOptions struct {
	// SupportDir is appended to the engine's import path so the
	// gimpsupport helper library is importable. Empty skips the entry.
	SupportDir string

	// RedirectOutput and RedirectError prepend stream reassignment for
	// invocations with caller-supplied sinks.
	RedirectOutput bool
	RedirectError  bool
}

// Wrap surrounds caller code with the bootstrap and the forced-quit
// trailer. The wrapping is invisible to the caller: the code runs as if
// it were the top-level script.
func Wrap(code string, opts WrapOptions) string {
	var sb strings.Builder
	sb.WriteString(bootstrap)
	if opts.SupportDir != "" {
		sb.WriteString("sys.path.append('")
		sb.WriteString(EscapeSingleQuotes(opts.SupportDir))
		sb.WriteString("')\n")
	}
	if opts.RedirectOutput {
		sb.WriteString(redirectOutput)
	}
	if opts.RedirectError {
		sb.WriteString(redirectError)
	}
	sb.WriteString(code)
	sb.WriteString(trailer)
	return sb.String()
}

// EscapeSingleQuotes escapes single quotes for embedding text inside
// single-quoted script string literals.
func EscapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

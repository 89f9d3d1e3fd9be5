// Package classify turns the engine's raw stdout/stderr into a payload
// or a reconstructed remote error.
//
// The engine interleaves three things on its output streams: program
// output, repeated C-level startup warnings, and interpreter tracebacks
// terminated by a sentinel line. Old engine versions additionally route
// interpreter errors to stdout instead of stderr, so classification
// inspects whichever stream is present. All scanning operates on raw
// byte strings; Go strings are 8-bit clean, so binary payloads survive
// the line-oriented warning stripping unmodified.
package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gimpscript/gimpscript/internal/script"
)

// ScriptError reports an uncaught exception raised by the script inside
// the engine. Trace is the reconstructed remote traceback.
type ScriptError struct {
	Trace string
}

func (e *ScriptError) Error() string {
	return e.Trace
}

// JSONDecodeError reports a successful execution whose payload could
// not be parsed as JSON.
type JSONDecodeError struct {
	Raw string
	Err error
}

func (e *JSONDecodeError) Error() string {
	return fmt.Sprintf("the following JSON could not be parsed:\n>>>%s<<<\noriginal decoding error:\n%v", e.Raw, e.Err)
}

func (e *JSONDecodeError) Unwrap() error { return e.Err }

// engine warning framing. The bracketed process-name marker repeats an
// arbitrary number of times with double-newline framing; the boundary
// detection below is tuned against observed engine output and must not
// be restructured without matching fixtures.
const (
	warningPrefix = "\n(gimp:"
	warningMarker = "\n\n(gimp:"
	initWarning   = "*WARNING*"
)

// Streams carries one invocation's raw output for classification.
type Streams struct {
	Stdout []byte
	Stderr []byte

	// HasStdout/HasStderr are false when a caller-supplied sink
	// consumed the stream directly, leaving nothing to classify.
	HasStdout bool
	HasStderr bool

	// Binary marks a raw-bytes invocation.
	Binary bool

	// ScriptFile, when set, replaces the anonymous-source marker in
	// remote tracebacks with the real path.
	ScriptFile string
}

// Classify separates warnings, errors and payload. On success it
// returns the payload as a byte-preserving string; the typed decode
// helpers below turn it into JSON values or booleans.
func Classify(s Streams) (string, error) {
	var stderrContent string
	if s.HasStderr {
		stripped, err := StripEngineWarnings(string(s.Stderr))
		if err != nil {
			return "", err
		}
		stderrContent = stripped
	}

	// Engines prior to 2.8.22 write the interpreter's errors to stdout.
	if s.HasStdout {
		withPossibleErrors := string(s.Stdout)
		if s.Binary {
			stripped, err := StripEngineWarnings(withPossibleErrors)
			if err != nil {
				return "", err
			}
			withPossibleErrors = stripped
		}
		if lastNonEmptyLineHasSentinel(withPossibleErrors) {
			stderrContent = withPossibleErrors
		}
	}

	if stderrContent != "" {
		if err := classifyError(stderrContent, s.ScriptFile); err != nil {
			return "", err
		}
	}

	if !s.HasStdout {
		return "", nil
	}
	return StripEngineWarnings(string(s.Stdout))
}

func classifyError(stderrContent, scriptFile string) error {
	lines := strings.Split(strings.TrimSpace(stderrContent), "\n")
	if strings.HasPrefix(lines[len(lines)-1], script.SentinelToken) {
		trace := stderrContent
		if i := strings.LastIndex(trace, "\n"); i >= 0 {
			trace = trace[:i]
		}
		trace += "\n"
		if scriptFile != "" {
			trace = strings.Replace(trace, `File "<string>"`, `File "`+scriptFile+`"`, 1)
		}
		return &ScriptError{Trace: trace}
	}

	remaining := StripInitializationWarnings(lines)
	if len(remaining) > 0 {
		return &ScriptError{Trace: strings.Join(remaining, "\n")}
	}
	return nil
}

func lastNonEmptyLineHasSentinel(content string) bool {
	trimmed := strings.TrimSpace(content)
	lines := strings.Split(trimmed, "\n")
	return strings.HasPrefix(lines[len(lines)-1], script.SentinelToken)
}

// StripEngineWarnings discards the block of repeated startup warnings
// some engine versions emit at the very beginning of a stream. The
// block starts with the bracketed process-name marker and repeats with
// double-newline framing; everything up to the first newline after the
// last repetition is dropped. A marker substring without that framing
// does not trigger.
func StripEngineWarnings(input string) (string, error) {
	if !strings.HasPrefix(input, warningPrefix) {
		return input, nil
	}

	pos := 0
	for {
		lastPos := pos
		next := indexFrom(input, warningMarker, pos+len(warningMarker))
		if next == -1 {
			outputStart := indexFrom(input, "\n", lastPos+len(warningMarker))
			if outputStart == -1 {
				return "", fmt.Errorf("could not find start of output after engine warnings")
			}
			return input[outputStart+1:], nil
		}
		pos = next
	}
}

// StripInitializationWarnings drops every line up to and including the
// last one carrying the line-oriented warning marker. A stream that was
// nothing but warnings is empty, not an error.
func StripInitializationWarnings(lines []string) []string {
	stripIdx := 0
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], initWarning) {
			stripIdx = i + 1
			break
		}
	}
	lines = lines[stripIdx:]
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}

// ParseJSON decodes a payload the caller requested as JSON.
func ParseJSON(input string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(input), &v); err != nil {
		return nil, &JSONDecodeError{Raw: input, Err: err}
	}
	return v, nil
}

// ParseBool decodes a payload the caller requested as a boolean.
func ParseBool(input string) (bool, error) {
	var v bool
	if err := json.Unmarshal([]byte(input), &v); err != nil {
		return false, &JSONDecodeError{Raw: input, Err: err}
	}
	return v, nil
}

func indexFrom(s, substr string, from int) int {
	if from < 0 || from > len(s) {
		return -1
	}
	i := strings.Index(s[from:], substr)
	if i == -1 {
		return -1
	}
	return from + i
}

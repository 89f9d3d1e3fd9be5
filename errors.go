package gimpscript

import (
	"fmt"
	"time"

	"github.com/gimpscript/gimpscript/internal/classify"
	"github.com/gimpscript/gimpscript/internal/launcher"
	"github.com/gimpscript/gimpscript/internal/params"
	"github.com/gimpscript/gimpscript/internal/proctree"
)

// Environment precondition errors.
var (
	ErrEngineNotInstalled  = launcher.ErrEngineNotInstalled
	ErrUnsupportedPlatform = launcher.ErrUnsupportedPlatform
)

// ScriptError reports an uncaught exception inside the engine; its
// Trace field carries the remote traceback.
type ScriptError = classify.ScriptError

// JSONDecodeError reports a payload that could not be parsed as JSON.
type JSONDecodeError = classify.JSONDecodeError

// ParameterError reports a parameter value that has no wire encoding.
type ParameterError = params.Error

// StartTimeoutError reports that the engine process tree never reached
// its expected shape. Only returned when process checking is enabled.
type StartTimeoutError = proctree.StartTimeoutError

// TimeoutError reports an invocation killed by its execution timeout.
// Code is the full wrapped program that was running, bootstrap and
// trailer included, so the diagnostic shows exactly what the engine
// received.
type TimeoutError struct {
	Timeout time.Duration
	Code    string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution exceeded timeout of %s:\n%s", e.Timeout, e.Code)
}

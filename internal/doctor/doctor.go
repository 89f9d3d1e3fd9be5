// Package doctor runs environment preflight checks: engine presence,
// display wrapper, interpreter probe, and configuration sanity.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gimpscript/gimpscript/internal/config"
	"github.com/gimpscript/gimpscript/internal/launcher"
)

// Result holds the outcome of a preflight run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single preflight error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor checks the host environment against a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkEngine(r)
	d.checkDisplayWrapper(r)
	d.checkInterpreterProbe(r)
	d.checkWorkingDirectory(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) checkEngine(r *Result) {
	if d.cfg.Engine.Path != "" {
		info, err := os.Stat(d.cfg.Engine.Path)
		if err != nil {
			d.addError(r, "engine", "engine.path",
				fmt.Sprintf("configured engine path is unusable: %v", err))
			return
		}
		if info.Mode()&0o111 == 0 {
			d.addError(r, "engine", "engine.path",
				fmt.Sprintf("configured engine path %s is not executable", d.cfg.Engine.Path))
		}
		return
	}

	if _, err := launcher.EnginePath(); err != nil {
		d.addError(r, "engine", "", err.Error())
	}
}

func (d *Doctor) checkDisplayWrapper(r *Result) {
	if d.cfg.Engine.UseXvfb == config.XvfbNever {
		return
	}
	if launcher.XvfbPath() == "" {
		d.addWarning(r, "display", "engine.use_xvfb",
			"xvfb-run not found; the engine will need a real display")
	}
}

func (d *Doctor) checkInterpreterProbe(r *Result) {
	if !d.cfg.Engine.PythonPathProbe {
		return
	}
	if _, err := launcher.InterpreterPath(); err != nil {
		d.addWarning(r, "interpreter", "engine.python_path_probe",
			fmt.Sprintf("interpreter path probe failed: %v (host site-packages will not be importable in scripts)", err))
	}
}

func (d *Doctor) checkWorkingDirectory(r *Result) {
	if d.cfg.WorkingDirectory == "" {
		return
	}
	info, err := os.Stat(d.cfg.WorkingDirectory)
	if err != nil {
		d.addError(r, "workdir", "working_directory", err.Error())
		return
	}
	if !info.IsDir() {
		d.addError(r, "workdir", "working_directory",
			fmt.Sprintf("%s is not a directory", d.cfg.WorkingDirectory))
	}
}

// FormatHuman returns a human-readable preflight report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Environment ready.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Environment ready (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Environment not ready (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

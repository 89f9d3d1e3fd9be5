package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gimpscript/gimpscript"
	"github.com/gimpscript/gimpscript/internal/config"
	"github.com/gimpscript/gimpscript/internal/doctor"
	"github.com/gimpscript/gimpscript/internal/log"
	"github.com/gimpscript/gimpscript/internal/tempfile"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		os.Exit(runRun(args))
	case "doctor":
		os.Exit(runDoctor(args))
	case "version":
		fmt.Printf("gimpscript version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`gimpscript - run batch scripts inside the GIMP engine

Usage:
  gimpscript <command> [flags]

Commands:
  run       Execute a script (from -file or stdin) in the engine
  doctor    Check the host environment and configuration
  version   Show version information
  help      Show this help message

Run Flags:
  -file PATH      Script file to execute (default: read stdin)
  -json           Parse the result as JSON and pretty-print it
  -bool           Parse the result as a boolean; exit 0/1 accordingly
  -binary         Write raw result bytes to stdout
  -timeout DUR    Execution timeout (default from config)
  -p name=value   Script parameter, repeatable
  -config PATH    Config file (default: discovered)

Doctor Flags:
  -json           Emit the report as JSON
  -config PATH    Config file (default: discovered)
`)
}

// paramFlags collects repeated -p name=value flags.
type paramFlags map[string]any

func (p paramFlags) String() string { return "" }

func (p paramFlags) Set(value string) error {
	name, val, ok := strings.Cut(value, "=")
	if !ok || name == "" {
		return fmt.Errorf("parameter must be name=value, got %q", value)
	}
	p[name] = val
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadOrDefaults()
}

func runnerFromConfig(cfg *config.Config) (*gimpscript.Runner, error) {
	var opts []gimpscript.Option
	if cfg.Engine.Path != "" {
		opts = append(opts, gimpscript.WithEnginePath(cfg.Engine.Path))
	}
	if cfg.Engine.UseXvfb == config.XvfbNever {
		opts = append(opts, gimpscript.WithoutDisplayWrapper())
	}
	if !cfg.Engine.PythonPathProbe {
		opts = append(opts, gimpscript.WithoutInterpreterPathProbe())
	}
	if cfg.Execution.ProcessCheck {
		opts = append(opts, gimpscript.WithProcessCheck())
	}
	if cfg.WorkingDirectory != "" {
		opts = append(opts, gimpscript.WithWorkingDirectory(cfg.WorkingDirectory))
	}
	opts = append(opts, gimpscript.WithDefaultTimeout(cfg.Execution.DefaultTimeout))
	return gimpscript.New(opts...)
}

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	file := fs.String("file", "", "script file to execute")
	asJSON := fs.Bool("json", false, "parse the result as JSON")
	asBool := fs.Bool("bool", false, "parse the result as a boolean")
	asBinary := fs.Bool("binary", false, "emit raw result bytes")
	timeout := fs.Duration("timeout", 0, "execution timeout")
	configPath := fs.String("config", "", "config file path")
	parameters := paramFlags{}
	fs.Var(parameters, "p", "script parameter (name=value), repeatable")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.Setup(cfg.LogLevel)

	r, err := runnerFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var execOpts []gimpscript.ExecOption
	if len(parameters) > 0 {
		execOpts = append(execOpts, gimpscript.WithParameters(parameters))
	}
	if *timeout > 0 {
		execOpts = append(execOpts, gimpscript.WithTimeout(*timeout))
	}

	switch {
	case *asBool:
		code, err := readScript(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		v, err := r.ExecuteBool(ctx, code, execOpts...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(v)
		if !v {
			return 1
		}
		return 0

	case *asJSON:
		code, err := readScript(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		v, err := r.ExecuteJSON(ctx, code, execOpts...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0

	case *asBinary:
		code, err := readScript(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		// Stream the raw result through a scratch file so arbitrarily
		// large payloads never sit in memory.
		scratch := tempfile.New()
		defer scratch.Cleanup()
		sink, err := scratch.Create(".bin")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if _, err := r.ExecuteBinary(ctx, code, append(execOpts, gimpscript.WithOutputSink(sink))...); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		result, err := os.Open(sink.Name())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer result.Close()
		if _, err := io.Copy(os.Stdout, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0

	default:
		var out string
		if *file != "" {
			out, err = r.ExecuteFile(ctx, *file, execOpts...)
		} else {
			var code string
			code, err = readScript("")
			if err == nil {
				out, err = r.Execute(ctx, code, execOpts...)
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Print(out)
		return 0
	}
}

// readScript reads the program from a file, or stdin when path is
// empty.
func readScript(path string) (string, error) {
	if path == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read script from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(data), nil
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit the report as JSON")
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.Setup(cfg.LogLevel)

	result := doctor.New(cfg).Validate()

	if *asJSON {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

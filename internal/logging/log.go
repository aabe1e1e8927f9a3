// Package logging wraps zerolog with the component-tagged child-logger
// convention used throughout hal9999: every subsystem (vmpool, wrapper,
// orchestrator, ...) asks for a logger via WithComponent rather than
// reaching for the global Logger directly.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger; Init configures it once at
// startup and every component derives a child logger from it.
var Logger zerolog.Logger

// Level is a logging verbosity, matched case-insensitively against cobra's
// --log-level flag.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls Init's output format and destination.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init installs the global logger. Called once from cmd/hal's
// cobra.OnInitialize hook.
func Init(cfg Config) {
	var level zerolog.Level
	switch Level(strings.ToLower(string(cfg.Level))) {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with the given subsystem name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTask returns a child logger tagged with a task id, layered on top of
// a component logger (e.g. logging.WithComponent("orchestrator").With()...).
func WithTask(l zerolog.Logger, taskID string) zerolog.Logger {
	return l.With().Str("task_id", taskID).Logger()
}

// WithVM tags a logger with a VM id.
func WithVM(l zerolog.Logger, vmID string) zerolog.Logger {
	return l.With().Str("vm_id", vmID).Logger()
}

func init() {
	// A usable default before Init runs, so package-level code executed
	// during tests (which never call Init) still logs somewhere sane.
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents a log level accepted by the `logging.level` runtime variable.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	// Path, when set, is reopened on SIGUSR1 (see Reopen). Output is ignored
	// once Path is set.
	Path   string
	Output io.Writer
}

var (
	mu      sync.Mutex
	current Config
	file    *os.File
)

// Init initializes the global logger from cfg.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
	return reopenLocked()
}

// SetLevel updates the global level without touching output, used by the
// `logging.level` runtime variable apply-fn.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	current.Level = l
	zerolog.SetGlobalLevel(parseLevel(l))
}

// SetJSONOutput toggles JSON vs console rendering for the `logging.format`
// runtime variable.
func SetJSONOutput(json bool) error {
	mu.Lock()
	defer mu.Unlock()
	current.JSONOutput = json
	return reopenLocked()
}

// Reopen closes and reopens the configured log file. It is the handler for
// a delivered SIGUSR1 log-reopen request (see pkg/signals).
func Reopen() error {
	mu.Lock()
	defer mu.Unlock()
	return reopenLocked()
}

func reopenLocked() error {
	if file != nil {
		_ = file.Close()
		file = nil
	}

	var output io.Writer = current.Output
	if current.Path != "" {
		f, err := os.OpenFile(current.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return err
		}
		file = f
		output = f
	}
	if output == nil {
		output = os.Stdout
	}

	zerolog.SetGlobalLevel(parseLevel(current.Level))
	if current.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
	return nil
}

func parseLevel(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case InfoLevel:
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent creates a child logger tagged with a subsystem name, e.g.
// "index", "binlog", "dispatcher".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTable creates a child logger tagged with a table name.
func WithTable(table string) zerolog.Logger {
	return Logger.With().Str("table", table).Logger()
}

// WithConn creates a child logger tagged with a connection id, used by
// worker-pool handlers for per-connection request tracing.
func WithConn(connID uint64) zerolog.Logger {
	return Logger.With().Uint64("conn_id", connID).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) { Logger.Error().Err(err).Msg(format) }

func Fatal(msg string) { Logger.Fatal().Msg(msg) }

// logging.go - Structured logging for the shielded pool client
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	gnarklog "github.com/consensys/gnark/logger"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config selects log level and outputs. Empty file paths disable that output.
type Config struct {
	Level     string
	File      string
	AuditFile string
	Console   bool
	// Gnark routes the circuit compiler and prover logs through the same logger.
	Gnark bool
}

// Logger wraps a zerolog.Logger and the files it writes to.
type Logger struct {
	zerolog.Logger
	files []*os.File
}

// ParseLevel maps config strings to zerolog levels; unknown values mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// New builds the logger. Warnings and above are duplicated to the audit file.
func New(cfg Config) (*Logger, error) {
	l := &Logger{}
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime})
	}
	if cfg.File != "" {
		f, err := openAppend(cfg.File)
		if err != nil {
			return nil, errors.Wrap(err, "open log file")
		}
		l.files = append(l.files, f)
		writers = append(writers, f)
	}
	if cfg.AuditFile != "" {
		f, err := openAppend(cfg.AuditFile)
		if err != nil {
			l.Close()
			return nil, errors.Wrap(err, "open audit file")
		}
		l.files = append(l.files, f)
		writers = append(writers, &minLevelWriter{w: f, min: zerolog.WarnLevel})
	}

	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = zerolog.MultiLevelWriter(writers...)
	}
	l.Logger = zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	if cfg.Gnark {
		gnarklog.Set(l.Logger.With().Str("component", "gnark").Logger())
	}
	return l, nil
}

// Nop returns a logger that drops everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Close closes the log files.
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// minLevelWriter forwards only events at or above min.
type minLevelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (m *minLevelWriter) Write(p []byte) (int, error) {
	return m.w.Write(p)
}

func (m *minLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < m.min {
		return len(p), nil
	}
	return m.w.Write(p)
}

package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes rotated log files.
// If StdoutPath/StderrPath are empty and Dir is set, a child process named
// <name> logs to Dir/<name>.stdout.log and Dir/<name>.stderr.log.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `mapstructure:"dir"`
	StdoutPath string `mapstructure:"stdout"`
	StderrPath string `mapstructure:"stderr"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config is the logging configuration of the harness itself and of the
// supervised backend output.
type Config struct {
	Level  string     `mapstructure:"level"`  // debug, info, warn, error
	Format string     `mapstructure:"format"` // text or json
	Color  bool       `mapstructure:"color"`
	Path   string     `mapstructure:"path"` // harness log file; stderr when empty
	File   FileConfig `mapstructure:"file"`
}

// ProcessWriters returns rotating writers for stdout and stderr of the child
// process called name. A nil writer means that stream is discarded.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	f := c.File
	stdout := f.StdoutPath
	stderr := f.StderrPath
	if stdout == "" && f.Dir != "" {
		stdout = filepath.Join(f.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && f.Dir != "" {
		stderr = filepath.Join(f.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = f.rotating(stdout)
	}
	if stderr != "" {
		errW = f.rotating(stderr)
	}
	return outW, errW, nil
}

func (f FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

// Setup installs the default slog logger described by c. The returned closer
// releases the log file, if any.
func Setup(c Config) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)
	if c.Path != "" {
		if err := os.MkdirAll(filepath.Dir(c.Path), 0o750); err != nil {
			return nil, nil, err
		}
		l := c.File.rotating(c.Path)
		w, closer = l, l
	}
	l := slog.New(NewHandler(w, c))
	slog.SetDefault(l)
	return l, closer, nil
}

// NewHandler builds the slog handler for c writing to w.
func NewHandler(w io.Writer, c Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	if strings.EqualFold(c.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	if c.Color && c.Path == "" {
		return NewColorTextHandler(w, opts, true)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name to slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultFileName is the log file name used by the embedded engine.
const DefaultFileName = "fs_matcher.log"

// FileConfig holds log file rotation settings. Sizes are in megabytes and
// ages in days, matching [lumberjack.Logger].
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// EngineFileConfig returns the rotation policy of the embedded engine's log:
// 5 MB per file, two rolled backups, in dir (or [DefaultDir] when empty).
func EngineFileConfig(dir string) FileConfig {
	if dir == "" {
		dir = DefaultDir()
	}
	return FileConfig{
		Path:       filepath.Join(dir, DefaultFileName),
		MaxSize:    5,
		MaxBackups: 2,
	}
}

// DefaultDir returns the platform-specific default log directory.
func DefaultDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.TempDir(), "YunShu Plugin", "Logs")
	case "darwin":
		return "/opt/.yunshu/logs"
	default:
		return filepath.Join(os.TempDir(), "fsmatcher", "logs")
	}
}

// NewFileWriter returns a size-rotated writer for cfg. The parent directory
// is created if missing.
func NewFileWriter(cfg FileConfig) (io.WriteCloser, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: log file path is empty", ErrInvalidArgument)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}, nil
}

// Setup opens a rotated log file for cfg and installs a handler writing to
// it as the [slog] default. The returned closer releases the file.
func Setup(cfg FileConfig, level slog.Level, format Format) (io.Closer, error) {
	w, err := NewFileWriter(cfg)
	if err != nil {
		return nil, err
	}

	handler := CreateHandler(w, level, format)
	if handler == nil {
		_ = w.Close()
		return nil, fmt.Errorf("%w: %q", ErrUnknownLogFormat, format)
	}

	slog.SetDefault(slog.New(handler))

	return w, nil
}

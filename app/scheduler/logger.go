package scheduler

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mailtide/mailtide/config"
)

// NewSchedulerLogger builds the engine's logger: stdout plus a size-rotated
// file under the configured directory. When the directory cannot be created
// the logger degrades to stdout only.
func NewSchedulerLogger(cfg config.LoggingConfig) *log.Logger {
	flags := log.LstdFlags | log.Lmicroseconds | log.LUTC

	dir := cfg.Directory
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger := log.New(os.Stdout, "scheduler ", flags)
		logger.Printf("log directory %s unavailable, logging to stdout only: %v", dir, err)
		return logger
	}

	rotated := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "scheduler.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return log.New(io.MultiWriter(os.Stdout, rotated), "scheduler ", flags)
}

package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorLogger records one failure. The returned error is non-nil only when
// the log itself could not be written.
type ErrorLogger interface {
	LogError(err error) error
}

// FileErrorLogger writes each failure to the console logger and appends a
// "[<timestamp>] <message>" line to an append-only file.
type FileErrorLogger struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewFileErrorLogger returns a logger appending to path. A nil logger uses
// slog.Default().
func NewFileErrorLogger(path string, logger *slog.Logger) *FileErrorLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileErrorLogger{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
}

// LogError implements ErrorLogger.
func (l *FileErrorLogger) LogError(err error) error {
	if err == nil {
		return nil
	}
	l.logger.Error("site could not be reached or there has been a problem",
		slog.Any("error", err),
		slog.String("error_log", l.path),
	)

	line := fmt.Sprintf("[%s] %s\n", l.now().Format(time.RFC3339), err.Error())

	l.mu.Lock()
	defer l.mu.Unlock()

	if dirErr := ensureDir(filepath.Dir(l.path)); dirErr != nil {
		return dirErr
	}
	f, openErr := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if openErr != nil {
		return &PersistenceError{Op: "open error log", Path: l.path, Err: openErr}
	}
	if _, writeErr := f.WriteString(line); writeErr != nil {
		f.Close()
		return &PersistenceError{Op: "append error log", Path: l.path, Err: writeErr}
	}
	if closeErr := f.Close(); closeErr != nil {
		return &PersistenceError{Op: "close error log", Path: l.path, Err: closeErr}
	}
	return nil
}

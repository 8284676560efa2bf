package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"trafficmonitor/internal/config"
)

// Log file names inside the log directory, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (info/warning/error) to rotated files and stdout/stderr.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	logDir     string
	files      map[string]*lumberjack.Logger
	mu         sync.Mutex
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(config *config.Config) *Logger {
	if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}

	logger := &Logger{
		logDir: config.LogDirectory,
		files:  make(map[string]*lumberjack.Logger),
	}

	logger.setupLoggers(config.LogMaxSizeMB)
	return logger
}

// New creates a Logger that writes only to the given writers. Used by tests
// and tools that do not keep log files.
func New(out, errOut io.Writer) *Logger {
	l := &Logger{}
	l.setWriters(out, out, errOut)
	return l
}

// setupLoggers initializes rotating writers and per-level loggers.
func (l *Logger) setupLoggers(maxSizeMB int) {
	infoFile := l.openLogFile(InfoFile, maxSizeMB)
	warningFile := l.openLogFile(WarningFile, maxSizeMB)
	errorFile := l.openLogFile(ErrorFile, maxSizeMB)

	l.setWriters(
		io.MultiWriter(os.Stdout, infoFile),
		io.MultiWriter(os.Stdout, warningFile),
		io.MultiWriter(os.Stderr, errorFile),
	)
}

func (l *Logger) setWriters(info, warning, errOut io.Writer) {
	l.infoLog = log.New(info, "ℹ️  INFO    ", log.Ldate|log.Ltime|log.Lshortfile)
	l.warningLog = log.New(warning, "⚠️  WARNING ", log.Ldate|log.Ltime|log.Lshortfile)
	l.errorLog = log.New(errOut, "❌ ERROR   ", log.Ldate|log.Ltime|log.Lshortfile)
}

// openLogFile returns a size-rotated writer for a file in the log directory.
func (l *Logger) openLogFile(name string, maxSizeMB int) *lumberjack.Logger {
	file := &lumberjack.Logger{
		Filename:   filepath.Join(l.logDir, name),
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		Compress:   true,
	}
	l.files[name] = file
	return file
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Output(2, fmt.Sprintf(format, v...))
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Output(2, fmt.Sprintf(format, v...))
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Output(2, fmt.Sprintf(format, v...))
}

// Dir returns the log directory, empty for writer-only loggers.
func (l *Logger) Dir() string {
	return l.logDir
}

// Rotate moves the current file of a level aside and starts an empty one.
func (l *Logger) Rotate(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, ok := l.files[name]
	if !ok {
		return fmt.Errorf("unknown log file: %s", name)
	}
	return file.Rotate()
}

// Close closes the rotated log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

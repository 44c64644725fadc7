package logger

import (
	"io"
	"log"
	"os"
	"strings"
)

var (
	Info    = log.New(io.Discard, "", 0)
	Warn    = log.New(io.Discard, "", 0)
	Debug   = log.New(io.Discard, "", 0)
	Verbose = log.New(io.Discard, "", 0)
	Error   = log.New(os.Stderr, "❌ ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	Always  = log.New(io.Discard, "", 0) // Always logs regardless of log level

	// Current log level for filtering
	currentLogLevel = "info"
	logFile         *os.File
)

func Init() error {
	return InitWithLevel("info")
}

func InitWithLevel(logLevel string) error {
	return InitWithConfig(logLevel, "pinnbs.log")
}

// InitWithConfig logs to logFilePath. Errors are also copied to stderr.
func InitWithConfig(logLevel, logFilePath string) error {
	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	if logFile != nil {
		logFile.Close()
	}
	logFile = f

	setup(logLevel, f, io.MultiWriter(os.Stderr, f))
	return nil
}

// InitWithWriter logs everything at or above logLevel to w. The CLI uses it
// to log to stderr instead of a file.
func InitWithWriter(logLevel string, w io.Writer) {
	setup(logLevel, w, w)
}

// Close closes the log file opened by InitWithConfig, if any.
func Close() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	InitWithWriter(currentLogLevel, io.Discard)
	return err
}

func setup(logLevel string, w, errWriter io.Writer) {
	currentLogLevel = strings.ToLower(strings.TrimSpace(logLevel))

	Info = log.New(getWriter("info", w, io.Discard), "ℹ️  INFO: ", log.Ldate|log.Ltime)
	Warn = log.New(getWriter("warn", w, io.Discard), "⚠️  WARN: ", log.Ldate|log.Ltime|log.Lshortfile)
	Debug = log.New(getWriter("debug", w, io.Discard), "🐛 DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
	Verbose = log.New(getWriter("verbose", w, io.Discard), "🔍 VERBOSE: ", log.Ldate|log.Ltime|log.Lshortfile)
	Error = log.New(errWriter, "❌ ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	Always = log.New(w, "📝 ALWAYS: ", log.Ldate|log.Ltime)
}

// Level returns the active log level.
func Level() string {
	return currentLogLevel
}

// getWriter returns the appropriate writer based on log level
func getWriter(level string, activeWriter, disabledWriter io.Writer) io.Writer {
	if shouldLog(level) {
		return activeWriter
	}
	return disabledWriter
}

// shouldLog determines if a log level should be active
func shouldLog(level string) bool {
	levels := map[string]int{
		"error":   0,
		"warn":    1,
		"info":    2,
		"debug":   3,
		"verbose": 4,
	}

	currentLevel, exists := levels[currentLogLevel]
	if !exists {
		currentLevel = 2 // default to info
	}

	requiredLevel, exists := levels[level]
	if !exists {
		return false
	}

	return currentLevel >= requiredLevel
}

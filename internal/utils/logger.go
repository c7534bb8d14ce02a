package utils

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Fatal    LogLevel = Critical
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

var (
	defaultLevel   = Info
	defaultLevelMu sync.RWMutex
	defaultOutput  io.Writer = os.Stdout
)

// SetDefaultLogLevel sets the level used by loggers created without an explicit level
func SetDefaultLogLevel(level LogLevel) {
	defaultLevelMu.Lock()
	defer defaultLevelMu.Unlock()
	defaultLevel = level
}

// ParseLogLevel converts a textual level (debug, info, warn, error) into a LogLevel
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	case "critical", "fatal":
		return Critical
	default:
		return Info
	}
}

// Logger provides structured logging with context
type Logger struct {
	prefix        string
	entry         *logrus.Entry
	logLevel      LogLevel
	logLevelMutex sync.RWMutex
}

// NewLogger creates a new logger with a given prefix
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	defaultLevelMu.RLock()
	logLevelValue := defaultLevel
	defaultLevelMu.RUnlock()
	if len(logLevel) > 0 {
		logLevelValue = logLevel[0]
	}

	base := logrus.New()
	base.SetOutput(defaultOutput)
	base.SetLevel(logrus.TraceLevel)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return &Logger{
		prefix:   prefix,
		entry:    base.WithField("component", prefix),
		logLevel: logLevelValue,
	}
}

// SetOutput redirects the logger output
func (l *Logger) SetOutput(w io.Writer) {
	l.entry.Logger.SetOutput(w)
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	l.logLevel = logLevel
}

func (l *Logger) enabled(level LogLevel) bool {
	l.logLevelMutex.RLock()
	defer l.logLevelMutex.RUnlock()
	return l.logLevel <= level
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	if !l.enabled(Info) {
		return
	}
	l.withFields(keyvals...).Info(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	if !l.enabled(Error) {
		return
	}
	l.withFields(keyvals...).Error(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	if !l.enabled(Warning) {
		return
	}
	l.withFields(keyvals...).Warn(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	if !l.enabled(Debug) {
		return
	}
	l.withFields(keyvals...).Debug(msg)
}

// withFields turns key-value pairs into logrus fields; a dangling key is dropped
func (l *Logger) withFields(keyvals ...interface{}) *logrus.Entry {
	if len(keyvals) < 2 {
		return l.entry
	}
	fields := make(logrus.Fields, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		fields[key] = keyvals[i+1]
	}
	return l.entry.WithFields(fields)
}

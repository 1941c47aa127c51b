package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a config string to a Level. Unknown names fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Options configures the default logger.
type Options struct {
	Level     string
	RedactPII bool
	// File enables rotating file output instead of stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger writes one JSON object per line with optional PII redaction.
type Logger struct {
	level     Level
	mu        sync.Mutex
	out       io.Writer
	redactPII bool
	component string
}

var defaultLogger = &Logger{level: INFO, out: os.Stderr, redactPII: true}

// Setup applies opts to the default logger. The returned closer flushes and
// closes the rotating file when one is configured.
func Setup(opts Options) io.Closer {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()

	defaultLogger.level = ParseLevel(opts.Level)
	defaultLogger.redactPII = opts.RedactPII

	if opts.File == "" {
		defaultLogger.out = os.Stderr
		return nopCloser{}
	}
	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	defaultLogger.out = lj
	return lj
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level = l }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { defaultLogger.redactPII = r }

// SetOutput redirects the default logger, mainly for tests.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.mu.Unlock()
}

// With returns a logger that tags every entry with a component name and
// shares the default logger's settings.
func With(component string) *Logger {
	return &Logger{component: component}
}

func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, "", msg, fields...) }
func Info(msg string, fields ...interface{})  { defaultLogger.log(INFO, "", msg, fields...) }
func Warn(msg string, fields ...interface{})  { defaultLogger.log(WARN, "", msg, fields...) }
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, "", msg, fields...) }

func (l *Logger) Debug(msg string, fields ...interface{}) {
	defaultLogger.log(DEBUG, l.component, msg, fields...)
}
func (l *Logger) Info(msg string, fields ...interface{}) {
	defaultLogger.log(INFO, l.component, msg, fields...)
}
func (l *Logger) Warn(msg string, fields ...interface{}) {
	defaultLogger.log(WARN, l.component, msg, fields...)
}
func (l *Logger) Error(msg string, fields ...interface{}) {
	defaultLogger.log(ERROR, l.component, msg, fields...)
}

func (l *Logger) log(level Level, component, msg string, fields ...interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	if component != "" {
		entry["component"] = component
	}

	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		var val string
		if err, ok := fields[i+1].(error); ok && err != nil {
			val = err.Error()
		} else {
			val = fmt.Sprintf("%v", fields[i+1])
		}
		if l.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

// Package logging provides the structured logger used by every component of
// the media compressor.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents a logging severity.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// Format selects the on-disk/console representation of a log entry.
type Format int

const (
	TextFormat Format = iota
	JSONFormat
)

// ParseFormat parses a string into a Format.
func ParseFormat(format string) (Format, error) {
	switch strings.ToLower(format) {
	case "text", "":
		return TextFormat, nil
	case "json":
		return JSONFormat, nil
	default:
		return TextFormat, fmt.Errorf("invalid log format: %s", format)
	}
}

// Entry is a single emitted log line.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger is an instance-based structured logger. It is always constructed
// explicitly and passed into components at construction time; there is no
// package-level global.
type Logger struct {
	mu        sync.RWMutex
	level     Level
	format    Format
	output    io.Writer
	component string
	sanitize  bool
}

// Config configures a Logger.
type Config struct {
	Level     Level
	Format    Format
	Output    io.Writer
	Component string
	Sanitize  bool
}

// DefaultConfig returns sensible defaults: info level, text format, stdout,
// sanitizing enabled (configuration carries SMTP/webhook/basic-auth secrets).
func DefaultConfig() *Config {
	return &Config{
		Level:    InfoLevel,
		Format:   TextFormat,
		Output:   os.Stdout,
		Sanitize: true,
	}
}

var (
	sensitiveFieldPattern = regexp.MustCompile(`(?i)(password|passwd|secret|token|key|auth|credential)`)
	inlineSecretPattern   = regexp.MustCompile(`(?i)(password|passwd|secret|token|key|auth|credential)\s*[:=]\s*\S+`)
)

// New creates a Logger from the given configuration.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &Logger{
		level:     cfg.Level,
		format:    cfg.Format,
		output:    cfg.Output,
		component: cfg.Component,
		sanitize:  cfg.Sanitize,
	}
}

// With returns a child logger scoped to the given component name.
func (l *Logger) With(component string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{
		level:     l.level,
		format:    l.format,
		output:    l.output,
		component: component,
		sanitize:  l.sanitize,
	}
}

// SetLevel adjusts the minimum emitted level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) enabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func (l *Logger) sanitizeString(s string) string {
	if !l.sanitize || s == "" {
		return s
	}
	return inlineSecretPattern.ReplaceAllStringFunc(s, func(match string) string {
		idx := strings.IndexAny(match, ":=")
		if idx < 0 {
			return "[REDACTED]"
		}
		return match[:idx+1] + "[REDACTED]"
	})
}

func (l *Logger) sanitizeFields(fields map[string]interface{}) map[string]interface{} {
	if !l.sanitize || len(fields) == 0 {
		return fields
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if sensitiveFieldPattern.MatchString(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = l.sanitizeString(s)
			continue
		}
		out[k] = v
	}
	return out
}

func (l *Logger) log(level Level, message string, fields map[string]interface{}) {
	if !l.enabled(level) {
		return
	}
	l.mu.RLock()
	format, output, component := l.format, l.output, l.component
	l.mu.RUnlock()

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Component: component,
		Message:   l.sanitizeString(message),
		Fields:    l.sanitizeFields(fields),
	}

	var line string
	switch format {
	case JSONFormat:
		data, err := json.Marshal(entry)
		if err != nil {
			return
		}
		line = string(data) + "\n"
	default:
		line = formatText(entry)
	}
	output.Write([]byte(line))
}

func formatText(e Entry) string {
	var b strings.Builder
	b.WriteString(e.Timestamp.Format("2006-01-02 15:04:05"))
	b.WriteString(" [")
	b.WriteString(e.Level)
	b.WriteString("]")
	if e.Component != "" {
		b.WriteString(" (")
		b.WriteString(e.Component)
		b.WriteString(")")
	}
	b.WriteString(" ")
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		b.WriteString(" [")
		first := true
		for k, v := range e.Fields {
			if !first {
				b.WriteString(" ")
			}
			first = false
			fmt.Fprintf(&b, "%s=%v", k, v)
		}
		b.WriteString("]")
	}
	b.WriteString("\n")
	return b.String()
}

// Debug logs a debug-level message with optional structured fields.
func (l *Logger) Debug(message string, fields ...map[string]interface{}) { l.logv(DebugLevel, message, fields) }

// Info logs an info-level message with optional structured fields.
func (l *Logger) Info(message string, fields ...map[string]interface{}) { l.logv(InfoLevel, message, fields) }

// Warn logs a warn-level message with optional structured fields.
func (l *Logger) Warn(message string, fields ...map[string]interface{}) { l.logv(WarnLevel, message, fields) }

// Error logs an error-level message with optional structured fields.
func (l *Logger) Error(message string, fields ...map[string]interface{}) { l.logv(ErrorLevel, message, fields) }

func (l *Logger) logv(level Level, message string, fields []map[string]interface{}) {
	var f map[string]interface{}
	if len(fields) > 0 {
		f = fields[0]
	}
	l.log(level, message, f)
}

// Debugf logs a formatted debug-level message.
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(DebugLevel, fmt.Sprintf(format, args...), nil) }

// Infof logs a formatted info-level message.
func (l *Logger) Infof(format string, args ...interface{}) { l.log(InfoLevel, fmt.Sprintf(format, args...), nil) }

// Warnf logs a formatted warn-level message.
func (l *Logger) Warnf(format string, args ...interface{}) { l.log(WarnLevel, fmt.Sprintf(format, args...), nil) }

// Errorf logs a formatted error-level message.
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(ErrorLevel, fmt.Sprintf(format, args...), nil) }

// CreateFileOutput opens (creating directories as needed) an append-only log
// file writer.
func CreateFileOutput(filename string) (io.Writer, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// CreateCombinedOutput writes to both stdout and a log file.
func CreateCombinedOutput(filename string) (io.Writer, error) {
	fileWriter, err := CreateFileOutput(filename)
	if err != nil {
		return nil, err
	}
	return io.MultiWriter(os.Stdout, fileWriter), nil
}

package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogFormat defines the output format for logs
type LogFormat int

const (
	FormatText LogFormat = iota
	FormatJSON
)

// LogEntry represents a complete log entry
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// logSink is shared by a logger and everything derived from it, so level
// and output changes reach every component logger.
type logSink struct {
	mu              sync.RWMutex
	level           LogLevel
	output          io.Writer
	format          LogFormat
	includeCaller   bool
	componentLevels map[string]LogLevel
}

// StructuredLogger provides structured logging with levels and fields.
// Derived loggers share their parent's sink and carry their own immutable
// context fields.
type StructuredLogger struct {
	sink          *logSink
	contextFields map[string]interface{}
}

// StructuredLoggerConfig holds configuration for the logger
type StructuredLoggerConfig struct {
	Level         LogLevel
	Output        io.Writer
	Format        LogFormat
	IncludeCaller bool
}

// DefaultStructuredLoggerConfig returns default configuration
func DefaultStructuredLoggerConfig() *StructuredLoggerConfig {
	return &StructuredLoggerConfig{
		Level:         INFO,
		Output:        os.Stdout,
		Format:        FormatText,
		IncludeCaller: true,
	}
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(config *StructuredLoggerConfig) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultStructuredLoggerConfig()
	}

	output := config.Output
	if output == nil {
		output = io.Discard
	}

	return &StructuredLogger{
		sink: &logSink{
			level:           config.Level,
			output:          output,
			format:          config.Format,
			includeCaller:   config.IncludeCaller,
			componentLevels: make(map[string]LogLevel),
		},
		contextFields: map[string]interface{}{},
	}, nil
}

// WithField returns a new logger with an additional context field
func (sl *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	return sl.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a new logger with multiple context fields
func (sl *StructuredLogger) WithFields(fields map[string]interface{}) *StructuredLogger {
	merged := make(map[string]interface{}, len(sl.contextFields)+len(fields))
	for k, v := range sl.contextFields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &StructuredLogger{sink: sl.sink, contextFields: merged}
}

// WithComponent returns a logger with a component field. Component levels
// set with SetComponentLevel apply to it.
func (sl *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return sl.WithField("component", component)
}

// WithError returns a logger carrying err under the "error" field
func (sl *StructuredLogger) WithError(err error) *StructuredLogger {
	if err == nil {
		return sl
	}
	return sl.WithField("error", err.Error())
}

// Enabled reports whether entries at level would be written
func (sl *StructuredLogger) Enabled(level LogLevel) bool {
	sl.sink.mu.RLock()
	defer sl.sink.mu.RUnlock()

	if component, ok := sl.contextFields["component"].(string); ok {
		if compLevel, exists := sl.sink.componentLevels[component]; exists {
			return level >= compLevel
		}
	}
	return level >= sl.sink.level
}

// SetComponentLevel sets the log level for a specific component
func (sl *StructuredLogger) SetComponentLevel(component string, level LogLevel) {
	sl.sink.mu.Lock()
	defer sl.sink.mu.Unlock()
	sl.sink.componentLevels[component] = level
}

// SetComponentLevels parses and applies a component to level map such as
// {"shrinker": "debug"}. Nothing is applied if any level is invalid.
func (sl *StructuredLogger) SetComponentLevels(levels map[string]string) error {
	parsed := make(map[string]LogLevel, len(levels))
	for component, name := range levels {
		level, err := ParseLogLevel(name)
		if err != nil {
			return fmt.Errorf("component %s: %w", component, err)
		}
		parsed[component] = level
	}
	for component, level := range parsed {
		sl.SetComponentLevel(component, level)
	}
	return nil
}

// SetLevel sets the global log level
func (sl *StructuredLogger) SetLevel(level LogLevel) {
	sl.sink.mu.Lock()
	defer sl.sink.mu.Unlock()
	sl.sink.level = level
}

// SetOutput redirects the logger and every logger derived from it
func (sl *StructuredLogger) SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	sl.sink.mu.Lock()
	defer sl.sink.mu.Unlock()
	sl.sink.output = w
}

// GetLevel returns the current global log level
func (sl *StructuredLogger) GetLevel() LogLevel {
	sl.sink.mu.RLock()
	defer sl.sink.mu.RUnlock()
	return sl.sink.level
}

func (sl *StructuredLogger) log(level LogLevel, message string, fields map[string]interface{}) {
	if !sl.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    make(map[string]interface{}, len(sl.contextFields)+len(fields)),
	}
	for k, v := range sl.contextFields {
		entry.Fields[k] = v
	}
	for k, v := range fields {
		entry.Fields[k] = v
	}

	sl.sink.mu.RLock()
	format, includeCaller := sl.sink.format, sl.sink.includeCaller
	sl.sink.mu.RUnlock()

	if includeCaller {
		// log <- Info/Debug/... <- caller
		if _, file, line, ok := runtime.Caller(2); ok {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}

	var output string
	if format == FormatJSON {
		if b, err := json.Marshal(entry); err == nil {
			output = string(b) + "\n"
		} else {
			output = formatText(entry)
		}
	} else {
		output = formatText(entry)
	}

	sl.sink.mu.Lock()
	defer sl.sink.mu.Unlock()
	_, _ = io.WriteString(sl.sink.output, output)
}

// formatText renders an entry on one line with fields sorted by key
func formatText(entry LogEntry) string {
	var sb strings.Builder

	sb.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(entry.Level)
	sb.WriteString("] ")

	if entry.Caller != "" {
		sb.WriteString("[")
		sb.WriteString(entry.Caller)
		sb.WriteString("] ")
	}

	sb.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, entry.Fields[k])
		}
		sb.WriteString("}")
	}

	sb.WriteString("\n")
	return sb.String()
}

// Trace logs a trace message
func (sl *StructuredLogger) Trace(message string, fields ...map[string]interface{}) {
	sl.log(TRACE, message, first(fields))
}

// Debug logs a debug message
func (sl *StructuredLogger) Debug(message string, fields ...map[string]interface{}) {
	sl.log(DEBUG, message, first(fields))
}

// Info logs an info message
func (sl *StructuredLogger) Info(message string, fields ...map[string]interface{}) {
	sl.log(INFO, message, first(fields))
}

// Warn logs a warning message
func (sl *StructuredLogger) Warn(message string, fields ...map[string]interface{}) {
	sl.log(WARN, message, first(fields))
}

// Error logs an error message
func (sl *StructuredLogger) Error(message string, fields ...map[string]interface{}) {
	sl.log(ERROR, message, first(fields))
}

// Fatal logs a fatal message and exits
func (sl *StructuredLogger) Fatal(message string, fields ...map[string]interface{}) {
	sl.log(FATAL, message, first(fields))
	os.Exit(1)
}

func first(fieldMaps []map[string]interface{}) map[string]interface{} {
	if len(fieldMaps) > 0 {
		return fieldMaps[0]
	}
	return nil
}

// NopLogger returns a logger that discards everything
func NopLogger() *StructuredLogger {
	logger, _ := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  FATAL,
		Output: io.Discard,
	})
	return logger
}

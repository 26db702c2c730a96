package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// Fields carries structured key/value context for one log line.
type Fields map[string]any

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string `json:"ts"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Session   string `json:"session,omitempty"`
	Message   string `json:"msg"`
	Fields    Fields `json:"fields,omitempty"`
}

// StructuredLogger wraps a standard logger with component and session context.
type StructuredLogger struct {
	logger    *log.Logger
	component string
	session   string
	jsonMode  bool
}

// NewStructuredLogger creates a new structured logger. A nil logger uses the
// shared Logger at call time.
func NewStructuredLogger(logger *log.Logger, component string, jsonMode bool) *StructuredLogger {
	return &StructuredLogger{
		logger:    logger,
		component: component,
		jsonMode:  jsonMode,
	}
}

// WithSession returns a logger tagged with a conversation key.
func (s *StructuredLogger) WithSession(session string) *StructuredLogger {
	cp := *s
	cp.session = session
	return &cp
}

// WithComponent returns a logger with component context
func (s *StructuredLogger) WithComponent(component string) *StructuredLogger {
	cp := *s
	cp.component = component
	return &cp
}

func (s *StructuredLogger) out() *log.Logger {
	if s == nil || s.logger == nil {
		return Logger
	}
	return s.logger
}

func (s *StructuredLogger) log(level string, msg string, fields Fields) {
	if s == nil {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Component: s.component,
		Session:   s.session,
		Message:   msg,
		Fields:    fields,
	}

	if s.jsonMode {
		data, _ := json.Marshal(entry)
		s.out().Println(string(data))
		return
	}

	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	if s.component != "" {
		fmt.Fprintf(&b, "[%s] ", s.component)
	}
	if s.session != "" {
		fmt.Fprintf(&b, "[session:%s] ", s.session)
	}
	b.WriteString(msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	s.out().Println(b.String())
}

// Info logs an info message
func (s *StructuredLogger) Info(msg string, fields ...Fields) {
	s.log("INFO", msg, mergeFields(fields...))
}

// Error logs an error message
func (s *StructuredLogger) Error(msg string, fields ...Fields) {
	s.log("ERROR", msg, mergeFields(fields...))
}

// Debug logs a debug message; dropped unless DEV_MODE=1.
func (s *StructuredLogger) Debug(msg string, fields ...Fields) {
	if !DevMode {
		return
	}
	s.log("DEBUG", msg, mergeFields(fields...))
}

// Warn logs a warning message
func (s *StructuredLogger) Warn(msg string, fields ...Fields) {
	s.log("WARN", msg, mergeFields(fields...))
}

func mergeFields(fields ...Fields) Fields {
	result := make(Fields)
	for _, m := range fields {
		for k, v := range m {
			result[k] = v
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

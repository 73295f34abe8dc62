package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// LogLevel represents the severity level of a log entry
type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelNone:
		return "NONE"
	case LogLevelError:
		return "ERROR"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a bridge.toml log_level string ("error", "warning",
// "info", "debug", "trace", case-insensitive) into a LogLevel, ok=false
// for anything else.
func ParseLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(s) {
	case "none":
		return LogLevelNone, true
	case "error":
		return LogLevelError, true
	case "warning", "warn":
		return LogLevelWarning, true
	case "info":
		return LogLevelInfo, true
	case "debug":
		return LogLevelDebug, true
	case "trace":
		return LogLevelTrace, true
	default:
		return LogLevelNone, false
	}
}

// Component represents the part of the bridge that generated the log entry
type Component string

const (
	ComponentLayout      Component = "Layout"
	ComponentMIDI        Component = "MIDI"
	ComponentSysEx       Component = "SysEx"
	ComponentOSC         Component = "OSC"
	ComponentCoordinator Component = "Coordinator"
	ComponentConfig      Component = "Config"
	ComponentSystem      Component = "System"
)

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time
	Component Component
	Level     LogLevel
	Message   string
	Data      map[string]interface{} // Optional structured data
}

// Format formats the log entry as a string
func (e *LogEntry) Format() string {
	timestamp := e.Timestamp.Format("15:04:05.000")
	return fmt.Sprintf("[%s] [%s] %s: %s", timestamp, e.Component, e.Level, e.Message)
}

// Package logging provides a small leveled wrapper over the standard
// library logger, component-tagged in the teacher's style ("EXECUTOR ...",
// "WATCHER ...") rather than a structured third-party logger, since no
// logging library appears anywhere in the teacher's go.mod.
package logging

import (
	"log"
	"os"
	"strings"
)

// Level is a coarse verbosity level driven by the LOG_LEVEL env var.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger tags every line with a component name and filters by level.
type Logger struct {
	component string
	level     Level
	out       *log.Logger
}

// New builds a component-tagged Logger reading its threshold from
// LOG_LEVEL (default "info").
func New(component string) *Logger {
	return &Logger{
		component: component,
		level:     parseLevel(os.Getenv("LOG_LEVEL")),
		out:       log.New(os.Stdout, "", log.LstdFlags),
	}
}

// WithLevel overrides the threshold explicitly (used in tests).
func (l *Logger) WithLevel(lvl Level) *Logger {
	clone := *l
	clone.level = lvl
	return &clone
}

func (l *Logger) log(lvl Level, tag, format string, args ...interface{}) {
	if lvl < l.level {
		return
	}
	l.out.Printf("%s %s: "+format, append([]interface{}{strings.ToUpper(l.component), tag}, args...)...)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, "DEBUG", format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, "INFO", format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, "WARN", format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, "ERROR", format, args...) }

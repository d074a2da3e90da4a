// Package logging provides the leveled console logger used throughout the
// engine: the module graph builder, the loader pipeline, and the watcher
// all report through here rather than writing to stdout directly.
package logging

import (
	"fmt"
	"os"
	"sync"

	"github.com/pterm/pterm"
)

// init configures pterm styles to use foreground colors only (no
// backgrounds), matching the muted style of a build tool's terminal output.
func init() {
	pterm.Info = *pterm.Info.WithPrefix(pterm.Prefix{
		Text:  "INFO",
		Style: pterm.NewStyle(pterm.FgBlue),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)

	pterm.Success = *pterm.Success.WithPrefix(pterm.Prefix{
		Text:  "DONE",
		Style: pterm.NewStyle(pterm.FgGreen),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)

	pterm.Warning = *pterm.Warning.WithPrefix(pterm.Prefix{
		Text:  "WARN",
		Style: pterm.NewStyle(pterm.FgYellow),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)

	pterm.Error = *pterm.Error.WithPrefix(pterm.Prefix{
		Text:  "ERROR",
		Style: pterm.NewStyle(pterm.FgRed),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)

	pterm.Debug = *pterm.Debug.WithPrefix(pterm.Prefix{
		Text:  "DEBUG",
		Style: pterm.NewStyle(pterm.FgCyan),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)
}

// Level is the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is a leveled console logger. The zero value is not usable; use
// New or the package-level default logger.
type Logger struct {
	mu      sync.RWMutex
	debug   bool
	quiet   bool
	out     *os.File
}

// New creates a Logger writing through pterm's default writer.
func New() *Logger {
	return &Logger{out: os.Stderr}
}

var defaultLogger = New()

// Default returns the package-wide logger instance.
func Default() *Logger { return defaultLogger }

// SetDebugEnabled controls whether Debug messages are emitted.
func (l *Logger) SetDebugEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = enabled
}

// IsDebugEnabled reports whether Debug messages are emitted.
func (l *Logger) IsDebugEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.debug
}

// SetQuietEnabled suppresses Info/Debug/Success output, leaving only
// Warning and Error.
func (l *Logger) SetQuietEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quiet = enabled
}

func (l *Logger) IsQuietEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.quiet
}

func (l *Logger) Debug(format string, args ...any)   { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)    { l.log(LevelInfo, format, args...) }
func (l *Logger) Warning(format string, args ...any) { l.log(LevelWarning, format, args...) }
func (l *Logger) Error(format string, args ...any)   { l.log(LevelError, format, args...) }

// Success reports a completed operation. Suppressed in quiet mode, same as
// Info/Debug.
func (l *Logger) Success(format string, args ...any) {
	l.mu.RLock()
	quiet := l.quiet
	l.mu.RUnlock()
	if quiet {
		return
	}
	pterm.Success.Printf(format+"\n", args...)
}

func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.RLock()
	debug := l.debug
	quiet := l.quiet
	l.mu.RUnlock()

	if level == LevelDebug && !debug {
		return
	}
	if quiet && (level == LevelInfo || level == LevelDebug) {
		return
	}

	message := fmt.Sprintf(format, args...)
	switch level {
	case LevelDebug:
		pterm.Debug.Println(message)
	case LevelInfo:
		pterm.Info.Println(message)
	case LevelWarning:
		pterm.Warning.Println(message)
	case LevelError:
		pterm.Error.Println(message)
	}
}

// Package-level convenience wrappers around the default logger.

func Debug(format string, args ...any)   { defaultLogger.Debug(format, args...) }
func Info(format string, args ...any)    { defaultLogger.Info(format, args...) }
func Warning(format string, args ...any) { defaultLogger.Warning(format, args...) }
func Error(format string, args ...any)   { defaultLogger.Error(format, args...) }
func Success(format string, args ...any) { defaultLogger.Success(format, args...) }

func SetDebugEnabled(enabled bool) { defaultLogger.SetDebugEnabled(enabled) }
func IsDebugEnabled() bool         { return defaultLogger.IsDebugEnabled() }
func SetQuietEnabled(enabled bool) { defaultLogger.SetQuietEnabled(enabled) }
func IsQuietEnabled() bool         { return defaultLogger.IsQuietEnabled() }

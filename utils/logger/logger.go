package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var levelColors = map[Level]string{
	LevelDebug: "\x1b[36m",
	LevelInfo:  "\x1b[32m",
	LevelWarn:  "\x1b[33m",
	LevelError: "\x1b[31m",
}

const colorReset = "\x1b[0m"

func (l Level) String() string {
	return levelNames[l]
}

// ParseLevel maps DEBUG/INFO/WARN(ING)/ERROR, case-insensitively. Anything
// else is INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	}
	return LevelInfo
}

// Logger writes "[time][LEVEL][name] message" lines.
type Logger struct {
	name  string
	level Level
	mu    sync.Mutex
	out   io.Writer
	color bool
}

var (
	registryMu sync.Mutex
	registry   []*Logger
)

// NewLogger creates a named logger. A nil writer means stdout; level tags
// are coloured when writing to a terminal. Every logger is registered so
// Configure can reach package-level loggers created at init time.
func NewLogger(name string, level string, writer io.Writer) *Logger {
	l := &Logger{name: name, level: ParseLevel(level)}
	l.setWriter(writer)
	registryMu.Lock()
	registry = append(registry, l)
	registryMu.Unlock()
	return l
}

// Configure applies level and writer to every logger created so far.
func Configure(level string, writer io.Writer) {
	registryMu.Lock()
	loggers := append([]*Logger(nil), registry...)
	registryMu.Unlock()
	for _, l := range loggers {
		l.SetLevel(level)
		l.SetOutput(writer)
	}
}

func (l *Logger) setWriter(writer io.Writer) {
	if writer == nil {
		writer = os.Stdout
	}
	l.out = writer
	l.color = false
	if f, ok := writer.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		l.out = colorable.NewColorable(f)
		l.color = true
	}
}

func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	l.level = ParseLevel(level)
	l.mu.Unlock()
}

// SetOutput redirects the logger, e.g. to a log file plus stdout.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.setWriter(w)
	l.mu.Unlock()
}

func (l *Logger) logf(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	tag := level.String()
	if l.color {
		tag = levelColors[level] + tag + colorReset
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	_, _ = fmt.Fprintf(l.out, "[%s][%s][%s] %s\n", ts, tag, l.name, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

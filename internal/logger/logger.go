package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel orders messages by severity. SILENT disables output.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var (
	levelNames = map[LogLevel]string{
		DEBUG:  "DEBUG",
		INFO:   "INFO",
		WARN:   "WARN",
		ERROR:  "ERROR",
		SILENT: "SILENT",
	}

	levelColors = map[LogLevel]string{
		DEBUG:  "\033[36m", // Cyan
		INFO:   "\033[32m", // Green
		WARN:   "\033[33m", // Yellow
		ERROR:  "\033[31m", // Red
		SILENT: "",
	}

	resetColor = "\033[0m"
)

// Logger writes leveled, module-tagged lines to a single writer
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	useColor bool
	out      *log.Logger
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
	once          sync.Once
)

// Init installs the global logger. Only the first call has an effect.
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultMu.Lock()
		defaultLogger = New(level, output, useColor)
		defaultMu.Unlock()
	})
}

// New returns a standalone logger, e.g. for tests.
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	return &Logger{
		level:    level,
		useColor: useColor,
		out:      log.New(output, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// SetLevel changes the threshold.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Enabled reports whether messages at level would be written
func (l *Logger) Enabled(level LogLevel) bool {
	return level != SILENT && level >= l.GetLevel()
}

func (l *Logger) log(level LogLevel, module string, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	prefix := "[" + level.String() + "]"
	if l.useColor {
		prefix = levelColors[level] + prefix + resetColor
	}
	if module != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, module)
	}

	l.out.Printf("%s %s", prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.log(DEBUG, module, format, args...)
}

func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.log(INFO, module, format, args...)
}

func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.log(WARN, module, format, args...)
}

func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.log(ERROR, module, format, args...)
}

// Module binds a module tag to a logger. A zero Module, or one created before
// Init, logs through the global logger once it exists.
type Module struct {
	name   string
	logger *Logger
}

// For returns a Module handle that logs through the global logger.
func For(name string) Module {
	return Module{name: name}
}

// Module returns a handle on l tagged with name.
func (l *Logger) Module(name string) Module {
	return Module{name: name, logger: l}
}

func (m Module) target() *Logger {
	if m.logger != nil {
		return m.logger
	}
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Name returns the module tag
func (m Module) Name() string { return m.name }

func (m Module) Debug(format string, args ...interface{}) {
	if l := m.target(); l != nil {
		l.Debug(m.name, format, args...)
	}
}

func (m Module) Info(format string, args ...interface{}) {
	if l := m.target(); l != nil {
		l.Info(m.name, format, args...)
	}
}

func (m Module) Warn(format string, args ...interface{}) {
	if l := m.target(); l != nil {
		l.Warn(m.name, format, args...)
	}
}

func (m Module) Error(format string, args ...interface{}) {
	if l := m.target(); l != nil {
		l.Error(m.name, format, args...)
	}
}

// Process-wide logger

// SetLevel adjusts the process-wide threshold.
func SetLevel(level LogLevel) {
	if l := For("").target(); l != nil {
		l.SetLevel(level)
	}
}

// GetLevel reports the process-wide threshold.
func GetLevel() LogLevel {
	if l := For("").target(); l != nil {
		return l.GetLevel()
	}
	return INFO
}

// Debug writes through the process-wide logger.
func Debug(module string, format string, args ...interface{}) {
	For(module).Debug(format, args...)
}

// Info writes through the process-wide logger.
func Info(module string, format string, args ...interface{}) {
	For(module).Info(format, args...)
}

// Warn writes through the process-wide logger.
func Warn(module string, format string, args ...interface{}) {
	For(module).Warn(format, args...)
}

// Error writes through the process-wide logger.
func Error(module string, format string, args ...interface{}) {
	For(module).Error(format, args...)
}

// ParseLevel accepts debug, info, warn, error or silent (case-insensitive).
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

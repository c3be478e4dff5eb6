package session

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel уровни логирования
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var logLevelNames = map[LogLevel]string{
	LogLevelTrace: "TRACE",
	LogLevelDebug: "DEBUG",
	LogLevelInfo:  "INFO",
	LogLevelWarn:  "WARN",
	LogLevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// Field представляет поле лога
type Field struct {
	Key   string
	Value interface{}
}

// Helpers для создания полей
func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Bool(key string, value bool) Field              { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value} }
func Any(key string, value interface{}) Field        { return Field{key, value} }
func Err(err error) Field                            { return Field{"error", err} }

// StructuredLogger интерфейс для структурированного логирования
// сигнального ядра. Контекстные логгеры (WithComponent/WithSession/WithFields)
// возвращают новый экземпляр, не меняя исходный.
type StructuredLogger interface {
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	WithComponent(component string) StructuredLogger
	WithSession(dialog DialogID) StructuredLogger
	WithFields(fields ...Field) StructuredLogger

	SetLevel(level LogLevel)
	IsEnabled(level LogLevel) bool
}

// DefaultLogger реализация StructuredLogger с простым текстовым форматом
type DefaultLogger struct {
	mu        sync.RWMutex
	level     LogLevel
	output    io.Writer
	component string
	fields    []Field
}

// NewDefaultLogger создает новый logger с настройками по умолчанию
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		level:  LogLevelInfo,
		output: os.Stdout,
	}
}

// SetLevel устанавливает минимальный уровень логирования
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// IsEnabled проверяет, включен ли уровень логирования
func (l *DefaultLogger) IsEnabled(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

// WithComponent создает logger с указанным компонентом
func (l *DefaultLogger) WithComponent(component string) StructuredLogger {
	child := l.clone()
	child.component = component
	return child
}

// WithSession создает logger с контекстом сигнального диалога
func (l *DefaultLogger) WithSession(dialog DialogID) StructuredLogger {
	child := l.clone()
	child.fields = append(child.fields, String("dialog_id", string(dialog)))
	return child
}

// WithFields создает logger с дополнительными полями
func (l *DefaultLogger) WithFields(fields ...Field) StructuredLogger {
	child := l.clone()
	child.fields = append(child.fields, fields...)
	return child
}

func (l *DefaultLogger) clone() *DefaultLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fields := make([]Field, len(l.fields))
	copy(fields, l.fields)
	return &DefaultLogger{
		level:     l.level,
		output:    l.output,
		component: l.component,
		fields:    fields,
	}
}

func (l *DefaultLogger) Trace(msg string, fields ...Field) { l.log(LogLevelTrace, msg, fields...) }
func (l *DefaultLogger) Debug(msg string, fields ...Field) { l.log(LogLevelDebug, msg, fields...) }
func (l *DefaultLogger) Info(msg string, fields ...Field)  { l.log(LogLevelInfo, msg, fields...) }
func (l *DefaultLogger) Warn(msg string, fields ...Field)  { l.log(LogLevelWarn, msg, fields...) }
func (l *DefaultLogger) Error(msg string, fields ...Field) { l.log(LogLevelError, msg, fields...) }

func (l *DefaultLogger) log(level LogLevel, msg string, fields ...Field) {
	if !l.IsEnabled(level) {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(&b, " [%-5s]", level.String())
	if l.component != "" {
		fmt.Fprintf(&b, " [%s]", l.component)
	}
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range l.fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	b.WriteByte('\n')

	l.mu.RLock()
	output := l.output
	l.mu.RUnlock()
	_, _ = io.WriteString(output, b.String())
}

// NoOpLogger логгер-заглушка для тестов
type NoOpLogger struct{}

func (NoOpLogger) Trace(msg string, fields ...Field)              {}
func (NoOpLogger) Debug(msg string, fields ...Field)              {}
func (NoOpLogger) Info(msg string, fields ...Field)               {}
func (NoOpLogger) Warn(msg string, fields ...Field)               {}
func (NoOpLogger) Error(msg string, fields ...Field)              {}
func (NoOpLogger) WithComponent(component string) StructuredLogger { return NoOpLogger{} }
func (NoOpLogger) WithSession(dialog DialogID) StructuredLogger    { return NoOpLogger{} }
func (NoOpLogger) WithFields(fields ...Field) StructuredLogger     { return NoOpLogger{} }
func (NoOpLogger) SetLevel(level LogLevel)                         {}
func (NoOpLogger) IsEnabled(level LogLevel) bool                   { return false }

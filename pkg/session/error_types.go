package session

import (
	"fmt"
	"time"
)

// ErrorCategory категории ошибок для классификации
type ErrorCategory string

const (
	ErrorCategorySystem    ErrorCategory = "SYSTEM"
	ErrorCategoryTransport ErrorCategory = "TRANSPORT"
	ErrorCategoryProtocol  ErrorCategory = "PROTOCOL"
	ErrorCategoryState     ErrorCategory = "STATE"
	ErrorCategoryMedia     ErrorCategory = "MEDIA"
	ErrorCategoryConfig    ErrorCategory = "CONFIG"
)

// String возвращает строковое представление категории ошибки
func (ec ErrorCategory) String() string {
	return string(ec)
}

// ErrorSeverity уровни критичности ошибок
type ErrorSeverity string

const (
	ErrorSeverityCritical ErrorSeverity = "CRITICAL"
	ErrorSeverityError    ErrorSeverity = "ERROR"
	ErrorSeverityWarning  ErrorSeverity = "WARNING"
)

// SessionError структурированная ошибка сигнального ядра с контекстом
type SessionError struct {
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`

	DialogID  string       `json:"dialog_id,omitempty"`
	State     SessionState `json:"state,omitempty"`
	Timestamp time.Time    `json:"timestamp"`

	Fields map[string]interface{} `json:"fields,omitempty"`
	Cause  error                  `json:"cause,omitempty"`
}

// Error реализует интерфейс error
func (e *SessionError) Error() string {
	if e.DialogID != "" {
		return fmt.Sprintf("[%s:%s] %s (dialog: %s)", e.Category, e.Code, e.Message, e.DialogID)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap позволяет использовать errors.Is и errors.As
func (e *SessionError) Unwrap() error {
	return e.Cause
}

// WithField добавляет дополнительное поле к ошибке
func (e *SessionError) WithField(key string, value interface{}) *SessionError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// WithCause добавляет исходную ошибку
func (e *SessionError) WithCause(cause error) *SessionError {
	e.Cause = cause
	return e
}

// NewSessionError создает новую структурированную ошибку
func NewSessionError(code, message string, category ErrorCategory, severity ErrorSeverity) *SessionError {
	return &SessionError{
		Code:      code,
		Message:   message,
		Category:  category,
		Severity:  severity,
		Timestamp: time.Now(),
	}
}

// Предопределенные ошибки для частых случаев

// ErrInvalidStateTransition возвращается при недопустимом переходе состояния
func ErrInvalidStateTransition(from SessionState, event string) *SessionError {
	return NewSessionError(
		"INVALID_STATE_TRANSITION",
		fmt.Sprintf("недопустимый переход по событию '%s' из состояния %s", event, from),
		ErrorCategoryState,
		ErrorSeverityError,
	).WithField("from_state", from.String()).WithField("event", event)
}

// ErrInvalidSessionState возвращается при вызове операции в неверном состоянии
func ErrInvalidSessionState(current SessionState, operation string) *SessionError {
	return NewSessionError(
		"INVALID_SESSION_STATE",
		fmt.Sprintf("нельзя выполнить операцию '%s' в состоянии %s", operation, current),
		ErrorCategoryState,
		ErrorSeverityError,
	).WithField("current_state", current.String()).WithField("operation", operation)
}

// ErrTransportFailure возвращается, когда транспорт отказался выполнить действие
func ErrTransportFailure(operation string, cause error) *SessionError {
	return NewSessionError(
		"TRANSPORT_FAILURE",
		fmt.Sprintf("ошибка транспорта при операции %s", operation),
		ErrorCategoryTransport,
		ErrorSeverityCritical,
	).WithField("operation", operation).WithCause(cause)
}

// ErrProtocolViolation возвращается при нарушении контракта коллаборатором.
// Такие ошибки указывают на ошибку программирования, а не на восстановимое
// условие времени выполнения.
func ErrProtocolViolation(message string) *SessionError {
	return NewSessionError(
		"PROTOCOL_VIOLATION",
		message,
		ErrorCategoryProtocol,
		ErrorSeverityError,
	)
}

// ErrNegotiationFailed возвращается при пустом пересечении кодеков
func ErrNegotiationFailed(position int) *SessionError {
	return NewSessionError(
		"NEGOTIATION_FAILED",
		fmt.Sprintf("пустое пересечение кодеков для m= линии %d", position),
		ErrorCategoryMedia,
		ErrorSeverityWarning,
	).WithField("position", position)
}

// ErrInvalidConfig возвращается при неверной конфигурации
func ErrInvalidConfig(field string, reason string) *SessionError {
	return NewSessionError(
		"INVALID_CONFIG",
		fmt.Sprintf("неверная конфигурация поля '%s': %s", field, reason),
		ErrorCategoryConfig,
		ErrorSeverityError,
	).WithField("field", field).WithField("reason", reason)
}

// IsCritical проверяет, является ли ошибка критичной
func IsCritical(err error) bool {
	if se, ok := err.(*SessionError); ok {
		return se.Severity == ErrorSeverityCritical
	}
	return false
}

// GetErrorCategory извлекает категорию ошибки
func GetErrorCategory(err error) ErrorCategory {
	if se, ok := err.(*SessionError); ok {
		return se.Category
	}
	return ErrorCategorySystem
}

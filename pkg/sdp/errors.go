package sdp

import (
	"errors"
	"fmt"
)

// ErrorCode определяет коды ошибок для операций с SDP
type ErrorCode int

const (
	ErrorCodeParsing ErrorCode = iota + 1000
	ErrorCodeGeneration
	ErrorCodeInvalidSpec
)

// Error представляет ошибку разбора или генерации SDP
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// NewError создает новую SDP ошибку
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError оборачивает существующую ошибку в Error
func WrapError(code ErrorCode, err error, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Wrapped: err,
	}
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	msg := fmt.Sprintf("SDP Error [%d]: %s", e.Code, e.Message)
	if e.Wrapped != nil {
		msg += fmt.Sprintf(" - Wrapped: %v", e.Wrapped)
	}
	return msg
}

// Unwrap возвращает обернутую ошибку для поддержки errors.Is/As
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// IsError проверяет, является ли ошибка Error с указанным кодом
func IsError(err error, code ErrorCode) bool {
	var sdpErr *Error
	if !errors.As(err, &sdpErr) {
		return false
	}
	return sdpErr.Code == code
}

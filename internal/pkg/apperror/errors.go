package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeInvalidIdentifier ErrorCode = "INVALID_IDENTIFIER"
	ErrCodeAuthFailed        ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeCooldownActive    ErrorCode = "COOLDOWN_ACTIVE"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeExpired           ErrorCode = "EXPIRED"
	ErrCodeExhausted         ErrorCode = "EXHAUSTED"
	ErrCodeAlreadyVerified   ErrorCode = "ALREADY_VERIFIED"
	ErrCodeInvalidCode       ErrorCode = "INVALID_CODE"
	ErrCodeDeliveryFailed    ErrorCode = "DELIVERY_FAILED"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// AppError — типизированная ошибка с HTTP статусом и машиночитаемыми
// деталями (remaining_seconds для cooldown, attempts_remaining для
// неверного кода). Детали попадают в тело ответа, не в текст сообщения.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Meta       map[string]any
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// NewCooldownActive строит ошибку активного cooldown с остатком в секундах.
func NewCooldownActive(remainingSeconds int64) *AppError {
	e := New(ErrCodeCooldownActive, "повторная отправка кода пока недоступна")
	e.Meta = map[string]any{"remaining_seconds": remainingSeconds}
	return e
}

// NewInvalidCode строит ошибку неверного кода с остатком попыток.
func NewInvalidCode(attemptsRemaining int) *AppError {
	e := New(ErrCodeInvalidCode, "неверный код подтверждения")
	e.Meta = map[string]any{"attempts_remaining": attemptsRemaining}
	return e
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeAuthFailed, ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeCooldownActive:
		return http.StatusTooManyRequests
	case ErrCodeExpired, ErrCodeExhausted:
		return http.StatusGone
	case ErrCodeAlreadyVerified, ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeInvalidIdentifier, ErrCodeInvalidCode, ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// As извлекает *AppError из цепочки ошибок.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

func Is(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

var (
	ErrChallengeNotFound = New(ErrCodeNotFound, "код не найден, запросите новый")
	ErrExpired           = New(ErrCodeExpired, "срок действия кода истёк, запросите новый")
	ErrExhausted         = New(ErrCodeExhausted, "попытки исчерпаны, запросите новый код")
	ErrAlreadyVerified   = New(ErrCodeAlreadyVerified, "код уже использован")
	ErrConflict          = New(ErrCodeConflict, "запрос проиграл конкурентную проверку, повторите")
	ErrAuthFailed        = New(ErrCodeAuthFailed, "неверные учётные данные")
	ErrUserNotFound      = New(ErrCodeNotFound, "пользователь не найден")
	ErrDeliveryFailed    = New(ErrCodeDeliveryFailed, "не удалось отправить код")
)

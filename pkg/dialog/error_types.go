package dialog

import (
	"errors"
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"
)

// ErrorCategory категории ошибок сигнального ядра
type ErrorCategory string

const (
	// Ошибка построения сообщения (неверный URI, заголовок, числовой аргумент)
	ErrorCategoryPayload ErrorCategory = "PAYLOAD"
	// Ошибка отправки/приема на транспорте, может повторяться выше
	ErrorCategoryNetwork ErrorCategory = "NETWORK"
	// Потеря регистрации (403 без Warning)
	ErrorCategoryRegistration ErrorCategory = "REGISTRATION"
	// Таймаут ожидания ответа
	ErrorCategoryTimeout ErrorCategory = "TIMEOUT"
	// Нарушение состояния диалога
	ErrorCategoryState ErrorCategory = "STATE"
)

// String возвращает строковое представление категории
func (ec ErrorCategory) String() string {
	return string(ec)
}

// Коды ошибок
const (
	CodeInvalidURI      = "INVALID_URI"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeInvalidBody     = "INVALID_BODY"
	CodeMissingInvite   = "MISSING_INVITE"
	CodeNotRegistered   = "NOT_REGISTERED"
	CodeTransport       = "TRANSPORT_FAILURE"
	CodeTimeout         = "TRANSACTION_TIMEOUT"
	CodeCSeqOrder       = "CSEQ_NOT_INCREASING"
)

// ErrNotRegistered стек потерял регистрацию
var ErrNotRegistered = errors.New("not registered")

// Error структурированная ошибка с контекстом
type Error struct {
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Category ErrorCategory `json:"category"`

	// Param значение, вызвавшее ошибку построения
	Param     string            `json:"param,omitempty"`
	CallID    string            `json:"call_id,omitempty"`
	Method    sip.RequestMethod `json:"method,omitempty"`
	Timestamp time.Time         `json:"timestamp"`

	Fields    map[string]interface{} `json:"fields,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
	if e.Param != "" {
		msg += fmt.Sprintf(" (param: %s)", e.Param)
	}
	if e.CallID != "" {
		msg += fmt.Sprintf(" (Call-ID: %s)", e.CallID)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap возвращает исходную ошибку
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithField добавляет поле контекста
func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// WithCallID привязывает ошибку к диалогу
func (e *Error) WithCallID(callID string) *Error {
	e.CallID = callID
	return e
}

// WithMethod привязывает ошибку к методу
func (e *Error) WithMethod(method sip.RequestMethod) *Error {
	e.Method = method
	return e
}

// NewError создает ошибку
func NewError(code, message string, category ErrorCategory) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  category,
		Timestamp: time.Now(),
	}
}

// NewPayloadError ошибка построения сообщения. Никогда не повторяется
// автоматически.
func NewPayloadError(code, param, message string, cause error) *Error {
	e := NewError(code, message, ErrorCategoryPayload)
	e.Param = param
	e.Cause = cause
	return e
}

// NewNetworkError ошибка транспорта
func NewNetworkError(operation string, cause error) *Error {
	e := NewError(CodeTransport, "transport failure during "+operation, ErrorCategoryNetwork)
	e.Cause = cause
	e.Retryable = true
	return e
}

// ErrTransactionTimeout ответ не получен за отведенное время
func ErrTransactionTimeout(method sip.RequestMethod, timeout time.Duration) *Error {
	e := NewError(CodeTimeout, fmt.Sprintf("no response received within %v", timeout), ErrorCategoryTimeout)
	e.Method = method
	e.Retryable = true
	return e
}

// ErrRegistrationLost эскалация потери регистрации на пути
// последующих запросов
func ErrRegistrationLost(method sip.RequestMethod, callID string) *Error {
	e := NewPayloadError(CodeNotRegistered, string(method), "registration lost (403 without Warning)", ErrNotRegistered)
	e.CallID = callID
	e.Method = method
	return e
}

// ErrCSeqNotIncreasing повторная отправка с неубывающим CSeq
func ErrCSeqNotIncreasing(callID string, cseq, last uint32) *Error {
	e := NewError(CodeCSeqOrder, fmt.Sprintf("cseq %d is not greater than last sent %d", cseq, last), ErrorCategoryState)
	e.CallID = callID
	return e
}

func categoryOf(err error) (ErrorCategory, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Category, true
	}
	return "", false
}

// IsPayload ошибка построения сообщения
func IsPayload(err error) bool {
	c, ok := categoryOf(err)
	return ok && c == ErrorCategoryPayload
}

// IsNetwork ошибка транспорта
func IsNetwork(err error) bool {
	c, ok := categoryOf(err)
	return ok && c == ErrorCategoryNetwork
}

// IsTimeout таймаут транзакции
func IsTimeout(err error) bool {
	c, ok := categoryOf(err)
	return ok && c == ErrorCategoryTimeout
}

// IsRetryable можно ли повторить операцию на уровне выше
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}

// GetErrorCode код ошибки или пустая строка
func GetErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation   = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal     = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrUnauthorized = NewError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrUnavailable  = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
)

// Routing taxonomy.
var (
	ErrDuplicateRuleName = NewError("DUPLICATE_RULE_NAME", "rule name already exists", http.StatusConflict)
	ErrRuleSyntax        = NewError("RULE_SYNTAX_ERROR", "rule condition does not compile", http.StatusBadRequest)
	ErrRuleEvaluation    = NewError("RULE_EVALUATION_ERROR", "rule condition failed at runtime", http.StatusUnprocessableEntity)
	ErrRecordProcessing  = NewError("RECORD_PROCESSING_ERROR", "record processing failed", http.StatusInternalServerError)
	ErrDelivery          = NewError("DELIVERY_ERROR", "delivery to queue failed", http.StatusBadGateway)
	ErrConfiguration     = NewError("CONFIGURATION_ERROR", "invalid definition", http.StatusBadRequest)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
		msg = detailMsg
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so sentinel comparisons survive WithCause/WithDetail copies.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	switch e.Code {
	case ErrValidation.Code, ErrNotFound.Code, ErrRuleSyntax.Code, ErrDuplicateRuleName.Code, ErrConfiguration.Code:
		return false
	}
	return true
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	return e.WithDetail("message", fmt.Sprintf(format, args...))
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool       { return hasCode(err, ErrNotFound.Code) }
func IsValidation(err error) bool     { return hasCode(err, ErrValidation.Code) }
func IsDuplicateRule(err error) bool  { return hasCode(err, ErrDuplicateRuleName.Code) }
func IsRuleSyntax(err error) bool     { return hasCode(err, ErrRuleSyntax.Code) }
func IsRuleEvaluation(err error) bool { return hasCode(err, ErrRuleEvaluation.Code) }
func IsDelivery(err error) bool       { return hasCode(err, ErrDelivery.Code) }
func IsConfiguration(err error) bool  { return hasCode(err, ErrConfiguration.Code) }

// Code returns the application error code, or INTERNAL_ERROR for foreign errors.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	msg := appErr.Message
	if detailMsg, ok := appErr.Details["message"].(string); ok && detailMsg != "" {
		msg = detailMsg
	}

	response := map[string]interface{}{
		"error":      msg,
		"error_code": appErr.Code,
	}

	details := make(map[string]interface{})
	for k, v := range appErr.Details {
		if k == "message" || k == "stack_trace" {
			continue
		}
		details[k] = v
	}
	if appErr.Cause != nil {
		details["cause"] = appErr.Cause.Error()
	}
	if len(details) > 0 {
		response["details"] = details
	}

	return response
}

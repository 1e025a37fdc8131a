package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Is(t *testing.T) {
	err := ErrDuplicateRuleName.WithDetail("rule", "urgent").WithCause(fmt.Errorf("boom"))
	wrapped := fmt.Errorf("add rule: %w", err)

	assert.True(t, stderrors.Is(wrapped, ErrDuplicateRuleName))
	assert.False(t, stderrors.Is(wrapped, ErrRuleSyntax))
	assert.True(t, IsDuplicateRule(wrapped))
	assert.Equal(t, "DUPLICATE_RULE_NAME", Code(wrapped))
	assert.Equal(t, "INTERNAL_ERROR", Code(fmt.Errorf("plain")))
}

func TestError_WithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrRuleSyntax.WithDetail("condition", "a ==")
	assert.Empty(t, ErrRuleSyntax.Details)
}

func TestError_Message(t *testing.T) {
	err := ErrDelivery.WithMessage("queue %s rejected message", "support")
	assert.Equal(t, "DELIVERY_ERROR: queue support rejected message", err.Error())

	withCause := ErrDelivery.WithCause(fmt.Errorf("timeout"))
	assert.Equal(t, "DELIVERY_ERROR: delivery to queue failed (caused by: timeout)", withCause.Error())
}

func TestError_Retryable(t *testing.T) {
	assert.False(t, ErrRuleSyntax.IsRetryable())
	assert.True(t, ErrDelivery.IsRetryable())
	assert.True(t, ErrDelivery.AsFatal().IsFatal())
	assert.True(t, ErrValidation.AsRetryable().IsRetryable())
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrNotFound.WithMessage("rule %q not found", "x").WithDetail("rule", "x"))
	assert.Equal(t, "NOT_FOUND", resp["error_code"])
	assert.Equal(t, `rule "x" not found`, resp["error"])
	details, ok := resp["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "x", details["rule"])

	resp = ToErrorResponse(fmt.Errorf("raw"))
	assert.Equal(t, "INTERNAL_ERROR", resp["error_code"])
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(fmt.Errorf("raw")))
	assert.Equal(t, http.StatusConflict, ToHTTPStatus(ErrDuplicateRuleName))
}

func TestRecoverPanic(t *testing.T) {
	assert.NoError(t, RecoverPanic(nil))

	err := RecoverPanic("bad thing")
	require.Error(t, err)
	var appErr *Error
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, ErrRecordProcessing.Code, appErr.Code)
	assert.Equal(t, true, appErr.Details["panic"])
	assert.True(t, appErr.IsFatal())
	assert.Contains(t, err.Error(), "panic: bad thing")
}

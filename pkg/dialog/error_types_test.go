package dialog

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadError(t *testing.T) {
	cause := errors.New("bad scheme")
	err := NewPayloadError(CodeInvalidURI, "target", "cannot parse uri", cause).
		WithMethod(sip.INVITE).
		WithCallID("abc").
		WithField("value", "foo:bar")

	assert.True(t, IsPayload(err))
	assert.False(t, IsNetwork(err))
	assert.False(t, IsRetryable(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeInvalidURI, GetErrorCode(err))
	assert.Equal(t, "foo:bar", err.Fields["value"])
	assert.Contains(t, err.Error(), "param: target")
	assert.Contains(t, err.Error(), "Call-ID: abc")
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	err := NewNetworkError("send BYE", errors.New("connection refused"))

	wrapped := fmt.Errorf("close session: %w", err)
	assert.True(t, IsNetwork(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, CodeTransport, GetErrorCode(wrapped))
}

func TestTransactionTimeout(t *testing.T) {
	err := ErrTransactionTimeout(sip.OPTIONS, 2*time.Second)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, sip.OPTIONS, err.Method)
	assert.Contains(t, err.Error(), "2s")
}

func TestRegistrationLostWrapsSentinel(t *testing.T) {
	err := ErrRegistrationLost(sip.MESSAGE, "call-1")

	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.True(t, IsPayload(err))
	assert.Equal(t, "call-1", err.CallID)
}

func TestCSeqNotIncreasing(t *testing.T) {
	var target *Error
	err := error(ErrCSeqNotIncreasing("call-1", 3, 5))
	require.True(t, errors.As(err, &target))
	assert.Equal(t, ErrorCategoryState, target.Category)
	assert.Equal(t, CodeCSeqOrder, target.Code)
}

func TestForeignErrors(t *testing.T) {
	err := errors.New("plain")
	assert.False(t, IsPayload(err))
	assert.False(t, IsTimeout(nil))
	assert.Empty(t, GetErrorCode(err))
}

package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, NotFound, KindOf(New(NotFound, "no pool")))
	assert.Equal(t, Timeout, KindOf(fmt.Errorf("outer: %w", New(Timeout, "15s elapsed"))))

	// Unclassified errors land in the retryable bucket.
	assert.Equal(t, NetworkFailure, KindOf(errors.New("dial tcp: refused")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(NetworkFailure, "connection reset")))
	assert.True(t, Retryable(New(Timeout, "confirmation timeout")))
	assert.False(t, Retryable(New(NotFound, "no pool")))
	assert.False(t, Retryable(New(LedgerRejected, "custom program error 0x1")))
	assert.False(t, Retryable(New(Infeasible, "proceeds exceed reserve")))
}

func TestUserMessageLedgerRejectedDetail(t *testing.T) {
	f := Wrap(LedgerRejected, "send transaction", errors.New("custom program error: 0x10"))
	f.Detail = "insufficient funds for swap"

	msg := UserMessage(f)
	assert.Contains(t, msg, "insufficient funds for swap")
}

func TestUserMessageRetryClass(t *testing.T) {
	for _, err := range []error{
		New(NetworkFailure, "send failed"),
		New(Timeout, "not confirmed"),
		errors.New("plain"),
	} {
		assert.Contains(t, UserMessage(err), "retry and re-approve")
	}
	assert.NotContains(t, UserMessage(New(LedgerRejected, "0x1")), "retry and re-approve")
}

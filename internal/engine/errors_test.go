package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPurchaseError_Message(t *testing.T) {
	err := newError(CodeStoreFailed, "gem_pack", "user cancelled")
	assert.Equal(t, "STORE_FAILED: user cancelled (item=gem_pack)", err.Error())

	bare := newError(CodeNotReady, "", "engine has not completed recovery")
	assert.Equal(t, "NOT_READY: engine has not completed recovery", bare.Error())
}

func TestPurchaseError_Transient(t *testing.T) {
	assert.True(t, newError(CodeNotReady, "a", "m").Transient())
	assert.True(t, newError(CodeStoreUnreachable, "a", "m").Transient())

	assert.False(t, newError(CodeStoreFailed, "a", "m").Transient())
	assert.False(t, newError(CodeValidationRejected, "a", "m").Transient())
	assert.False(t, newError(CodeAlreadyInProgress, "a", "m").Transient())
}

func TestErrorPredicates_SeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("purchase gem_pack: %w", newError(CodeAlreadyInProgress, "gem_pack", "in progress"))

	assert.True(t, IsAlreadyInProgress(wrapped))
	assert.False(t, IsTransient(wrapped))

	assert.False(t, IsAlreadyInProgress(errors.New("plain")))
	assert.False(t, IsTransient(nil))
}

package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewCommandError(KindExecution, "write failed", cause, "retry later")

	assert.Equal(t, "execution_failure: write failed", err.Error())
	assert.Equal(t, -1, err.Index)
	assert.ErrorIs(t, err, cause)

	indexed := err.AtIndex(2)
	assert.Equal(t, "execution_failure (command 2): write failed", indexed.Error())
	assert.Equal(t, -1, err.Index)
	assert.Equal(t, []string{"retry later"}, indexed.Suggestions)

	wrapped := fmt.Errorf("workflow: %w", indexed)
	assert.Equal(t, KindExecution, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindExecution))
	assert.False(t, IsKind(wrapped, KindNotFound))
	assert.Equal(t, ErrorKind(""), KindOf(cause))
}

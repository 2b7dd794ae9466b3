package julea

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("schema", "students")

	assert.EqualError(t, err, `julea: schema "students" not found`)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(ErrSchemaEmpty))

	wrapped := fmt.Errorf("loading schema: %w", err)
	assert.True(t, IsNotFound(wrapped))
}

func TestDriverError(t *testing.T) {
	inner := errors.New("UNIQUE constraint failed: students.id")
	err := NewDriverError("23505", "duplicate key", inner)

	assert.EqualError(t, err, "julea: driver error [23505]: duplicate key")
	assert.True(t, errors.Is(err, inner))
	assert.True(t, IsDriverError(err))
	assert.True(t, IsDriverError(fmt.Errorf("insert: %w", err)))
	assert.False(t, IsDriverError(ErrThreadingError))

	noCode := NewDriverError("", "driver closed", nil)
	assert.Equal(t, "julea: driver error: driver closed", noCode.Error())
}

func TestOperationError(t *testing.T) {
	err := NewOperationError(2, "kv-put", ErrOutOfSpace)

	require.Error(t, err)
	assert.Equal(t, "julea: operation 2 (kv-put): julea: backend out of space", err.Error())
	assert.True(t, errors.Is(err, ErrOutOfSpace))
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrShortRead, ErrBadMagic, ErrLengthMismatch, ErrOversize, ErrConnectionLost, ErrMalformedMessage,
		ErrUnknownOpcode, ErrWrongBackendHere, ErrTypeMismatch, ErrMalformedBson, ErrBsonInvalidType,
		ErrNotFound, ErrAlreadyExists, ErrIoError, ErrOutOfSpace,
		ErrSchemaNotFound, ErrSchemaEmpty, ErrDbTypeInvalid, ErrOperatorInvalid, ErrComparatorInvalid,
		ErrVariableNotFound, ErrNoVariableSet, ErrSelectorEmpty, ErrIteratorNoMoreElements, ErrThreadingError,
		ErrBatchPoisoned,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "sentinel %d and %d should not alias", i, j)
		}
	}
}

func TestBatchPoisoned(t *testing.T) {
	err := fmt.Errorf("batch 7: %w", ErrBatchPoisoned)
	assert.True(t, errors.Is(err, ErrBatchPoisoned))
}

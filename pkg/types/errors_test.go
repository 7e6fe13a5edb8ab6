package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCannotRemoveError(t *testing.T) {
	err := &CannotRemoveError{
		Table: EmailAddresses,
		Key:   "7",
		Reasons: []CannotRemoveReason{
			{Table: EmailForwardings, Key: "3", Description: "forwarding to ops@example.com"},
			{Table: EmailListAddresses, Key: "9", Description: "subscribed to list 2"},
		},
	}

	wrapped := fmt.Errorf("remove address: %w", err)
	assert.True(t, errors.Is(wrapped, ErrRemovalBlocked))

	var target *CannotRemoveError
	require.True(t, errors.As(wrapped, &target))
	assert.Len(t, target.Reasons, 2, "every reason must be enumerable, not just the first")
	assert.Contains(t, err.Error(), "email.forwardings 3")
	assert.Contains(t, err.Error(), "email.list_addresses 9")
}

func TestServerErrorIs(t *testing.T) {
	err := NewServerError(4, "email.domains 12 does not exist", ErrNotFound)
	assert.True(t, errors.Is(err, ErrServer))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrUnsupportedVersion))

	plain := NewServerError(3, "constraint failed", nil)
	assert.True(t, errors.Is(plain, ErrServer))
	assert.False(t, errors.Is(plain, ErrNotFound))
}

func TestTableNames(t *testing.T) {
	for _, id := range StandardTables {
		got, err := ParseTableName(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	_, err := ParseTableName("email.nowhere")
	assert.ErrorIs(t, err, ErrTableNotFound)
	assert.Equal(t, "table#99", TableID(99).String())
}

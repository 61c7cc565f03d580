package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseLedger checks the presence/absence contract shared by every backend.
// Calls run sequentially. Overlapping agent invocations are not coordinated,
// so interleaved Mark/Clear results are not asserted.
func exerciseLedger(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()
	id := DiskID("/var/lib/data")

	exists, err := l.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists, "fresh ledger should not contain a record")

	require.NoError(t, l.Clear(ctx, id), "clearing an absent record must be a no-op")
	exists, err = l.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, l.Mark(ctx, id))
	require.NoError(t, l.Mark(ctx, id), "marking twice must not fail")
	exists, err = l.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)

	other := ServiceID("myapp")
	exists, err = l.Exists(ctx, other)
	require.NoError(t, err)
	assert.False(t, exists, "records are keyed per condition")

	if lister, ok := l.(Lister); ok {
		require.NoError(t, l.Mark(ctx, other))
		ids, err := lister.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{id, other}, ids)
		require.NoError(t, l.Clear(ctx, other))
	}

	require.NoError(t, l.Clear(ctx, id))
	require.NoError(t, l.Clear(ctx, id))
	exists, err = l.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.True(t, errors.Is(l.Mark(ctx, "  "), ErrEmptyID))
}

func TestMemoryLedgerContract(t *testing.T) {
	exerciseLedger(t, NewMemory())
}

func TestMemoryLedgerPreMarked(t *testing.T) {
	l := NewMemory(ServiceID("myapp"))
	exists, err := l.Exists(context.Background(), ServiceID("myapp"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemoryLedgerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemory().Exists(ctx, DiskID("/"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConditionIDs(t *testing.T) {
	assert.Equal(t, "disk:/", DiskID("/"))
	assert.Equal(t, "service:nginx: master", ServiceID("nginx: master"))
}

func TestConditionOf(t *testing.T) {
	assert.Equal(t, ConditionDisk, ConditionOf(DiskID("/var")))
	assert.Equal(t, ConditionService, ConditionOf(ServiceID("nginx: master")))
	assert.Empty(t, ConditionOf("unknown"))
	assert.Empty(t, ConditionOf("cpu:0"))
}

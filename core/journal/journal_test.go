package journal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRevertUndoesNewestFirst(t *testing.T) {
	j := New()
	var order []int
	j.Append(func() { order = append(order, 1) })
	snap := j.Snapshot()
	j.Append(func() { order = append(order, 2) })
	j.Append(func() { order = append(order, 3) })

	j.RevertToSnapshot(snap)
	require.Equal(t, []int{3, 2}, order)
	require.Equal(t, 1, j.Len())
}

func TestAtomicallyRevertsOnError(t *testing.T) {
	j := New()
	balance := 10
	errBoom := errors.New("boom")

	err := j.Atomically(func() error {
		prev := balance
		balance = 0
		j.Append(func() { balance = prev })
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 10, balance)
	require.Zero(t, j.Len())
}

func TestAtomicallyNestedKeepsParentEntries(t *testing.T) {
	j := New()
	value := "a"

	err := j.Atomically(func() error {
		value = "b"
		j.Append(func() { value = "a" })
		inner := j.Atomically(func() error {
			value = "c"
			j.Append(func() { value = "b" })
			return nil
		})
		require.NoError(t, inner)
		require.Equal(t, 2, j.Len())
		return errors.New("outer failure")
	})
	require.Error(t, err)
	require.Equal(t, "a", value)
}

func TestNilJournalIsInert(t *testing.T) {
	var j *Journal
	j.Append(func() { t.Fatal("must not run") })
	require.Zero(t, j.Snapshot())
	j.RevertToSnapshot(0)
	require.NoError(t, j.Atomically(func() error { return nil }))
}

func TestAtomicallyNestedFirstCallLeavesEntriesForParent(t *testing.T) {
	j := New()
	value := "a"

	err := j.Atomically(func() error {
		inner := j.Atomically(func() error {
			value = "b"
			j.Append(func() { value = "a" })
			return nil
		})
		require.NoError(t, inner)
		require.Equal(t, 1, j.Len())
		return errors.New("outer failure")
	})
	require.Error(t, err)
	require.Equal(t, "a", value)
	require.Zero(t, j.Len())
}

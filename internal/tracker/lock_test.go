package tracker

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManager_Exclusive(t *testing.T) {
	m, err := NewLockManager(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)

	lock, err := m.Acquire("index:proj-abc")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, os.Getpid(), lock.Record().PID)

	_, err = m.Acquire("index:proj-abc")
	require.ErrorIs(t, err, ErrLockHeld)

	// A different operation is unaffected.
	other, err := m.Acquire("index:proj-def")
	require.NoError(t, err)
	require.NoError(t, m.Release(other))

	require.NoError(t, m.Release(lock))

	reacquired, err := m.Acquire("index:proj-abc")
	require.NoError(t, err)
	require.NoError(t, m.Release(reacquired))
}

func TestLockManager_ReleaseIdempotent(t *testing.T) {
	m, err := NewLockManager(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)

	lock, err := m.Acquire("index:proj")
	require.NoError(t, err)

	require.NoError(t, m.Release(lock))
	require.NoError(t, m.Release(lock))
	require.NoError(t, m.Release(nil))
}

func TestLockManager_StaleLockRemoved(t *testing.T) {
	dir := t.TempDir()
	m, err := NewLockManager(dir, 20*time.Millisecond, nil)
	require.NoError(t, err)

	lock, err := m.Acquire("index:proj")
	require.NoError(t, err)
	defer func() { _ = m.Release(lock) }()

	time.Sleep(50 * time.Millisecond)

	// The first holder aged out; a new acquisition steals the lock.
	stolen, err := m.Acquire("index:proj")
	require.NoError(t, err)
	require.NoError(t, m.Release(stolen))
}

func TestLockManager_FreshLockNotStolen(t *testing.T) {
	m, err := NewLockManager(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)

	lock, err := m.Acquire("index:proj")
	require.NoError(t, err)
	defer func() { _ = m.Release(lock) }()

	_, err = m.Acquire("index:proj")
	require.ErrorIs(t, err, ErrLockHeld)
	assert.Contains(t, err.Error(), "pid")
}

func TestLockManager_Holder(t *testing.T) {
	m, err := NewLockManager(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)

	rec, err := m.Holder("index:proj")
	require.NoError(t, err)
	assert.Nil(t, rec)

	lock, err := m.Acquire("index:proj")
	require.NoError(t, err)

	rec, err = m.Holder("index:proj")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "index:proj", rec.Operation)
	assert.Equal(t, os.Getpid(), rec.PID)

	require.NoError(t, m.Release(lock))
}

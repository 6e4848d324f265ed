package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLockRefusesSecondInstance(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	require.NoError(t, err)
	defer first.Release()

	_, err = AcquireLock(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another instance")
}

func TestAcquireLockAfterRelease(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	require.NoError(t, err)
	first.Release()

	second, err := AcquireLock(dir)
	require.NoError(t, err)
	second.Release()
}

func TestHeartbeatKeepsStartTime(t *testing.T) {
	dir := t.TempDir()

	l, err := AcquireLock(dir)
	require.NoError(t, err)
	defer l.Release()

	first, err := readLock(l.path)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, l.write())

	second, err := readLock(l.path)
	require.NoError(t, err)
	assert.True(t, second.StartedAt.Equal(first.StartedAt), "start time must survive heartbeats")
	assert.True(t, second.Heartbeat.After(first.Heartbeat))
}

func TestAcquireLockTakesOverStaleLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daybot.lock")

	// A lock whose heartbeat died long ago, regardless of its PID.
	stale := lockRecord{
		PID:       os.Getpid(),
		StartedAt: time.Now().Add(-2 * time.Hour),
		Heartbeat: time.Now().Add(-time.Hour),
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	l, err := AcquireLock(dir)
	require.NoError(t, err)
	l.Release()
}

func TestAcquireLockTakesOverDeadProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daybot.lock")

	// Fresh heartbeat but an impossible PID.
	dead := lockRecord{
		PID:       1 << 22, // beyond pid_max
		StartedAt: time.Now(),
		Heartbeat: time.Now(),
	}
	data, err := json.Marshal(dead)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	l, err := AcquireLock(dir)
	require.NoError(t, err)
	l.Release()
}

package lockfile

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesOwner(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	require.NoError(t, err)
	defer lock.Release()

	assert.Equal(t, filepath.Join(dir, FileName), lock.Path())
	owner := ReadOwner(lock.Path())
	assert.Equal(t, os.Getpid(), owner.PID)
	assert.True(t, owner.Running)
	assert.False(t, owner.Started.IsZero())
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir)
	require.NoError(t, err)
	defer first.Release()

	second, err := Acquire(dir)
	require.Error(t, err)
	assert.Nil(t, second)

	var held *HeldError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, os.Getpid(), held.Owner.PID, "the holder's info survives the failed attempt")
	assert.Contains(t, err.Error(), "running")
}

func TestReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	require.NoError(t, err)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release(), "double release is a no-op")
	_, err = os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(err))

	again, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := Acquire(dir)
	require.NoError(t, err)
	defer lock.Release()
	assert.DirExists(t, dir)
}

func TestParseOwner(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		started bool
	}{
		{"full", "pid=12345\nstarted=2026-03-10T12:00:00Z\n", 12345, true},
		{"pid only", "pid=77\n", 77, false},
		{"garbage", "hello\npid=abc\n", 0, false},
		{"empty", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := parseOwner(bufio.NewScanner(strings.NewReader(tt.content)))
			assert.Equal(t, tt.pid, o.PID)
			assert.Equal(t, tt.started, !o.Started.IsZero())
		})
	}
	assert.Equal(t, "unknown owner", Owner{}.String())
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(999999))
}

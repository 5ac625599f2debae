package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	d, _ := createTestDaemon(t, "http://127.0.0.1:1")
	defer d.release()

	lm := NewLifecycleManager(d)
	assert.Equal(t, d, lm.daemon)
	assert.Equal(t, filepath.Join(d.config.DataDir, "standup.pid"), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	d, _ := createTestDaemon(t, "http://127.0.0.1:1")
	defer d.release()

	lm := NewLifecycleManager(d)
	require.NoError(t, lm.Start())

	_, err := os.Stat(lm.pidFile)
	assert.NoError(t, err)

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, lm.IsRunning())

	require.NoError(t, lm.Stop())
	_, err = os.Stat(lm.pidFile)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, lm.IsRunning())
}

func TestLifecycleManagerStalePIDFile(t *testing.T) {
	d, _ := createTestDaemon(t, "http://127.0.0.1:1")
	defer d.release()

	lm := NewLifecycleManager(d)
	// A PID that cannot belong to a live process.
	require.NoError(t, os.WriteFile(lm.pidFile, []byte("999999999"), 0o644))

	require.NoError(t, lm.Start())
	defer lm.Stop()

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.pid")

	_, err := ReadPID(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, err = ReadPID(path)
	assert.ErrorContains(t, err, "invalid PID file")

	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))
	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	assert.False(t, ProcessAlive(0))
	assert.True(t, ProcessAlive(os.Getpid()))
}

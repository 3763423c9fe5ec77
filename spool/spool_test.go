package spool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probectl/probectl/config"
	"github.com/probectl/probectl/errors"
)

func testLayout(t *testing.T) *Layout {
	t.Helper()
	base := t.TempDir()
	cfg := &config.File{
		Settings: config.Settings{BaseDir: base, BinPath: "/usr/bin/true"},
		Nodes:    []config.NodeConfig{{Name: "solo", Type: "standalone", Host: "localhost"}},
	}
	require.NoError(t, cfg.Normalize())
	return NewLayout(&cfg.Settings)
}

func TestLayoutPaths(t *testing.T) {
	l := testLayout(t)

	assert.Equal(t, filepath.Join(l.settings.SpoolDir, "worker-1"), l.NodeDir("worker-1"))
	assert.Equal(t, filepath.Join(l.NodeDir("worker-1"), "probe.pid"), l.PIDFile("worker-1"))

	// Staged and versioned bundles live next to the live config so
	// activation is a same-filesystem rename.
	assert.Equal(t, filepath.Dir(l.ConfDir()), filepath.Dir(l.StagedConfDir()))
	assert.Equal(t, l.ConfDir()+".staged", l.StagedConfDir())
	assert.Equal(t, l.ConfDir()+"-ab12cd.7", l.VersionedConfDir("ab12cd.7"))
}

func TestParsePID(t *testing.T) {
	pid, ok := ParsePID("4242\n")
	assert.True(t, ok)
	assert.Equal(t, 4242, pid)

	_, ok = ParsePID("")
	assert.False(t, ok)
	_, ok = ParsePID("not-a-pid")
	assert.False(t, ok)
	_, ok = ParsePID("-1")
	assert.False(t, ok)
}

func TestCronFlagDefaultsEnabled(t *testing.T) {
	flag := NewCronFlag(filepath.Join(t.TempDir(), "cron-enabled"))

	on, err := flag.Enabled()
	require.NoError(t, err)
	assert.True(t, on, "missing flag file counts as enabled")

	require.NoError(t, flag.SetEnabled(false))
	on, err = flag.Enabled()
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, flag.SetEnabled(true))
	on, err = flag.Enabled()
	require.NoError(t, err)
	assert.True(t, on)
}

func TestLockExcludesSecondInvocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	first := NewLock(path)
	require.NoError(t, first.Acquire())

	second := NewLock(path)
	err := second.Acquire()
	require.Error(t, err)
	assert.Equal(t, errors.ErrConcurrentInvocation, errors.GetCode(err))

	require.NoError(t, first.Release())
	require.NoError(t, second.Acquire())
	require.NoError(t, second.Release())
}

func TestLockReclaimsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	// A pid that cannot belong to a live process.
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0644))

	l := NewLock(path)
	require.NoError(t, l.Acquire())
	require.NoError(t, l.Release())
}

func TestLockReleaseIdempotent(t *testing.T) {
	l := NewLock(filepath.Join(t.TempDir(), "lock"))
	require.NoError(t, l.Acquire())
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
}

package install

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probectl/probectl/config"
	"github.com/probectl/probectl/errors"
	"github.com/probectl/probectl/logging"
	"github.com/probectl/probectl/remote"
	"github.com/probectl/probectl/spool"
	"github.com/probectl/probectl/topology"
)

type fixture struct {
	cfg       *config.File
	topo      *topology.Topology
	layout    *spool.Layout
	installer *Installer
}

func newFixture(t *testing.T, nodes []config.NodeConfig, hosts []config.HostConfig) *fixture {
	t.Helper()

	cfg := &config.File{
		Settings: config.Settings{
			BinPath:           "/usr/bin/true",
			BaseDir:           t.TempDir(),
			CommandTimeoutSec: 10,
			Env:               map[string]string{"PROBE_SITE": "lab"},
		},
		Nodes: nodes,
		Hosts: hosts,
	}
	require.NoError(t, cfg.Normalize())

	topo, err := cfg.Topology()
	require.NoError(t, err)

	d := remote.NewDispatcher(cfg, logging.Nop())
	t.Cleanup(func() { _ = d.Close() })

	return &fixture{
		cfg:       cfg,
		topo:      topo,
		layout:    spool.NewLayout(&cfg.Settings),
		installer: NewInstaller(topo, &cfg.Settings, d, logging.Nop()),
	}
}

func standaloneFixture(t *testing.T) *fixture {
	return newFixture(t, []config.NodeConfig{
		{Name: "solo", Type: "standalone", Host: "localhost", Env: map[string]string{"PROBE_EXTRA": "1"}},
	}, nil)
}

func TestInstallPropagatesBundle(t *testing.T) {
	f := standaloneFixture(t)

	res, err := f.installer.Install(context.Background(), false)
	require.NoError(t, err)
	require.True(t, res.OK(), "%+v", res.NodeData())

	out, _ := res.NodeOutput("solo")
	assert.Contains(t, out, "configuration installed")

	env, err := os.ReadFile(f.layout.NodeEnvFile("solo"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "PROBE_NODE=solo")
	assert.Contains(t, string(env), "PROBE_TYPE=standalone")
	assert.Contains(t, string(env), `export PROBE_SITE="lab"`)
	assert.Contains(t, string(env), `export PROBE_EXTRA="1"`)

	manifest, err := os.ReadFile(filepath.Join(f.layout.ConfDir(), "fleet.cfg"))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "node solo type=standalone host=localhost")

	version, err := os.ReadFile(f.layout.VersionFile())
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	// The staging directory must not survive a completed install.
	_, statErr := os.Stat(f.layout.StagedConfDir())
	assert.True(t, os.IsNotExist(statErr))
}

func TestInstallFirstRunEnablesCron(t *testing.T) {
	f := standaloneFixture(t)

	_, statErr := os.Stat(f.layout.CronFlagFile())
	require.True(t, os.IsNotExist(statErr))

	_, err := f.installer.Install(context.Background(), false)
	require.NoError(t, err)

	on, err := spool.NewCronFlag(f.layout.CronFlagFile()).Enabled()
	require.NoError(t, err)
	assert.True(t, on)

	// A later install must not flip a deliberately disabled flag back on.
	require.NoError(t, spool.NewCronFlag(f.layout.CronFlagFile()).SetEnabled(false))
	_, err = f.installer.Install(context.Background(), false)
	require.NoError(t, err)
	on, err = spool.NewCronFlag(f.layout.CronFlagFile()).Enabled()
	require.NoError(t, err)
	assert.False(t, on)
}

func TestInstallValidationFailureTouchesNothing(t *testing.T) {
	f := standaloneFixture(t)

	sentinel := filepath.Join(f.layout.ConfDir(), "previous.cfg")
	require.NoError(t, os.MkdirAll(f.layout.ConfDir(), 0755))
	require.NoError(t, os.WriteFile(sentinel, []byte("keep"), 0644))

	f.installer.SetValidator(func(ctx context.Context, bundleDir string) (bool, string) {
		return false, "syntax error in generated bundle"
	})

	res, err := f.installer.Install(context.Background(), false)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, errors.ErrInstallValidation, errors.GetCode(err))
	assert.Contains(t, err.Error(), "nothing installed")

	data, readErr := os.ReadFile(sentinel)
	require.NoError(t, readErr)
	assert.Equal(t, "keep", string(data), "validation failure must leave the active config alone")
}

func TestInstallCommandValidator(t *testing.T) {
	f := standaloneFixture(t)

	// The validator sees the generated bundle before propagation.
	f.cfg.Settings.ValidateCommand = "test -f %s/fleet.cfg"
	res, err := f.installer.Install(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.OK())

	f.cfg.Settings.ValidateCommand = "test -f %s/does-not-exist"
	_, err = f.installer.Install(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, errors.ErrInstallValidation, errors.GetCode(err))
}

func TestInstallReplacesPreviousBundle(t *testing.T) {
	f := standaloneFixture(t)
	ctx := context.Background()

	_, err := f.installer.Install(ctx, false)
	require.NoError(t, err)

	stale := filepath.Join(f.layout.ConfDir(), "stale.cfg")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	_, err = f.installer.Install(ctx, false)
	require.NoError(t, err)

	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr), "the swap replaces the whole bundle")
	_, statErr = os.Stat(filepath.Join(f.layout.ConfDir(), "fleet.cfg"))
	assert.NoError(t, statErr)

	// The active path is a symlink flipped by rename; no transient link and
	// no superseded bundle directory survives the install.
	info, err := os.Lstat(f.layout.ConfDir())
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink, "the active path must be a symlink")
	assert.NoFileExists(t, f.layout.ConfDir()+".next")

	entries, err := os.ReadDir(filepath.Dir(f.layout.ConfDir()))
	require.NoError(t, err)
	var bundles int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), filepath.Base(f.layout.ConfDir())+"-") {
			bundles++
		}
	}
	assert.Equal(t, 1, bundles, "superseded bundle directories are pruned")
}

func TestInstallReplacesPlainActiveDirectory(t *testing.T) {
	f := standaloneFixture(t)

	// An active path that is a plain directory, as an older layout left it,
	// becomes a symlink on the next install.
	require.NoError(t, os.MkdirAll(f.layout.ConfDir(), 0755))
	legacy := filepath.Join(f.layout.ConfDir(), "legacy.cfg")
	require.NoError(t, os.WriteFile(legacy, []byte("old"), 0644))

	res, err := f.installer.Install(context.Background(), false)
	require.NoError(t, err)
	require.True(t, res.OK())

	info, err := os.Lstat(f.layout.ConfDir())
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
	assert.NoFileExists(t, legacy)
	_, err = os.Stat(filepath.Join(f.layout.ConfDir(), "fleet.cfg"))
	assert.NoError(t, err)
}

func TestInstallLocalRestrictsToControllerHost(t *testing.T) {
	f := newFixture(t, []config.NodeConfig{
		{Name: "manager", Type: "manager", Host: "localhost"},
		{Name: "worker-1", Type: "worker", Host: "sensor1.example.net"},
	}, []config.HostConfig{
		{Name: "sensor1.example.net", Transport: "local"},
	})

	res, err := f.installer.Install(context.Background(), true)
	require.NoError(t, err)
	require.True(t, res.OK())

	data := res.NodeData()
	require.Len(t, data, 1)
	assert.Equal(t, "manager", data[0].Node.Name)
}

func TestBundleVersionStable(t *testing.T) {
	f := standaloneFixture(t)

	dir1, v1, err := f.installer.generateBundle()
	require.NoError(t, err)
	defer os.RemoveAll(dir1)

	dir2, v2, err := f.installer.generateBundle()
	require.NoError(t, err)
	defer os.RemoveAll(dir2)

	assert.Len(t, v1, 12)
	assert.Equal(t, v1, v2, "the version is a function of the bundle content")
}

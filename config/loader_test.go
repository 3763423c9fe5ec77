package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probectl/probectl/errors"
)

const yamlConfig = `
settings:
  binPath: /opt/probe/bin/probe
  baseDir: /opt/probe
  logExpireDays: 14
  ssh:
    user: probe
    keyFile: /home/probe/.ssh/id_ed25519
nodes:
  - name: manager
    type: manager
    host: mgr.example.net
  - name: worker-1
    type: worker
    host: sensor1.example.net
    interface: eth0
hosts:
  - name: sensor1.example.net
    transport: ssh
    address: 10.0.0.11
`

const jsonConfig = `{
  "settings": {"binPath": "/opt/probe/bin/probe"},
  "nodes": [{"name": "solo", "type": "standalone", "host": "localhost"}]
}`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadYAML(t *testing.T) {
	f, err := Load(writeConfig(t, "probectl.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "/opt/probe/bin/probe", f.Settings.BinPath)
	assert.Equal(t, 14, f.Settings.LogExpireDays)
	assert.Equal(t, "probe", f.Settings.SSH.User)
	require.Len(t, f.Nodes, 2)
	assert.Equal(t, "eth0", f.Nodes[1].Interface)

	ov := f.HostOverride("sensor1.example.net")
	require.NotNil(t, ov)
	assert.Equal(t, "10.0.0.11", ov.Address)
	assert.Nil(t, f.HostOverride("unknown.example.net"))
}

func TestLoadJSON(t *testing.T) {
	f, err := Load(writeConfig(t, "probectl.json", jsonConfig))
	require.NoError(t, err)
	require.Len(t, f.Nodes, 1)
	assert.Equal(t, "standalone", f.Nodes[0].Type)
}

func TestDefaultsDerivedFromBaseDir(t *testing.T) {
	f, err := Load(writeConfig(t, "probectl.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "/opt/probe/spool", f.Settings.SpoolDir)
	assert.Equal(t, "/opt/probe/tmp", f.Settings.TmpDir)
	assert.Equal(t, "/opt/probe/conf", f.Settings.ConfDir)
	assert.Equal(t, "/opt/probe/logs", f.Settings.LogDir)
	assert.Equal(t, 60, f.Settings.CommandTimeoutSec)
	assert.Equal(t, 22, f.Settings.SSH.Port)
	assert.Equal(t, "localhost", f.Settings.LocalHost)
}

func TestLoadRejectsBadInput(t *testing.T) {
	_, err := Load(writeConfig(t, "probectl.yaml", "settings: [broken"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrConfig, errors.GetCode(err))

	_, err = Load(writeConfig(t, "probectl.yaml", "settings: {}\nnodes: []"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrConfig, errors.GetCode(err))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateTransports(t *testing.T) {
	f := &File{
		Nodes: []NodeConfig{{Name: "solo", Type: "standalone", Host: "box"}},
		Hosts: []HostConfig{{Name: "box", Transport: "docker"}},
	}
	err := f.Normalize()
	require.Error(t, err)

	f.Hosts[0].Container = "probe-dev"
	require.NoError(t, f.Normalize())

	f.Hosts[0].Transport = "telnet"
	assert.Error(t, f.Normalize())
}

func TestTopologyFromConfig(t *testing.T) {
	f, err := Load(writeConfig(t, "probectl.yaml", yamlConfig))
	require.NoError(t, err)

	topo, err := f.Topology()
	require.NoError(t, err)
	assert.Len(t, topo.All(), 2)
	assert.Equal(t, "manager", topo.Manager().Name)
}

func TestWriteExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probectl.yaml")
	require.NoError(t, WriteExample(path))

	f, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, f.Nodes)
}

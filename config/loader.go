// Package config loads the installation configuration file and derives the
// immutable topology from it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/probectl/probectl/errors"
	"github.com/probectl/probectl/topology"
)

// Load reads and parses a configuration file. YAML and JSON are accepted,
// selected by file extension.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfig, "failed to read config file")
	}

	cfg := &File{}
	ext := filepath.Ext(path)

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrConfig, "failed to parse YAML config")
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrConfig, "failed to parse JSON config")
		}
	default:
		return nil, errors.Newf(errors.ErrConfig, "unsupported config file format: %s", ext)
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Normalize fills in derived defaults and validates the settings. Load calls
// it automatically; programmatically built configurations call it before use.
func (f *File) Normalize() error {
	f.applyDefaults()
	return f.validate()
}

func (f *File) applyDefaults() {
	s := &f.Settings

	if s.BaseDir == "" {
		s.BaseDir = "/opt/probe"
	}
	if s.SpoolDir == "" {
		s.SpoolDir = filepath.Join(s.BaseDir, "spool")
	}
	if s.TmpDir == "" {
		s.TmpDir = filepath.Join(s.BaseDir, "tmp")
	}
	if s.ConfDir == "" {
		s.ConfDir = filepath.Join(s.BaseDir, "conf")
	}
	if s.LogDir == "" {
		s.LogDir = filepath.Join(s.BaseDir, "logs")
	}
	if s.BinPath == "" {
		s.BinPath = filepath.Join(s.BaseDir, "bin", "probe")
	}
	if s.LogExpireDays == 0 {
		s.LogExpireDays = 30
	}
	if s.CommandTimeoutSec == 0 {
		s.CommandTimeoutSec = 60
	}
	if s.StartTimeoutSec == 0 {
		s.StartTimeoutSec = 20
	}
	if s.StopGraceSec == 0 {
		s.StopGraceSec = 10
	}
	if s.LocalHost == "" {
		s.LocalHost = "localhost"
	}
	if s.SSH.Port == 0 {
		s.SSH.Port = 22
	}
	if s.SSH.ConnectTimeoutSec == 0 {
		s.SSH.ConnectTimeoutSec = 10
	}
}

func (f *File) validate() error {
	if len(f.Nodes) == 0 {
		return errors.New(errors.ErrConfig, "no nodes configured")
	}

	for _, h := range f.Hosts {
		switch h.Transport {
		case "", "ssh", "local":
		case "docker":
			if h.Container == "" {
				return errors.Newf(errors.ErrConfig, "host %s uses docker transport but names no container", h.Name)
			}
		default:
			return errors.Newf(errors.ErrConfig, "host %s has unknown transport %q", h.Name, h.Transport)
		}
	}

	return nil
}

// Topology builds the validated node topology from the configured node list
func (f *File) Topology() (*topology.Topology, error) {
	nodes := make([]*topology.Node, 0, len(f.Nodes))
	for _, nc := range f.Nodes {
		nodes = append(nodes, &topology.Node{
			Name:      nc.Name,
			Type:      topology.NodeType(nc.Type),
			Host:      nc.Host,
			Interface: nc.Interface,
			Port:      nc.Port,
			PinCPUs:   nc.PinCPUs,
			Env:       nc.Env,
		})
	}
	return topology.New(nodes)
}

// HostOverride returns the host-specific transport configuration, or nil
func (f *File) HostOverride(host string) *HostConfig {
	for i := range f.Hosts {
		if f.Hosts[i].Name == host {
			return &f.Hosts[i]
		}
	}
	return nil
}

// WriteExample writes a commented starter configuration to the given path
func WriteExample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(exampleConfig), 0644)
}

const exampleConfig = `# probectl fleet configuration
settings:
  baseDir: /opt/probe
  logExpireDays: 30
  ssh:
    user: probe
    keyFile: /home/probe/.ssh/id_ed25519

nodes:
  - name: manager
    type: manager
    host: mgr.example.net
  - name: proxy-1
    type: proxy
    host: mgr.example.net
  - name: worker-1
    type: worker
    host: sensor1.example.net
    interface: eth0
  - name: worker-2
    type: worker
    host: sensor2.example.net
    interface: eth0
    pinCPUs: [2, 3]
`

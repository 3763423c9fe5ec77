package config

import "time"

// File is the top-level configuration document
type File struct {
	Settings Settings     `yaml:"settings" json:"settings"`
	Nodes    []NodeConfig `yaml:"nodes" json:"nodes"`
	Hosts    []HostConfig `yaml:"hosts,omitempty" json:"hosts,omitempty"`
}

// Settings holds installation-wide paths, timeouts, and primitives
type Settings struct {
	// BinPath is the sensor binary launched for every node
	BinPath string `yaml:"binPath" json:"binPath"`

	// BaseDir is the installation root on every host; the spool, shared tmp,
	// log, and config trees all live under it unless overridden
	BaseDir string `yaml:"baseDir" json:"baseDir"`

	SpoolDir string `yaml:"spoolDir,omitempty" json:"spoolDir,omitempty"`
	TmpDir   string `yaml:"tmpDir,omitempty" json:"tmpDir,omitempty"`
	ConfDir  string `yaml:"confDir,omitempty" json:"confDir,omitempty"`
	LogDir   string `yaml:"logDir,omitempty" json:"logDir,omitempty"`

	// LogExpireDays is the retention policy applied by maintenance runs
	LogExpireDays int `yaml:"logExpireDays,omitempty" json:"logExpireDays,omitempty"`

	// CommandTimeoutSec bounds every remote command issued by the engine
	CommandTimeoutSec int `yaml:"commandTimeoutSec,omitempty" json:"commandTimeoutSec,omitempty"`

	// StartTimeoutSec bounds the liveness polling loop after a node launch
	StartTimeoutSec int `yaml:"startTimeoutSec,omitempty" json:"startTimeoutSec,omitempty"`

	// StopGraceSec is how long a node gets to exit after a graceful signal
	// before termination is forced
	StopGraceSec int `yaml:"stopGraceSec,omitempty" json:"stopGraceSec,omitempty"`

	// ValidateCommand checks a generated configuration bundle for syntactic
	// correctness before it is propagated; %s is replaced by the bundle path
	ValidateCommand string `yaml:"validateCommand,omitempty" json:"validateCommand,omitempty"`

	// DebuggerCommand extracts a backtrace from a core dump; the first %s is
	// replaced by the binary path, the second by the core path
	DebuggerCommand string `yaml:"debuggerCommand,omitempty" json:"debuggerCommand,omitempty"`

	// Env holds extra environment variables applied to every node
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// SSH is the default transport configuration for remote hosts
	SSH SSHSettings `yaml:"ssh,omitempty" json:"ssh,omitempty"`

	// LocalHost names the controller's own host; commands for it bypass the
	// remote transport. Defaults to "localhost".
	LocalHost string `yaml:"localHost,omitempty" json:"localHost,omitempty"`
}

// SSHSettings configures the SSH transport
type SSHSettings struct {
	User     string `yaml:"user,omitempty" json:"user,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	KeyFile  string `yaml:"keyFile,omitempty" json:"keyFile,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`

	ConnectTimeoutSec int `yaml:"connectTimeoutSec,omitempty" json:"connectTimeoutSec,omitempty"`
}

// NodeConfig declares one node of the topology
type NodeConfig struct {
	Name      string            `yaml:"name" json:"name"`
	Type      string            `yaml:"type" json:"type"`
	Host      string            `yaml:"host" json:"host"`
	Interface string            `yaml:"interface,omitempty" json:"interface,omitempty"`
	Port      int               `yaml:"port,omitempty" json:"port,omitempty"`
	PinCPUs   []int             `yaml:"pinCPUs,omitempty" json:"pinCPUs,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// HostConfig optionally overrides how a host is reached
type HostConfig struct {
	Name string `yaml:"name" json:"name"`

	// Transport selects how commands reach the host: "ssh" (default),
	// "local", or "docker"
	Transport string `yaml:"transport,omitempty" json:"transport,omitempty"`

	// Address overrides the dial address for SSH hosts
	Address string `yaml:"address,omitempty" json:"address,omitempty"`

	// Container names the container backing a docker-transport host
	Container string `yaml:"container,omitempty" json:"container,omitempty"`

	// SSH overrides the default SSH settings for this host
	SSH *SSHSettings `yaml:"ssh,omitempty" json:"ssh,omitempty"`
}

// CommandTimeout returns the per-command timeout as a duration
func (s *Settings) CommandTimeout() time.Duration {
	return time.Duration(s.CommandTimeoutSec) * time.Second
}

// StartTimeout returns the liveness polling bound as a duration
func (s *Settings) StartTimeout() time.Duration {
	return time.Duration(s.StartTimeoutSec) * time.Second
}

// StopGrace returns the graceful stop window as a duration
func (s *Settings) StopGrace() time.Duration {
	return time.Duration(s.StopGraceSec) * time.Second
}

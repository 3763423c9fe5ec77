// Package spool defines the persisted state layout of an installation: the
// per-node spool directories, the shared tmp directory, the cron flag, and
// the controller's advisory lock.
package spool

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/probectl/probectl/config"
)

// Layout derives every persisted path from the installation settings. The
// same layout applies on every host of the fleet.
type Layout struct {
	settings *config.Settings
}

// NewLayout creates a layout for the given settings
func NewLayout(s *config.Settings) *Layout {
	return &Layout{settings: s}
}

// NodeDir is a node's private spool directory, owned exclusively by the node
// while it runs
func (l *Layout) NodeDir(node string) string {
	return filepath.Join(l.settings.SpoolDir, node)
}

// PIDFile holds the node's recorded process id
func (l *Layout) PIDFile(node string) string {
	return filepath.Join(l.NodeDir(node), "probe.pid")
}

// StdoutLog is the node's captured standard output
func (l *Layout) StdoutLog(node string) string {
	return filepath.Join(l.NodeDir(node), "stdout.log")
}

// StderrLog is the node's captured standard error
func (l *Layout) StderrLog(node string) string {
	return filepath.Join(l.NodeDir(node), "stderr.log")
}

// StatsFile is the node's last observed resource usage snapshot
func (l *Layout) StatsFile(node string) string {
	return filepath.Join(l.NodeDir(node), "stats")
}

// SharedTmp is the installation-wide scratch directory for cross-node
// debugging artifacts, cleared only on explicit request
func (l *Layout) SharedTmp() string {
	return l.settings.TmpDir
}

// ConfDir is the active configuration directory on a host
func (l *Layout) ConfDir() string {
	return l.settings.ConfDir
}

// StagedConfDir is the staging twin of ConfDir, swapped in atomically by the
// installer
func (l *Layout) StagedConfDir() string {
	return l.settings.ConfDir + ".staged"
}

// VersionedConfDir is the immutable bundle directory a given install
// activates; ConfDir is a symlink to the current one. The id carries the
// bundle version plus an install timestamp so reinstalling an unchanged
// bundle never disturbs the directory the live symlink points at.
func (l *Layout) VersionedConfDir(id string) string {
	return l.settings.ConfDir + "-" + id
}

// NodeEnvFile is the generated per-node environment file inside the active
// configuration directory
func (l *Layout) NodeEnvFile(node string) string {
	return filepath.Join(l.ConfDir(), "nodes", node+".env")
}

// VersionFile records the checksum and install time of the active bundle
func (l *Layout) VersionFile() string {
	return filepath.Join(l.ConfDir(), "version")
}

// CronFlagFile is the persisted cron enable/disable switch
func (l *Layout) CronFlagFile() string {
	return filepath.Join(l.settings.SpoolDir, "cron-enabled")
}

// LockFile is the controller-wide advisory lock
func (l *Layout) LockFile() string {
	return filepath.Join(l.settings.SpoolDir, "lock")
}

// LogDir is the archived log tree subject to the retention policy
func (l *Layout) LogDir() string {
	return l.settings.LogDir
}

// ParsePID parses the contents of a pid file
func ParsePID(content string) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(content))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

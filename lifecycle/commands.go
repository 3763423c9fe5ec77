package lifecycle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/probectl/probectl/topology"
)

// Shell snippets issued to hosts. Every snippet is self-contained and safe to
// re-run; state is derived from the pid file and the process table, never
// from controller memory.

// statusCommand probes a node: prints "running <pid>", "crashed <pid>", or
// "stopped". While running it also refreshes the node's resource snapshot.
// The probe reads the process state from ps rather than signalling the pid; a
// zombie still accepts signals but is dead, and must read as crashed.
func (m *Manager) statusCommand(node *topology.Node) string {
	pidFile := m.layout.PIDFile(node.Name)
	stats := m.layout.StatsFile(node.Name)

	return fmt.Sprintf(
		`if [ -f %[1]s ]; then pid=$(cat %[1]s); st=$(ps -o stat= -p "$pid" 2>/dev/null | tr -d ' '); if [ -n "$st" ] && [ "${st#Z}" = "$st" ]; then ps -o pid=,rss=,pcpu=,etime= -p "$pid" > %[2]s 2>/dev/null; echo "running $pid"; else echo "crashed $pid"; fi; else echo stopped; fi`,
		pidFile, stats)
}

// startCommand launches the node's process, detaches it, and records a fresh
// pid. The generated per-node environment file is sourced if installed.
func (m *Manager) startCommand(node *topology.Node) string {
	dir := m.layout.NodeDir(node.Name)
	pidFile := m.layout.PIDFile(node.Name)
	envFile := m.layout.NodeEnvFile(node.Name)

	launcher := m.settings.BinPath
	if len(node.PinCPUs) > 0 {
		launcher = fmt.Sprintf("taskset -c %s %s", joinInts(node.PinCPUs), launcher)
	}

	args := fmt.Sprintf("--node %s", node.Name)
	if node.Interface != "" {
		args += fmt.Sprintf(" --interface %s", node.Interface)
	}
	if node.Port > 0 {
		args += fmt.Sprintf(" --port %d", node.Port)
	}

	env := envString(node.Env)

	return fmt.Sprintf(
		`mkdir -p %[1]s && cd %[1]s && { [ -f %[2]s ] && . %[2]s; true; } && rm -f %[3]s && { %[4]snohup %[5]s %[6]s >> %[7]s 2>> %[8]s & echo $! > %[3]s; }`,
		dir, envFile, pidFile, env, launcher, args,
		m.layout.StdoutLog(node.Name), m.layout.StderrLog(node.Name))
}

// livenessCommand succeeds while the recorded pid is alive. Same oracle as
// statusCommand: present in the process table and not a zombie.
func (m *Manager) livenessCommand(node *topology.Node) string {
	return fmt.Sprintf(
		`st=$(ps -o stat= -p "$(cat %s 2>/dev/null)" 2>/dev/null | tr -d ' '); [ -n "$st" ] && [ "${st#Z}" = "$st" ]`,
		m.layout.PIDFile(node.Name))
}

// termCommand sends a graceful termination signal to the node
func (m *Manager) termCommand(node *topology.Node) string {
	return fmt.Sprintf(`kill "$(cat %s 2>/dev/null)" 2>/dev/null`, m.layout.PIDFile(node.Name))
}

// killCommand forcibly terminates the node
func (m *Manager) killCommand(node *topology.Node) string {
	return fmt.Sprintf(`kill -9 "$(cat %s 2>/dev/null)" 2>/dev/null`, m.layout.PIDFile(node.Name))
}

// clearPIDCommand removes the node's pid file after a confirmed stop
func (m *Manager) clearPIDCommand(node *topology.Node) string {
	return fmt.Sprintf(`rm -f %s`, m.layout.PIDFile(node.Name))
}

// cleanupCommand clears a node's spool entry. Removing the pid file is what
// moves a crashed node back to stopped.
func (m *Manager) cleanupCommand(node *topology.Node) string {
	dir := m.layout.NodeDir(node.Name)
	return fmt.Sprintf(`rm -rf %[1]s && mkdir -p %[1]s`, dir)
}

// clearTmpCommand clears the installation-wide shared tmp directory on a host
func (m *Manager) clearTmpCommand() string {
	tmp := m.layout.SharedTmp()
	return fmt.Sprintf(`rm -rf %[1]s && mkdir -p %[1]s`, tmp)
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}

// envString renders extra environment variables as a command prefix, in
// stable order
func envString(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%q ", k, env[k])
	}
	return b.String()
}

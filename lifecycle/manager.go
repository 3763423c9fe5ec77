// Package lifecycle implements the per-node process state machine: start,
// stop, status, and cleanup, built on the remote execution engine. State is
// a pure function of on-disk pid files and the host process table, recomputed
// on every query.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/probectl/probectl/config"
	"github.com/probectl/probectl/errors"
	"github.com/probectl/probectl/logging"
	"github.com/probectl/probectl/remote"
	"github.com/probectl/probectl/result"
	"github.com/probectl/probectl/retry"
	"github.com/probectl/probectl/spool"
	"github.com/probectl/probectl/topology"
)

// Runner is the slice of the execution engine the manager depends on
type Runner interface {
	Run(ctx context.Context, host, command string, timeout time.Duration) *remote.ExecResult
	Dispatch(ctx context.Context, hostCommands map[string]string, timeout time.Duration) map[string]*remote.ExecResult
	DispatchNodes(ctx context.Context, cmds []remote.NodeCommand, timeout time.Duration) map[string]*remote.ExecResult
}

// Manager drives the process lifecycle of fleet nodes
type Manager struct {
	topo     *topology.Topology
	settings *config.Settings
	layout   *spool.Layout
	runner   Runner
	log      logging.Logger
}

// NewManager creates a lifecycle manager
func NewManager(topo *topology.Topology, settings *config.Settings, runner Runner, log logging.Logger) *Manager {
	return &Manager{
		topo:     topo,
		settings: settings,
		layout:   spool.NewLayout(settings),
		runner:   runner,
		log:      log,
	}
}

// Observe probes the current state of every given node. Hosts that cannot be
// reached yield unknown observations.
func (m *Manager) Observe(ctx context.Context, nodes []*topology.Node) map[string]Observation {
	cmds := make([]remote.NodeCommand, 0, len(nodes))
	for _, n := range nodes {
		cmds = append(cmds, remote.NodeCommand{
			Node:    n.Name,
			Host:    n.Host,
			Command: m.statusCommand(n),
		})
	}

	raw := m.runner.DispatchNodes(ctx, cmds, m.settings.CommandTimeout())

	out := make(map[string]Observation, len(nodes))
	for _, n := range nodes {
		out[n.Name] = parseObservation(raw[n.Name])
	}
	return out
}

// Status reports the observed state of every given node, in topology order
func (m *Manager) Status(ctx context.Context, nodes []*topology.Node) *result.Result {
	ordered := m.topo.Sort(nodes)
	res := result.New(ordered)
	obs := m.Observe(ctx, ordered)

	for _, n := range ordered {
		o := obs[n.Name]
		switch o.State {
		case StateRunning:
			res.SetState(n, true, string(o.State), fmt.Sprintf("running (pid %d)", o.PID))
		case StateCrashed:
			res.SetState(n, true, string(o.State), fmt.Sprintf("crashed (last pid %d)", o.PID))
		case StateStopped:
			res.SetState(n, true, string(o.State), "stopped")
		default:
			res.SetState(n, false, string(StateUnknown), "host unreachable, state unknown")
		}
	}
	return res
}

// Start brings the given nodes to running, rank by rank: loggers, then the
// manager, then proxies, then workers. Nodes already running are no-op
// successes. A later rank is only issued after the earlier rank completed.
func (m *Manager) Start(ctx context.Context, nodes []*topology.Node) *result.Result {
	ordered := m.topo.Sort(nodes)
	res := result.New(ordered)
	obs := m.Observe(ctx, ordered)

	for _, rank := range m.topo.StartOrder(nodes) {
		var launch []*topology.Node
		for _, n := range rank {
			switch obs[n.Name].State {
			case StateRunning:
				res.Set(n, true, fmt.Sprintf("already running (pid %d)", obs[n.Name].PID))
			case StateUnknown:
				res.SetState(n, false, string(StateUnknown), "host unreachable, state unknown")
			default:
				launch = append(launch, n)
			}
		}

		if len(launch) == 0 {
			continue
		}

		cmds := make([]remote.NodeCommand, 0, len(launch))
		for _, n := range launch {
			cmds = append(cmds, remote.NodeCommand{
				Node:    n.Name,
				Host:    n.Host,
				Command: m.startCommand(n),
			})
		}
		launched := m.runner.DispatchNodes(ctx, cmds, m.settings.CommandTimeout())

		var wg sync.WaitGroup
		for _, n := range launch {
			lr := launched[n.Name]
			if !lr.Success() {
				res.Set(n, false, fmt.Sprintf("failed to launch: %s", execFailure(lr)))
				continue
			}

			wg.Add(1)
			go func(n *topology.Node) {
				defer wg.Done()
				m.confirmStart(ctx, n, res)
			}(n)
		}
		wg.Wait()
	}

	return res
}

// confirmStart polls for the node's liveness signal and records the observed
// pid once confirmed. On failure the node is returned to stopped.
func (m *Manager) confirmStart(ctx context.Context, n *topology.Node, res *result.Result) {
	alive, err := retry.Poll(ctx, func(ctx context.Context) (bool, error) {
		r := m.runner.Run(ctx, n.Host, m.livenessCommand(n), m.settings.CommandTimeout())
		return r.Success(), nil
	}, m.pollConfig(m.settings.StartTimeout()))

	if err != nil || !alive {
		m.log.Warn("[%s] did not reach running within %s", n.Name, m.settings.StartTimeout())
		// Drop the stale pid so the node reads stopped, not crashed.
		m.runner.Run(ctx, n.Host, m.clearPIDCommand(n), m.settings.CommandTimeout())
		res.Set(n, false, "failed to start: no liveness signal within bound")
		return
	}

	o := parseObservation(m.runner.Run(ctx, n.Host, m.statusCommand(n), m.settings.CommandTimeout()))
	if o.State != StateRunning {
		res.Set(n, false, "failed to start: process exited immediately")
		return
	}

	m.log.Info("[%s] started (pid %d)", n.Name, o.PID)
	res.Set(n, true, fmt.Sprintf("started (pid %d)", o.PID))
}

// Stop brings the given nodes to stopped in reverse start order. Nodes
// already stopped are no-op successes; crashed nodes keep their crash state
// for later cleanup or diagnosis.
func (m *Manager) Stop(ctx context.Context, nodes []*topology.Node) *result.Result {
	ordered := m.topo.Sort(nodes)
	res := result.New(ordered)
	obs := m.Observe(ctx, ordered)

	for _, rank := range m.topo.StopOrder(nodes) {
		var stopping []*topology.Node
		for _, n := range rank {
			switch obs[n.Name].State {
			case StateStopped:
				res.Set(n, true, "not running")
			case StateCrashed:
				res.Set(n, true, fmt.Sprintf("not running (crashed, last pid %d)", obs[n.Name].PID))
			case StateUnknown:
				res.SetState(n, false, string(StateUnknown), "host unreachable, state unknown")
			default:
				stopping = append(stopping, n)
			}
		}

		if len(stopping) == 0 {
			continue
		}

		cmds := make([]remote.NodeCommand, 0, len(stopping))
		for _, n := range stopping {
			cmds = append(cmds, remote.NodeCommand{
				Node:    n.Name,
				Host:    n.Host,
				Command: m.termCommand(n),
			})
		}
		m.runner.DispatchNodes(ctx, cmds, m.settings.CommandTimeout())

		var wg sync.WaitGroup
		for _, n := range stopping {
			wg.Add(1)
			go func(n *topology.Node) {
				defer wg.Done()
				m.confirmStop(ctx, n, res)
			}(n)
		}
		wg.Wait()
	}

	return res
}

// confirmStop waits for the process to disappear within the grace period,
// escalating to a forced termination if it is still present
func (m *Manager) confirmStop(ctx context.Context, n *topology.Node, res *result.Result) {
	gone, _ := retry.Poll(ctx, func(ctx context.Context) (bool, error) {
		r := m.runner.Run(ctx, n.Host, m.livenessCommand(n), m.settings.CommandTimeout())
		return !r.Success(), nil
	}, m.pollConfig(m.settings.StopGrace()))

	if !gone {
		m.log.Warn("[%s] still running after %s, sending SIGKILL", n.Name, m.settings.StopGrace())
		m.runner.Run(ctx, n.Host, m.killCommand(n), m.settings.CommandTimeout())

		gone, _ = retry.Poll(ctx, func(ctx context.Context) (bool, error) {
			r := m.runner.Run(ctx, n.Host, m.livenessCommand(n), m.settings.CommandTimeout())
			return !r.Success(), nil
		}, m.pollConfig(m.settings.StopGrace()))
	}

	if !gone {
		res.Set(n, false, "failed to stop: process survived forced termination")
		return
	}

	m.runner.Run(ctx, n.Host, m.clearPIDCommand(n), m.settings.CommandTimeout())
	m.log.Info("[%s] stopped", n.Name)
	res.Set(n, true, "stopped")
}

// Cleanup clears the spool entries of every requested node that is not
// running; running nodes are skipped, never an error. With all set, the
// installation-wide shared tmp directory is additionally cleared exactly
// once, independent of which nodes were named or their states.
func (m *Manager) Cleanup(ctx context.Context, nodes []*topology.Node, all bool) *result.Result {
	ordered := m.topo.Sort(nodes)
	res := result.New(ordered)
	obs := m.Observe(ctx, ordered)

	var clearing []*topology.Node
	for _, n := range ordered {
		switch obs[n.Name].State {
		case StateRunning:
			res.Set(n, true, "running, spool left untouched")
		case StateUnknown:
			res.SetState(n, false, string(StateUnknown), "host unreachable, state unknown")
		default:
			clearing = append(clearing, n)
		}
	}

	if len(clearing) > 0 {
		cmds := make([]remote.NodeCommand, 0, len(clearing))
		for _, n := range clearing {
			cmds = append(cmds, remote.NodeCommand{
				Node:    n.Name,
				Host:    n.Host,
				Command: m.cleanupCommand(n),
			})
		}
		cleared := m.runner.DispatchNodes(ctx, cmds, m.settings.CommandTimeout())

		for _, n := range clearing {
			cr := cleared[n.Name]
			if !cr.Success() {
				res.Set(n, false, fmt.Sprintf("failed to clear spool: %s", execFailure(cr)))
				continue
			}
			if obs[n.Name].State == StateCrashed {
				res.Set(n, true, "crash state cleared, spool cleared")
			} else {
				res.Set(n, true, "spool cleared")
			}
		}
	}

	if all {
		hostCmds := make(map[string]string)
		for _, host := range topology.Hosts(m.topo.All()) {
			hostCmds[host] = m.clearTmpCommand()
		}
		for host, r := range m.runner.Dispatch(ctx, hostCmds, m.settings.CommandTimeout()) {
			if !r.Success() {
				m.log.Warn("[%s] failed to clear shared tmp: %s", host, execFailure(r))
				res.Fail(fmt.Sprintf("failed to clear shared tmp on %s", host))
			}
		}
	}

	return res
}

// pollConfig spreads fixed-interval polling attempts over the given bound
func (m *Manager) pollConfig(bound time.Duration) retry.Config {
	const interval = 500 * time.Millisecond

	attempts := int(bound/interval) + 1
	if attempts < 2 {
		attempts = 2
	}
	return retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1.0,
	}
}

// execFailure renders the failure of one remote command for result output
func execFailure(r *remote.ExecResult) string {
	switch {
	case r == nil:
		return "no result"
	case !r.OK && errors.IsTimeout(r.Err):
		return "host timed out"
	case !r.OK && errors.IsUnreachable(r.Err):
		return fmt.Sprintf("host unreachable: %v", r.Err)
	case !r.OK:
		return fmt.Sprintf("transport failure (%s): %v", r.Reason, r.Err)
	case r.Stderr != "":
		return fmt.Sprintf("exit %d: %s", r.ExitCode, r.Stderr)
	default:
		return fmt.Sprintf("exit %d", r.ExitCode)
	}
}

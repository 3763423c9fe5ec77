package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/probectl/probectl/errors"
	"github.com/probectl/probectl/result"
	"github.com/probectl/probectl/topology"
)

// builtinOps is the closed dispatch table for built-in operations
func builtinOps() map[Operation]opFunc {
	return map[Operation]opFunc{
		OpStart: func(ctx context.Context, c *Controller, nodes []*topology.Node, _ Options) (*result.Result, error) {
			return c.mgr.Start(ctx, nodes), nil
		},
		OpStop: func(ctx context.Context, c *Controller, nodes []*topology.Node, _ Options) (*result.Result, error) {
			return c.mgr.Stop(ctx, nodes), nil
		},
		OpStatus: func(ctx context.Context, c *Controller, nodes []*topology.Node, _ Options) (*result.Result, error) {
			return c.mgr.Status(ctx, nodes), nil
		},
		OpCleanup: func(ctx context.Context, c *Controller, nodes []*topology.Node, opts Options) (*result.Result, error) {
			return c.mgr.Cleanup(ctx, nodes, opts.All), nil
		},
		OpRestart: func(ctx context.Context, c *Controller, nodes []*topology.Node, opts Options) (*result.Result, error) {
			return c.restart(ctx, nodes, opts.Clean)
		},
		OpInstall: func(ctx context.Context, c *Controller, _ []*topology.Node, opts Options) (*result.Result, error) {
			return c.inst.Install(ctx, opts.Local)
		},
		OpDiag: func(ctx context.Context, c *Controller, nodes []*topology.Node, _ Options) (*result.Result, error) {
			return c.diags.DiagnoseNodes(ctx, c.topo, nodes), nil
		},
		OpExec: func(ctx context.Context, c *Controller, nodes []*topology.Node, opts Options) (*result.Result, error) {
			return c.execOnHosts(ctx, nodes, opts.Command)
		},
		OpNodes: func(ctx context.Context, c *Controller, nodes []*topology.Node, _ Options) (*result.Result, error) {
			return c.listNodes(nodes), nil
		},
		OpCron: func(ctx context.Context, c *Controller, _ []*topology.Node, opts Options) (*result.Result, error) {
			return c.sched.RunMaintenance(ctx, opts.Watch)
		},
		OpCronEnable: func(ctx context.Context, c *Controller, _ []*topology.Node, _ Options) (*result.Result, error) {
			return c.cronFlagResult(c.sched.SetEnabled(true), "cron enabled")
		},
		OpCronDisable: func(ctx context.Context, c *Controller, _ []*topology.Node, _ Options) (*result.Result, error) {
			return c.cronFlagResult(c.sched.SetEnabled(false), "cron disabled")
		},
		OpCronStatus: func(ctx context.Context, c *Controller, _ []*topology.Node, _ Options) (*result.Result, error) {
			enabled, err := c.sched.Enabled()
			if err != nil {
				return nil, err
			}
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			return c.cronFlagResult(nil, "cron "+state)
		},
	}
}

// restart is a composition, not its own state machine: stop, optionally
// cleanup and reinstall, then start. The clean path keeps the validate-first
// install precondition: a failed validation aborts before anything starts.
func (c *Controller) restart(ctx context.Context, nodes []*topology.Node, clean bool) (*result.Result, error) {
	stopRes := c.mgr.Stop(ctx, nodes)

	if clean {
		cleanupRes := c.mgr.Cleanup(ctx, nodes, true)
		if !cleanupRes.OK() {
			c.log.Warn("cleanup during clean restart reported failures")
		}

		if _, err := c.inst.Install(ctx, false); err != nil {
			return nil, err
		}
	}

	startRes := c.mgr.Start(ctx, nodes)

	// Merge: a node restarted successfully only if both phases succeeded.
	res := result.New(c.topo.Sort(nodes))
	stopped := make(map[string]result.Entry)
	for _, e := range stopRes.NodeData() {
		stopped[e.Node.Name] = e
	}
	for _, e := range startRes.NodeData() {
		se, hasStop := stopped[e.Node.Name]
		switch {
		case hasStop && !se.Success:
			res.SetState(e.Node, false, se.State, fmt.Sprintf("stop failed: %s", se.Output))
		case !e.Success:
			res.SetState(e.Node, false, e.State, e.Output)
		default:
			res.Set(e.Node, true, fmt.Sprintf("restarted: %s", e.Output))
		}
	}
	return res, nil
}

// execOnHosts runs an arbitrary command once per distinct host; every node
// on a host shares its host's outcome
func (c *Controller) execOnHosts(ctx context.Context, nodes []*topology.Node, command string) (*result.Result, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New(errors.ErrSyntax, "exec requires a command")
	}

	hostCmds := make(map[string]string)
	for _, host := range topology.Hosts(nodes) {
		hostCmds[host] = command
	}
	out := c.runner.Dispatch(ctx, hostCmds, c.cfg.Settings.CommandTimeout())

	res := result.New(c.topo.Sort(nodes))
	for _, n := range c.topo.Sort(nodes) {
		r := out[n.Host]
		switch {
		case r == nil || !r.OK:
			res.Set(n, false, "host unreachable")
		case r.ExitCode != 0:
			res.Set(n, false, fmt.Sprintf("exit %d\n%s%s", r.ExitCode, r.Stdout, r.Stderr))
		default:
			res.Set(n, true, strings.TrimRight(r.Stdout, "\n"))
		}
	}
	return res, nil
}

// listNodes renders the configured topology
func (c *Controller) listNodes(nodes []*topology.Node) *result.Result {
	res := result.New(c.topo.Sort(nodes))
	for _, n := range c.topo.Sort(nodes) {
		var attrs []string
		attrs = append(attrs, fmt.Sprintf("type=%s", n.Type), fmt.Sprintf("host=%s", n.Host))
		if n.Interface != "" {
			attrs = append(attrs, fmt.Sprintf("interface=%s", n.Interface))
		}
		if n.Port > 0 {
			attrs = append(attrs, fmt.Sprintf("port=%d", n.Port))
		}
		if len(n.PinCPUs) > 0 {
			attrs = append(attrs, fmt.Sprintf("pinCPUs=%v", n.PinCPUs))
		}
		res.Set(n, true, strings.Join(attrs, " "))
	}
	return res
}

// cronFlagResult wraps a cron flag mutation into a node-less result
func (c *Controller) cronFlagResult(err error, output string) (*result.Result, error) {
	if err != nil {
		return nil, err
	}
	res := result.New(nil)
	res.SetState(c.topo.Manager(), true, "", output)
	return res, nil
}

package cron

import (
	"fmt"

	"github.com/davidroman0O/gostage"
	"github.com/davidroman0O/gostage/store"

	"github.com/probectl/probectl/lifecycle"
	"github.com/probectl/probectl/result"
	"github.com/probectl/probectl/topology"
)

// recordError collects a non-fatal sub-step failure in the workflow store
func recordError(ctx *gostage.ActionContext, msg string) {
	errs, _ := store.GetOrDefault[[]string](ctx.Store(), keyErrors, nil)
	errs = append(errs, msg)
	ctx.Store().Put(keyErrors, errs)
}

// expireLogsAction removes archived logs older than the retention policy on
// every fleet host
type expireLogsAction struct {
	gostage.BaseAction
	s *Scheduler
}

func newExpireLogsAction(s *Scheduler) *expireLogsAction {
	return &expireLogsAction{
		BaseAction: gostage.NewBaseAction("expire-logs", "Remove archived logs past retention"),
		s:          s,
	}
}

// Execute implements the Action interface
func (a *expireLogsAction) Execute(ctx *gostage.ActionContext) error {
	s := a.s
	cmd := fmt.Sprintf(`[ -d %[1]s ] && find %[1]s -type f -mtime +%[2]d -delete; true`,
		s.layout.LogDir(), s.settings.LogExpireDays)

	hostCmds := make(map[string]string)
	for _, host := range topology.Hosts(s.topo.All()) {
		hostCmds[host] = cmd
	}

	for host, r := range s.runner.Dispatch(ctx.GoContext, hostCmds, s.settings.CommandTimeout()) {
		if !r.Success() {
			ctx.Logger.Warn("[%s] log expiry failed", host)
			recordError(ctx, fmt.Sprintf("log expiry failed on %s", host))
		}
	}
	return nil
}

// checkHostsAction probes reachability of every fleet host and marks the
// nodes of unreachable hosts as unknown in the run's result
type checkHostsAction struct {
	gostage.BaseAction
	s   *Scheduler
	res *result.Result
}

func newCheckHostsAction(s *Scheduler, res *result.Result) *checkHostsAction {
	return &checkHostsAction{
		BaseAction: gostage.NewBaseAction("check-hosts", "Probe reachability of every fleet host"),
		s:          s,
		res:        res,
	}
}

// Execute implements the Action interface
func (a *checkHostsAction) Execute(ctx *gostage.ActionContext) error {
	s := a.s

	hostCmds := make(map[string]string)
	for _, host := range topology.Hosts(s.topo.All()) {
		hostCmds[host] = "true"
	}
	probes := s.runner.Dispatch(ctx.GoContext, hostCmds, s.settings.CommandTimeout())

	reachable := make(map[string]bool, len(probes))
	for host, r := range probes {
		reachable[host] = r.Success()
		if !r.Success() {
			ctx.Logger.Warn("[%s] host unreachable", host)
			recordError(ctx, fmt.Sprintf("host %s unreachable", host))
		}
	}

	for _, n := range s.topo.All() {
		if reachable[n.Host] {
			a.res.Set(n, true, "host reachable")
		} else {
			a.res.SetState(n, false, string(lifecycle.StateUnknown), "host unreachable, state unknown")
		}
	}
	return nil
}

// selfHealAction restarts every node observed crashed, through the same
// cleanup and start code interactive commands use. The last installed
// configuration bundle is reused as is; no re-validation happens mid-heal.
type selfHealAction struct {
	gostage.BaseAction
	s   *Scheduler
	res *result.Result
}

func newSelfHealAction(s *Scheduler, res *result.Result) *selfHealAction {
	return &selfHealAction{
		BaseAction: gostage.NewBaseAction("self-heal", "Restart crashed nodes"),
		s:          s,
		res:        res,
	}
}

// Execute implements the Action interface
func (a *selfHealAction) Execute(ctx *gostage.ActionContext) error {
	s := a.s
	obs := s.mgr.Observe(ctx.GoContext, s.topo.All())

	var crashed []*topology.Node
	for _, n := range s.topo.All() {
		if obs[n.Name].State == lifecycle.StateCrashed {
			crashed = append(crashed, n)
		}
	}
	if len(crashed) == 0 {
		return nil
	}

	for _, n := range crashed {
		ctx.Logger.Info("[%s] crashed, restarting", n.Name)
	}

	cleanup := s.mgr.Cleanup(ctx.GoContext, crashed, false)
	for _, e := range cleanup.NodeData() {
		if !e.Success {
			recordError(ctx, fmt.Sprintf("self-heal cleanup failed for %s: %s", e.Node.Name, e.Output))
		}
	}

	start := s.mgr.Start(ctx.GoContext, crashed)
	for _, e := range start.NodeData() {
		if e.Success {
			a.res.Set(e.Node, true, fmt.Sprintf("self-healed: %s", e.Output))
		} else {
			a.res.Set(e.Node, false, fmt.Sprintf("self-heal failed: %s", e.Output))
			recordError(ctx, fmt.Sprintf("self-heal failed for %s", e.Node.Name))
		}
	}
	return nil
}

// Package controller ties the engine together: it resolves node subsets,
// holds the invocation-wide advisory lock, fires plugin hooks, and dispatches
// operations to the lifecycle manager, installer, diagnostics, and scheduler.
package controller

import (
	"context"
	"time"

	"github.com/probectl/probectl/config"
	"github.com/probectl/probectl/cron"
	"github.com/probectl/probectl/diag"
	"github.com/probectl/probectl/errors"
	"github.com/probectl/probectl/install"
	"github.com/probectl/probectl/lifecycle"
	"github.com/probectl/probectl/logging"
	"github.com/probectl/probectl/plugin"
	"github.com/probectl/probectl/remote"
	"github.com/probectl/probectl/result"
	"github.com/probectl/probectl/spool"
	"github.com/probectl/probectl/topology"
)

// Operation is one of the built-in orchestrator operations. The set is
// closed; plugin-contributed commands live in their own registry and are
// consulted only when no built-in matches.
type Operation string

const (
	OpStart       Operation = "start"
	OpStop        Operation = "stop"
	OpRestart     Operation = "restart"
	OpStatus      Operation = "status"
	OpCleanup     Operation = "cleanup"
	OpInstall     Operation = "install"
	OpDiag        Operation = "diag"
	OpExec        Operation = "exec"
	OpNodes       Operation = "nodes"
	OpCron        Operation = "cron"
	OpCronEnable  Operation = "cron-enable"
	OpCronDisable Operation = "cron-disable"
	OpCronStatus  Operation = "cron-status"
)

// Options carries the per-operation flags
type Options struct {
	// Clean makes restart wipe spools and reinstall before starting
	Clean bool

	// All extends cleanup to the shared tmp directory
	All bool

	// Local restricts install to the controller's own host
	Local bool

	// Watch enables the self-heal sub-step of maintenance
	Watch bool

	// Command is the shell command for exec
	Command string
}

// Runner is the full execution engine interface the controller wires into
// its components. *remote.Dispatcher satisfies it.
type Runner interface {
	Run(ctx context.Context, host, command string, timeout time.Duration) *remote.ExecResult
	Dispatch(ctx context.Context, hostCommands map[string]string, timeout time.Duration) map[string]*remote.ExecResult
	DispatchNodes(ctx context.Context, cmds []remote.NodeCommand, timeout time.Duration) map[string]*remote.ExecResult
	Copy(ctx context.Context, localPath, host, remotePath string) error
}

type opFunc func(ctx context.Context, c *Controller, nodes []*topology.Node, opts Options) (*result.Result, error)

// Controller is the orchestration engine facade
type Controller struct {
	cfg      *config.File
	topo     *topology.Topology
	runner   Runner
	mgr      *lifecycle.Manager
	inst     *install.Installer
	diags    *diag.Collector
	sched    *cron.Scheduler
	plugins  *plugin.Registry
	layout   *spool.Layout
	log      logging.Logger
	dispatch map[Operation]opFunc
}

// New creates a controller with the standard remote dispatcher
func New(cfg *config.File, log logging.Logger) (*Controller, error) {
	return NewWithRunner(cfg, remote.NewDispatcher(cfg, log), log)
}

// NewWithRunner creates a controller on a caller-provided execution engine
func NewWithRunner(cfg *config.File, runner Runner, log logging.Logger) (*Controller, error) {
	topo, err := cfg.Topology()
	if err != nil {
		return nil, err
	}

	settings := &cfg.Settings
	mgr := lifecycle.NewManager(topo, settings, runner, log)

	c := &Controller{
		cfg:     cfg,
		topo:    topo,
		runner:  runner,
		mgr:     mgr,
		inst:    install.NewInstaller(topo, settings, runner, log),
		diags:   diag.NewCollector(settings, runner, log),
		sched:   cron.NewScheduler(topo, settings, mgr, runner, log),
		plugins: plugin.NewRegistry(),
		layout:  spool.NewLayout(settings),
		log:     log,
	}
	c.dispatch = builtinOps()
	return c, nil
}

// Topology exposes the resolved topology for presentation
func (c *Controller) Topology() *topology.Topology {
	return c.topo
}

// Plugins exposes the plugin registry for registration and custom dispatch
func (c *Controller) Plugins() *plugin.Registry {
	return c.plugins
}

// Installer exposes the installer, mainly so callers can override bundle
// validation
func (c *Controller) Installer() *install.Installer {
	return c.inst
}

// mutates reports whether an operation writes to the spool/config tree and
// therefore needs the invocation lock
func (op Operation) mutates() bool {
	switch op {
	case OpStart, OpStop, OpRestart, OpCleanup, OpInstall, OpCron, OpCronEnable, OpCronDisable:
		return true
	}
	return false
}

// Run executes a built-in operation against an optional node subset. Errors
// that invalidate the whole operation (bad arguments, lock contention,
// validation failure) surface before any host work begins; per-node failures
// are recorded inside the Result.
func (c *Controller) Run(ctx context.Context, op Operation, nodeNames []string, opts Options) (*result.Result, error) {
	fn, known := c.dispatch[op]
	if !known {
		return nil, errors.Newf(errors.ErrSyntax, "unknown operation %q", op)
	}

	nodes, err := c.topo.Resolve(nodeNames)
	if err != nil {
		return nil, errors.WithOp(err, string(op))
	}

	if op.mutates() {
		lock := spool.NewLock(c.layout.LockFile())
		if err := lock.Acquire(); err != nil {
			return nil, errors.WithOp(err, string(op))
		}
		defer lock.Release()
	}

	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}

	hookErr := c.plugins.RunHooks(ctx, string(op), plugin.Before, names)

	res, err := fn(ctx, c, nodes, opts)
	if err != nil {
		return nil, err
	}

	if afterErr := c.plugins.RunHooks(ctx, string(op), plugin.After, names); afterErr != nil && hookErr == nil {
		hookErr = afterErr
	}
	if hookErr != nil {
		c.log.Warn("plugin hook failed for %s: %v", op, hookErr)
		res.Fail(errors.Wrap(hookErr, errors.ErrPlugin, "plugin hook failed").Error())
	}

	return res, nil
}

// RunCustom dispatches a plugin-contributed command, reporting whether the
// name was handled
func (c *Controller) RunCustom(ctx context.Context, name string, args []string) (bool, error) {
	return c.plugins.RunCustomCommand(ctx, name, args, c.log)
}

// Close releases the execution engine's resources
func (c *Controller) Close() error {
	if closer, ok := c.runner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

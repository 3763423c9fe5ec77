package remote

import (
	"context"
	"sync"
	"time"

	"github.com/probectl/probectl/config"
	"github.com/probectl/probectl/errors"
	"github.com/probectl/probectl/logging"
)

// NodeCommand is one command destined for one node's host
type NodeCommand struct {
	Node    string
	Host    string
	Command string
}

// Dispatcher fans commands out to fleet hosts. Distinct hosts run
// concurrently; commands for the same host are serialized through a per-host
// lock, which is what makes install and lifecycle operations safe against
// self-races on a shared host.
type Dispatcher struct {
	cfg *config.File
	log logging.Logger

	mu        sync.Mutex
	executors map[string]Executor
	hostLocks map[string]*sync.Mutex
}

// NewDispatcher creates a dispatcher for the given configuration
func NewDispatcher(cfg *config.File, log logging.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		log:       log,
		executors: make(map[string]Executor),
		hostLocks: make(map[string]*sync.Mutex),
	}
}

// executorFor returns the cached executor for a host, building one according
// to the host's transport configuration
func (d *Dispatcher) executorFor(host string) (Executor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.executors[host]; ok {
		return e, nil
	}

	var (
		e   Executor
		err error
	)

	override := d.cfg.HostOverride(host)
	switch {
	case override != nil && override.Transport == "docker":
		e, err = NewDockerExecutor(host, override.Container)
	case override != nil && override.Transport == "local":
		e = NewLocalExecutor(host)
	case host == d.cfg.Settings.LocalHost:
		e = NewLocalExecutor(host)
	default:
		sshCfg := d.cfg.Settings.SSH
		address := ""
		if override != nil {
			address = override.Address
			if override.SSH != nil {
				sshCfg = *override.SSH
			}
		}
		e = NewSSHExecutor(host, address, sshCfg)
	}

	if err != nil {
		return nil, err
	}

	d.executors[host] = e
	return e, nil
}

// hostLock returns the serialization lock for a host
func (d *Dispatcher) hostLock(host string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.hostLocks[host]
	if !ok {
		l = &sync.Mutex{}
		d.hostLocks[host] = l
	}
	return l
}

// Run executes one command on one host, serialized against other commands for
// the same host and bounded by the timeout. It never returns an error: a
// transport failure becomes an ExecResult with OK false and a reason.
func (d *Dispatcher) Run(ctx context.Context, host, command string, timeout time.Duration) *ExecResult {
	lock := d.hostLock(host)
	lock.Lock()
	defer lock.Unlock()

	return d.runLocked(ctx, host, command, timeout)
}

func (d *Dispatcher) runLocked(ctx context.Context, host, command string, timeout time.Duration) *ExecResult {
	executor, err := d.executorFor(host)
	if err != nil {
		return &ExecResult{Host: host, Reason: FailUnreachable,
			Err: errors.Wrap(err, errors.ErrHostUnreachable, "no executor for host")}
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	d.log.Debug("[%s] running: %s", host, command)

	res, err := executor.Execute(execCtx, command)
	if err != nil {
		reason := FailUnreachable
		code := errors.ErrHostUnreachable
		if execCtx.Err() != nil {
			reason = FailTimeout
			code = errors.ErrHostTimeout
		}
		d.log.Warn("[%s] command failed: %v", host, err)
		return &ExecResult{Host: host, Reason: reason, Err: errors.Wrap(err, code, "command failed")}
	}

	return res
}

// Dispatch executes one command per distinct host concurrently. Every host
// gets an entry in the returned map; a host that fails to respond within the
// timeout yields a result with OK false without blocking the others.
func (d *Dispatcher) Dispatch(ctx context.Context, hostCommands map[string]string, timeout time.Duration) map[string]*ExecResult {
	results := make(map[string]*ExecResult, len(hostCommands))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for host, command := range hostCommands {
		wg.Add(1)
		go func(host, command string) {
			defer wg.Done()
			res := d.Run(ctx, host, command, timeout)
			mu.Lock()
			results[host] = res
			mu.Unlock()
		}(host, command)
	}

	wg.Wait()
	return results
}

// DispatchNodes executes per-node commands with per-host serialization:
// one goroutine per distinct host, each walking its nodes' commands in order.
// Results are keyed by node name. A cancelled context stops issuing new
// commands; commands already in flight finish on their own timeout.
func (d *Dispatcher) DispatchNodes(ctx context.Context, cmds []NodeCommand, timeout time.Duration) map[string]*ExecResult {
	byHost := make(map[string][]NodeCommand)
	for _, c := range cmds {
		byHost[c.Host] = append(byHost[c.Host], c)
	}

	results := make(map[string]*ExecResult, len(cmds))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for host, hostCmds := range byHost {
		wg.Add(1)
		go func(host string, hostCmds []NodeCommand) {
			defer wg.Done()

			lock := d.hostLock(host)
			lock.Lock()
			defer lock.Unlock()

			for _, c := range hostCmds {
				if ctx.Err() != nil {
					mu.Lock()
					results[c.Node] = &ExecResult{Host: host, Reason: FailTimeout,
						Err: errors.Wrap(ctx.Err(), errors.ErrHostTimeout, "cancelled before dispatch")}
					mu.Unlock()
					continue
				}

				res := d.runLocked(ctx, host, c.Command, timeout)
				mu.Lock()
				results[c.Node] = res
				mu.Unlock()
			}
		}(host, hostCmds)
	}

	wg.Wait()
	return results
}

// Copy transfers a local file to a host, serialized with that host's commands
func (d *Dispatcher) Copy(ctx context.Context, localPath, host, remotePath string) error {
	lock := d.hostLock(host)
	lock.Lock()
	defer lock.Unlock()

	executor, err := d.executorFor(host)
	if err != nil {
		return err
	}

	d.log.Debug("[%s] copying %s -> %s", host, localPath, remotePath)
	return executor.Copy(ctx, localPath, remotePath)
}

// Close releases every cached executor
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for host, e := range d.executors {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.executors, host)
	}
	return firstErr
}

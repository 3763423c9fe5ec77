// Package diag builds diagnostic bundles for nodes that terminated
// unexpectedly: captured output tails, the last resource usage snapshot, and
// a backtrace when a core dump is present. Collection is best effort; a
// missing piece is reported as absent, never as a failure of the whole
// diagnosis.
package diag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/probectl/probectl/config"
	"github.com/probectl/probectl/logging"
	"github.com/probectl/probectl/remote"
	"github.com/probectl/probectl/result"
	"github.com/probectl/probectl/spool"
	"github.com/probectl/probectl/topology"
)

// Runner is the slice of the execution engine diagnostics depends on
type Runner interface {
	Run(ctx context.Context, host, command string, timeout time.Duration) *remote.ExecResult
}

// Bundle is the collected evidence for one node
type Bundle struct {
	Node string

	// StdoutTail and StderrTail are the last lines of the node's captured
	// output, empty when no capture exists
	StdoutTail string
	StderrTail string

	// ResourceUsage is the snapshot taken at last known liveness
	ResourceUsage string

	// CorePath is the core dump artifact found in the spool entry, empty
	// when none exists
	CorePath string

	// Backtrace is the symbolic backtrace extracted from the core dump
	Backtrace string

	// Missing names the pieces that could not be collected
	Missing []string
}

// Collector gathers diagnostic bundles
type Collector struct {
	settings *config.Settings
	layout   *spool.Layout
	runner   Runner
	log      logging.Logger
}

// NewCollector creates a diagnostics collector
func NewCollector(settings *config.Settings, runner Runner, log logging.Logger) *Collector {
	return &Collector{
		settings: settings,
		layout:   spool.NewLayout(settings),
		runner:   runner,
		log:      log,
	}
}

const tailLines = 50

// Diagnose collects a bundle for one node
func (c *Collector) Diagnose(ctx context.Context, node *topology.Node) *Bundle {
	b := &Bundle{Node: node.Name}
	timeout := c.settings.CommandTimeout()

	grab := func(name, command string) string {
		r := c.runner.Run(ctx, node.Host, command, timeout)
		if !r.Success() || strings.TrimSpace(r.Stdout) == "" {
			b.Missing = append(b.Missing, name)
			return ""
		}
		return strings.TrimRight(r.Stdout, "\n")
	}

	b.StdoutTail = grab("stdout", fmt.Sprintf("tail -n %d %s 2>/dev/null", tailLines, c.layout.StdoutLog(node.Name)))
	b.StderrTail = grab("stderr", fmt.Sprintf("tail -n %d %s 2>/dev/null", tailLines, c.layout.StderrLog(node.Name)))
	b.ResourceUsage = grab("resource usage", fmt.Sprintf("cat %s 2>/dev/null", c.layout.StatsFile(node.Name)))

	b.CorePath = grab("core dump", fmt.Sprintf("ls %s/core* 2>/dev/null | head -n 1", c.layout.NodeDir(node.Name)))
	if b.CorePath != "" && c.settings.DebuggerCommand != "" {
		cmd := fmt.Sprintf(c.settings.DebuggerCommand, c.settings.BinPath, b.CorePath)
		b.Backtrace = grab("backtrace", cmd)
	} else if b.CorePath != "" {
		b.Missing = append(b.Missing, "backtrace")
	}

	return b
}

// DiagnoseNodes collects bundles for every given node and renders them into
// a topology-ordered result
func (c *Collector) DiagnoseNodes(ctx context.Context, topo *topology.Topology, nodes []*topology.Node) *result.Result {
	ordered := topo.Sort(nodes)
	res := result.New(ordered)

	for _, n := range ordered {
		b := c.Diagnose(ctx, n)
		res.Set(n, true, b.Render())
	}
	return res
}

// Render formats the bundle for presentation
func (b *Bundle) Render() string {
	var out strings.Builder

	section := func(title, body string) {
		if body == "" {
			return
		}
		fmt.Fprintf(&out, "=== %s\n%s\n", title, body)
	}

	section("stderr tail", b.StderrTail)
	section("stdout tail", b.StdoutTail)
	section("resource usage at last liveness", b.ResourceUsage)
	if b.CorePath != "" {
		section("core dump", b.CorePath)
	}
	section("backtrace", b.Backtrace)

	// Emptiness is decided by the sections alone; a bundle where everything
	// is missing reads as empty, not as a list of absences.
	if out.Len() == 0 {
		return "no diagnostic artifacts found"
	}
	if len(b.Missing) > 0 {
		fmt.Fprintf(&out, "(not collected: %s)\n", strings.Join(b.Missing, ", "))
	}
	return strings.TrimRight(out.String(), "\n")
}

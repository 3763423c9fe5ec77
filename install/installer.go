// Package install propagates configuration to the fleet: it regenerates the
// per-node bundle from the topology, validates it before touching any host,
// then stages and atomically swaps it into place so a node restarted
// mid-install never observes a half-written configuration.
package install

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/probectl/probectl/config"
	"github.com/probectl/probectl/errors"
	"github.com/probectl/probectl/logging"
	"github.com/probectl/probectl/remote"
	"github.com/probectl/probectl/result"
	"github.com/probectl/probectl/spool"
	"github.com/probectl/probectl/topology"
)

// Runner is the slice of the execution engine the installer depends on
type Runner interface {
	Run(ctx context.Context, host, command string, timeout time.Duration) *remote.ExecResult
	Copy(ctx context.Context, localPath, host, remotePath string) error
}

// Validator checks a generated bundle for syntactic correctness. A failed
// validation aborts the whole install before any host is touched.
type Validator func(ctx context.Context, bundleDir string) (bool, string)

// Installer propagates validated configuration bundles to the fleet
type Installer struct {
	topo     *topology.Topology
	settings *config.Settings
	layout   *spool.Layout
	runner   Runner
	log      logging.Logger
	validate Validator
	cronFlag *spool.CronFlag
}

// NewInstaller creates an installer. The default validator runs the
// configured validate command on the controller host; with no command
// configured every bundle passes.
func NewInstaller(topo *topology.Topology, settings *config.Settings, runner Runner, log logging.Logger) *Installer {
	layout := spool.NewLayout(settings)
	i := &Installer{
		topo:     topo,
		settings: settings,
		layout:   layout,
		runner:   runner,
		log:      log,
		cronFlag: spool.NewCronFlag(layout.CronFlagFile()),
	}
	i.validate = i.commandValidator
	return i
}

// SetValidator overrides the bundle validator
func (i *Installer) SetValidator(v Validator) {
	i.validate = v
}

// commandValidator runs the configured validate command against the bundle
// on the controller's own host
func (i *Installer) commandValidator(ctx context.Context, bundleDir string) (bool, string) {
	if i.settings.ValidateCommand == "" {
		return true, ""
	}

	cmd := fmt.Sprintf(i.settings.ValidateCommand, bundleDir)
	res := i.runner.Run(ctx, i.settings.LocalHost, cmd, i.settings.CommandTimeout())
	if res.Success() {
		return true, ""
	}
	if !res.OK {
		return false, fmt.Sprintf("validator did not run: %v", res.Err)
	}
	return false, res.Stdout + res.Stderr
}

// Install regenerates, validates, and propagates the configuration bundle.
// With local set, propagation is restricted to the controller's own host.
// Already-running nodes are unaffected until their next start.
func (i *Installer) Install(ctx context.Context, local bool) (*result.Result, error) {
	bundleDir, version, err := i.generateBundle()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfig, "failed to generate configuration bundle")
	}
	defer os.RemoveAll(bundleDir)

	ok, diagnostics := i.validate(ctx, bundleDir)
	if !ok {
		return nil, errors.Newf(errors.ErrInstallValidation,
			"configuration validation failed, nothing installed: %s", diagnostics)
	}

	files, err := bundleFiles(bundleDir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfig, "failed to enumerate bundle")
	}

	nodes := i.topo.All()
	if local {
		var filtered []*topology.Node
		for _, n := range nodes {
			if n.Host == i.settings.LocalHost {
				filtered = append(filtered, n)
			}
		}
		nodes = filtered
	}

	res := result.New(i.topo.Sort(nodes))

	// Each install activates a fresh bundle directory, so reinstalling an
	// unchanged bundle still leaves the directory the live symlink points at
	// untouched until the flip.
	deployID := fmt.Sprintf("%s.%d", version, time.Now().UnixNano())

	hosts := topology.Hosts(nodes)
	hostErr := make(map[string]error, len(hosts))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, host := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			err := i.installHost(ctx, host, bundleDir, files, version, deployID)
			mu.Lock()
			hostErr[host] = err
			mu.Unlock()
		}(host)
	}
	wg.Wait()

	for _, n := range nodes {
		if err := hostErr[n.Host]; err != nil {
			res.Set(n, false, fmt.Sprintf("install failed: %v", err))
		} else {
			res.Set(n, true, fmt.Sprintf("configuration installed (version %s)", version))
		}
	}

	// First install creates the cron flag with its enabled default.
	if _, statErr := os.Stat(i.layout.CronFlagFile()); os.IsNotExist(statErr) {
		if err := i.cronFlag.SetEnabled(true); err != nil {
			i.log.Warn("failed to initialize cron flag: %v", err)
		}
	}

	return res, nil
}

// installHost stages the bundle on one host and activates it by renaming a
// symlink over the active path. A reader resolving the active path at any
// moment sees a complete bundle, old or new, never a mix and never a gap.
func (i *Installer) installHost(ctx context.Context, host, bundleDir string, files []string, version, deployID string) error {
	staged := i.layout.StagedConfDir()
	active := i.layout.ConfDir()
	target := i.layout.VersionedConfDir(deployID)
	timeout := i.settings.CommandTimeout()

	prep := fmt.Sprintf(`rm -rf %[1]s && mkdir -p %[1]s/nodes`, staged)
	if r := i.runner.Run(ctx, host, prep, timeout); !r.Success() {
		return fmt.Errorf("failed to prepare staging directory: %s", execFailure(r))
	}

	for _, rel := range files {
		local := filepath.Join(bundleDir, rel)
		target := path.Join(staged, filepath.ToSlash(rel))
		if err := i.runner.Copy(ctx, local, host, target); err != nil {
			return fmt.Errorf("failed to copy %s: %w", rel, err)
		}
	}

	stamp := fmt.Sprintf(`printf '%s %s\n' > %s`, version, time.Now().UTC().Format(time.RFC3339), path.Join(staged, "version"))
	if r := i.runner.Run(ctx, host, stamp, timeout); !r.Success() {
		return fmt.Errorf("failed to stamp bundle version: %s", execFailure(r))
	}

	// A plain directory at the active path predates the symlink layout and
	// is replaced by it on the next install.
	swap := fmt.Sprintf(
		`rm -rf %[1]s && mv %[2]s %[1]s && { [ -d %[3]s ] && [ ! -L %[3]s ] && rm -rf %[3]s; true; } && ln -sfn %[4]s %[3]s.next && mv -T %[3]s.next %[3]s`,
		target, staged, active, filepath.Base(target))
	if r := i.runner.Run(ctx, host, swap, timeout); !r.Success() {
		return fmt.Errorf("failed to activate bundle: %s", execFailure(r))
	}

	prune := fmt.Sprintf(`for d in %[1]s-*; do [ "$d" = "%[2]s" ] || rm -rf "$d"; done`, active, target)
	if r := i.runner.Run(ctx, host, prune, timeout); !r.Success() {
		i.log.Warn("[%s] failed to prune superseded bundles: %s", host, execFailure(r))
	}

	i.log.Info("[%s] installed configuration version %s", host, version)
	return nil
}

// execFailure renders a failed remote command for error messages
func execFailure(r *remote.ExecResult) string {
	switch {
	case r == nil:
		return "no result"
	case !r.OK:
		return fmt.Sprintf("%s: %v", r.Reason, r.Err)
	case r.Stderr != "":
		return fmt.Sprintf("exit %d: %s", r.ExitCode, r.Stderr)
	default:
		return fmt.Sprintf("exit %d", r.ExitCode)
	}
}

// Package cron implements the periodic maintenance runner. A persisted flag
// gates every run; the maintenance sequence itself (log expiry, host
// reachability, crash self-heal) is a staged workflow so sub-steps run and
// fail independently.
package cron

import (
	"context"
	"strings"

	"github.com/davidroman0O/gostage"
	"github.com/davidroman0O/gostage/store"

	"github.com/probectl/probectl/config"
	"github.com/probectl/probectl/lifecycle"
	"github.com/probectl/probectl/logging"
	"github.com/probectl/probectl/result"
	"github.com/probectl/probectl/spool"
	"github.com/probectl/probectl/topology"
)

// keyErrors is the workflow store key collecting non-fatal sub-step failures
const keyErrors = "maintenance.errors"

// Scheduler runs the maintenance sequence. It is a caller of the same
// lifecycle operations that interactive commands use, so the self-heal path
// exercises exactly the same start and cleanup code.
type Scheduler struct {
	topo     *topology.Topology
	settings *config.Settings
	layout   *spool.Layout
	mgr      *lifecycle.Manager
	runner   lifecycle.Runner
	flag     *spool.CronFlag
	log      logging.Logger
}

// NewScheduler creates a maintenance scheduler
func NewScheduler(topo *topology.Topology, settings *config.Settings, mgr *lifecycle.Manager, runner lifecycle.Runner, log logging.Logger) *Scheduler {
	layout := spool.NewLayout(settings)
	return &Scheduler{
		topo:     topo,
		settings: settings,
		layout:   layout,
		mgr:      mgr,
		runner:   runner,
		flag:     spool.NewCronFlag(layout.CronFlagFile()),
		log:      log,
	}
}

// Enabled reads the persisted cron flag
func (s *Scheduler) Enabled() (bool, error) {
	return s.flag.Enabled()
}

// SetEnabled flips the persisted cron flag
func (s *Scheduler) SetEnabled(enabled bool) error {
	return s.flag.SetEnabled(enabled)
}

// RunMaintenance performs one maintenance run. A disabled flag makes the
// whole run an immediate no-op success. With watch false the auto-restart
// sub-step is suppressed while log expiry and reachability checks still run.
// Sub-step failures are collected, never fatal to the other sub-steps.
func (s *Scheduler) RunMaintenance(ctx context.Context, watch bool) (*result.Result, error) {
	enabled, err := s.flag.Enabled()
	if err != nil {
		return nil, err
	}
	if !enabled {
		s.log.Debug("cron disabled, skipping maintenance")
		return result.New(nil), nil
	}

	res := result.New(s.topo.All())

	wf := gostage.NewWorkflow("maintenance", "Fleet maintenance",
		"Log expiry, host reachability, and crash self-heal")

	expire := gostage.NewStage("expire-logs", "Expire logs", "Remove archived logs past retention")
	expire.AddAction(newExpireLogsAction(s))
	wf.AddStage(expire)

	check := gostage.NewStage("check-hosts", "Check hosts", "Probe reachability of every fleet host")
	check.AddAction(newCheckHostsAction(s, res))
	wf.AddStage(check)

	if watch {
		heal := gostage.NewStage("self-heal", "Self-heal", "Restart crashed nodes")
		heal.AddAction(newSelfHealAction(s, res))
		wf.AddStage(heal)
	}

	runner := gostage.NewRunner()
	runner.Use(func(next gostage.RunnerFunc) gostage.RunnerFunc {
		return func(ctx context.Context, w *gostage.Workflow, logger gostage.Logger) error {
			logger.Info("maintenance run starting (watch=%v)", watch)
			err := next(ctx, w, logger)
			logger.Info("maintenance run finished")
			return err
		}
	})

	if err := runner.Execute(ctx, wf, s.log); err != nil {
		res.Fail(err.Error())
		return res, nil
	}

	if errs, err := store.GetOrDefault[[]string](wf.Store, keyErrors, nil); err == nil && len(errs) > 0 {
		res.Fail(strings.Join(errs, "; "))
	}

	return res, nil
}

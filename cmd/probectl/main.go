package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/probectl/probectl/config"
	"github.com/probectl/probectl/controller"
	"github.com/probectl/probectl/errors"
	"github.com/probectl/probectl/logging"
	"github.com/probectl/probectl/result"
)

func main() {
	var (
		configFlag string
		debugFlag  bool
	)

	rootCmd := &cobra.Command{
		Use:   "probectl",
		Short: "Fleet control for distributed sensor processes",
		Long:  "probectl starts, stops, installs, diagnoses, and maintains a fleet of sensor processes across hosts",
		// Unknown first arguments fall through to plugin-contributed
		// commands; built-ins always win.
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			ctrl, err := newController(configFlag, debugFlag)
			if err != nil {
				return err
			}
			defer ctrl.Close()

			handled, err := ctrl.RunCustom(context.Background(), args[0], args[1:])
			if err != nil {
				return err
			}
			if !handled {
				return fmt.Errorf("unknown command %q", args[0])
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "/opt/probe/etc/probectl.yaml", "Path to fleet configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	run := func(op controller.Operation, opts *controller.Options) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctrl, err := newController(configFlag, debugFlag)
			if err != nil {
				return err
			}
			defer ctrl.Close()

			o := controller.Options{}
			if opts != nil {
				o = *opts
			}
			if op == controller.OpExec {
				o.Command = strings.Join(args, " ")
				args = nil
			}

			res, err := ctrl.Run(context.Background(), op, args, o)
			if err != nil {
				return err
			}
			printResult(res)
			if !res.OK() {
				os.Exit(1)
			}
			return nil
		}
	}

	var restartOpts, cleanupOpts, installOpts controller.Options

	startCmd := &cobra.Command{
		Use:   "start [node|group ...]",
		Short: "Start nodes that are not running",
		RunE:  run(controller.OpStart, nil),
	}

	stopCmd := &cobra.Command{
		Use:   "stop [node|group ...]",
		Short: "Stop running nodes",
		RunE:  run(controller.OpStop, nil),
	}

	restartCmd := &cobra.Command{
		Use:   "restart [node|group ...]",
		Short: "Stop and start nodes",
		RunE:  run(controller.OpRestart, &restartOpts),
	}
	restartCmd.Flags().BoolVar(&restartOpts.Clean, "clean", false, "Wipe spools and reinstall configuration before starting")

	statusCmd := &cobra.Command{
		Use:   "status [node|group ...]",
		Short: "Report the state of nodes",
		RunE:  run(controller.OpStatus, nil),
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup [node|group ...]",
		Short: "Clear the spool entries of nodes that are not running",
		RunE:  run(controller.OpCleanup, &cleanupOpts),
	}
	cleanupCmd.Flags().BoolVar(&cleanupOpts.All, "all", false, "Also clear the installation-wide tmp directory")

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Validate and propagate the configuration to all hosts",
		Args:  cobra.NoArgs,
		RunE:  run(controller.OpInstall, &installOpts),
	}
	installCmd.Flags().BoolVar(&installOpts.Local, "local", false, "Restrict propagation to this host")

	diagCmd := &cobra.Command{
		Use:   "diag [node|group ...]",
		Short: "Collect crash diagnostics for nodes",
		RunE:  run(controller.OpDiag, nil),
	}

	execCmd := &cobra.Command{
		Use:   "exec <command>",
		Short: "Run a shell command on every host",
		Args:  cobra.MinimumNArgs(1),
		RunE:  run(controller.OpExec, nil),
	}

	nodesCmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the configured topology",
		Args:  cobra.NoArgs,
		RunE:  run(controller.OpNodes, nil),
	}

	cronCmd := &cobra.Command{
		Use:   "cron",
		Short: "Run or control periodic maintenance",
		RunE:  run(controller.OpCron, &controller.Options{Watch: true}),
	}
	cronCmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Enable periodic maintenance",
			Args:  cobra.NoArgs,
			RunE:  run(controller.OpCronEnable, nil),
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Disable periodic maintenance",
			Args:  cobra.NoArgs,
			RunE:  run(controller.OpCronDisable, nil),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether periodic maintenance is enabled",
			Args:  cobra.NoArgs,
			RunE:  run(controller.OpCronStatus, nil),
		},
		&cobra.Command{
			Use:   "run",
			Short: "Run one maintenance pass without the auto-restart step",
			Args:  cobra.NoArgs,
			RunE:  run(controller.OpCron, &controller.Options{Watch: false}),
		},
	)

	initCmd := &cobra.Command{
		Use:   "init [output]",
		Short: "Write a starter configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteExample(args[0]); err != nil {
				return err
			}
			fmt.Printf("configuration template written to %s\n", args[0])
			return nil
		},
	}

	rootCmd.AddCommand(startCmd, stopCmd, restartCmd, statusCmd, cleanupCmd,
		installCmd, diagCmd, execCmd, nodesCmd, cronCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		// Invocation-level failures (bad config, lock contention, failed
		// validation) exit 2; per-node failures exit 1.
		if errors.IsFatal(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// newController loads the configuration and builds the engine
func newController(configPath string, debug bool) (*controller.Controller, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return controller.New(cfg, logging.NewLogger(debug))
}

// printResult renders a result, one node per line, multi-line outputs
// indented under their node
func printResult(res *result.Result) {
	for _, e := range res.NodeData() {
		status := "ok"
		if !e.Success {
			status = "FAILED"
		}

		lines := strings.Split(e.Output, "\n")
		fmt.Printf("%-16s %-8s %s\n", e.Node.Name, status, lines[0])
		for _, line := range lines[1:] {
			fmt.Printf("%-16s %-8s %s\n", "", "", line)
		}
	}

	if reason := res.FailureReason(); reason != "" {
		fmt.Printf("error: %s\n", reason)
	}
}

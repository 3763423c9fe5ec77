package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probectl/probectl/config"
	"github.com/probectl/probectl/errors"
	"github.com/probectl/probectl/logging"
	"github.com/probectl/probectl/plugin"
	"github.com/probectl/probectl/spool"
)

func newController(t *testing.T) *Controller {
	t.Helper()

	base := t.TempDir()
	bin := filepath.Join(base, "bin", "probe")
	require.NoError(t, os.MkdirAll(filepath.Dir(bin), 0755))
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 60\n"), 0755))

	cfg := &config.File{
		Settings: config.Settings{
			BinPath:           bin,
			BaseDir:           base,
			CommandTimeoutSec: 10,
			StartTimeoutSec:   3,
			StopGraceSec:      2,
		},
		Nodes: []config.NodeConfig{{Name: "solo", Type: "standalone", Host: "localhost"}},
	}
	require.NoError(t, cfg.Normalize())

	c, err := New(cfg, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Run(context.Background(), OpStop, nil, Options{})
		c.Close()
	})
	return c
}

func TestRunRejectsUnknownOperation(t *testing.T) {
	c := newController(t)

	_, err := c.Run(context.Background(), Operation("bounce"), nil, Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrSyntax, errors.GetCode(err))
}

func TestRunRejectsUnknownNode(t *testing.T) {
	c := newController(t)

	_, err := c.Run(context.Background(), OpStatus, []string{"worker-9"}, Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrUnknownNode, errors.GetCode(err))
	assert.Contains(t, err.Error(), "status:", "the failing operation names itself")
	assert.True(t, errors.IsFatal(err), "an unresolved node invalidates the invocation")
}

func TestLifecycleThroughController(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	res, err := c.Run(ctx, OpStart, nil, Options{})
	require.NoError(t, err)
	require.True(t, res.OK(), "%+v", res.NodeData())

	res, err = c.Run(ctx, OpStatus, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "running", res.NodeData()[0].State)

	res, err = c.Run(ctx, OpStop, nil, Options{})
	require.NoError(t, err)
	require.True(t, res.OK())

	res, err = c.Run(ctx, OpStatus, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "stopped", res.NodeData()[0].State)
}

func TestRestart(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	res, err := c.Run(ctx, OpStart, nil, Options{})
	require.NoError(t, err)
	require.True(t, res.OK())

	res, err = c.Run(ctx, OpRestart, nil, Options{})
	require.NoError(t, err)
	require.True(t, res.OK(), "%+v", res.NodeData())
	out, _ := res.NodeOutput("solo")
	assert.Contains(t, out, "restarted")

	res, err = c.Run(ctx, OpStatus, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "running", res.NodeData()[0].State)
}

func TestMutatingOperationsExcludeEachOther(t *testing.T) {
	c := newController(t)

	held := spool.NewLock(c.layout.LockFile())
	require.NoError(t, held.Acquire())
	defer held.Release()

	_, err := c.Run(context.Background(), OpStart, nil, Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrConcurrentInvocation, errors.GetCode(err))

	// Read-only operations are not serialized.
	res, err := c.Run(context.Background(), OpStatus, nil, Options{})
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestLockReleasedAfterRun(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	_, err := c.Run(ctx, OpCronDisable, nil, Options{})
	require.NoError(t, err)
	_, err = c.Run(ctx, OpCronEnable, nil, Options{})
	require.NoError(t, err)
}

func TestHookFailureFailsResult(t *testing.T) {
	c := newController(t)

	c.Plugins().RegisterHook(string(OpStatus), plugin.After,
		func(ctx context.Context, op string, nodes []string) error {
			return fmt.Errorf("archiver unavailable")
		})

	res, err := c.Run(context.Background(), OpStatus, nil, Options{})
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Contains(t, res.FailureReason(), "archiver unavailable")

	// The per-node entries from the host work survive the hook failure.
	require.Len(t, res.NodeData(), 1)
	assert.True(t, res.NodeData()[0].Success)
}

func TestBeforeHookSeesOperationAndNodes(t *testing.T) {
	c := newController(t)

	var gotOp string
	var gotNodes []string
	c.Plugins().RegisterHook(string(OpStatus), plugin.Before,
		func(ctx context.Context, op string, nodes []string) error {
			gotOp = op
			gotNodes = nodes
			return nil
		})

	_, err := c.Run(context.Background(), OpStatus, []string{"solo"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "status", gotOp)
	assert.Equal(t, []string{"solo"}, gotNodes)
}

func TestExec(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	res, err := c.Run(ctx, OpExec, nil, Options{Command: "echo fleet check"})
	require.NoError(t, err)
	require.True(t, res.OK())
	out, _ := res.NodeOutput("solo")
	assert.Equal(t, "fleet check", out)

	res, err = c.Run(ctx, OpExec, nil, Options{Command: "exit 7"})
	require.NoError(t, err)
	assert.False(t, res.OK())
	out, _ = res.NodeOutput("solo")
	assert.Contains(t, out, "exit 7")

	_, err = c.Run(ctx, OpExec, nil, Options{Command: "  "})
	require.Error(t, err)
	assert.Equal(t, errors.ErrSyntax, errors.GetCode(err))
}

func TestNodesListing(t *testing.T) {
	c := newController(t)

	res, err := c.Run(context.Background(), OpNodes, nil, Options{})
	require.NoError(t, err)
	require.True(t, res.OK())
	out, _ := res.NodeOutput("solo")
	assert.Contains(t, out, "type=standalone")
	assert.Contains(t, out, "host=localhost")
}

func TestCronFlagOperations(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	res, err := c.Run(ctx, OpCronStatus, nil, Options{})
	require.NoError(t, err)
	out, _ := res.NodeOutput("solo")
	assert.Equal(t, "cron enabled", out)

	_, err = c.Run(ctx, OpCronDisable, nil, Options{})
	require.NoError(t, err)

	res, err = c.Run(ctx, OpCronStatus, nil, Options{})
	require.NoError(t, err)
	out, _ = res.NodeOutput("solo")
	assert.Equal(t, "cron disabled", out)

	// A disabled flag short-circuits the maintenance run.
	res, err = c.Run(ctx, OpCron, nil, Options{Watch: true})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Zero(t, res.Len())
}

func TestInstallThroughController(t *testing.T) {
	c := newController(t)

	res, err := c.Run(context.Background(), OpInstall, nil, Options{})
	require.NoError(t, err)
	require.True(t, res.OK(), "%+v", res.NodeData())

	env, err := os.ReadFile(c.layout.NodeEnvFile("solo"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "PROBE_NODE=solo")
}

func TestCustomCommandDispatch(t *testing.T) {
	c := newController(t)

	var ran bool
	require.NoError(t, c.Plugins().RegisterCommand(
		plugin.CommandSpec{Name: "capture", Description: "Trigger a capture"},
		func(ctx context.Context, args []string, log logging.Logger) error {
			ran = true
			return nil
		}))

	handled, err := c.RunCustom(context.Background(), "capture", nil)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.True(t, ran)

	handled, err = c.RunCustom(context.Background(), "unknown-cmd", nil)
	require.NoError(t, err)
	assert.False(t, handled)
}

package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// localExecutor runs commands on the controller's own host, bypassing any
// remote transport
type localExecutor struct {
	host string
}

// NewLocalExecutor creates an executor that runs commands in-process via the
// local shell
func NewLocalExecutor(host string) Executor {
	return &localExecutor{host: host}
}

func (e *localExecutor) Execute(ctx context.Context, command string) (*ExecResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("command timed out on %s: %w", e.host, ctx.Err())
	}

	result := &ExecResult{
		Host:   e.host,
		OK:     true,
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("command failed on %s: %w", e.host, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	return result, nil
}

func (e *localExecutor) Copy(ctx context.Context, localPath, remotePath string) error {
	if localPath == remotePath {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(remotePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(remotePath), err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer src.Close()

	dst, err := os.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", remotePath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(remotePath)
		return fmt.Errorf("failed to copy %s: %w", localPath, err)
	}

	return nil
}

func (e *localExecutor) Close() error {
	return nil
}

package remote

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// dockerExecutor reaches a host that is backed by a named container, used for
// fleets brought up in containers during development and CI
type dockerExecutor struct {
	host      string
	container string
	client    *client.Client
}

// NewDockerExecutor creates an executor that runs commands inside the named
// container
func NewDockerExecutor(host, containerName string) (Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &dockerExecutor{host: host, container: containerName, client: cli}, nil
}

func (e *dockerExecutor) Execute(ctx context.Context, command string) (*ExecResult, error) {
	execConfig := container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	}
	execResp, err := e.client.ContainerExecCreate(ctx, e.container, execConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec in %s: %w", e.container, err)
	}

	resp, err := e.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{
		Tty: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec in %s: %w", e.container, err)
	}
	defer resp.Close()

	var outBuf, errBuf strings.Builder
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, resp.Reader); err != nil {
		return nil, fmt.Errorf("failed to read exec output from %s: %w", e.container, err)
	}

	inspectResp, err := e.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec in %s: %w", e.container, err)
	}

	return &ExecResult{
		Host:     e.host,
		OK:       true,
		ExitCode: inspectResp.ExitCode,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}, nil
}

func (e *dockerExecutor) Copy(ctx context.Context, localPath, remotePath string) error {
	srcInfo, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat source path: %w", err)
	}

	mkdir := fmt.Sprintf("mkdir -p %s", path.Dir(remotePath))
	if res, err := e.Execute(ctx, mkdir); err != nil {
		return err
	} else if res.ExitCode != 0 {
		return fmt.Errorf("failed to create %s in %s: %s", path.Dir(remotePath), e.container, res.Stderr)
	}

	header := &tar.Header{
		Name:    path.Base(remotePath),
		Size:    srcInfo.Size(),
		Mode:    int64(srcInfo.Mode()),
		ModTime: srcInfo.ModTime(),
	}

	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)
		file, err := os.Open(localPath)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		defer file.Close()

		if err := tw.WriteHeader(header); err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(tw, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := tw.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	return e.client.CopyToContainer(ctx, e.container, path.Dir(remotePath), pr, container.CopyToContainerOptions{
		AllowOverwriteDirWithFile: true,
	})
}

func (e *dockerExecutor) Close() error {
	return e.client.Close()
}

package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/probectl/probectl/config"
)

// sshExecutor reaches a host over SSH, reusing one client connection and
// copying files through SFTP
type sshExecutor struct {
	host    string
	address string
	cfg     config.SSHSettings

	mu     sync.Mutex
	client *ssh.Client
	closed bool
}

// NewSSHExecutor creates an executor that reaches host over SSH. address may
// override the dial target; the SSH port from cfg is appended when address
// carries no port.
func NewSSHExecutor(host, address string, cfg config.SSHSettings) Executor {
	if address == "" {
		address = host
	}
	if !strings.Contains(address, ":") {
		address = fmt.Sprintf("%s:%d", address, cfg.Port)
	}
	return &sshExecutor{host: host, address: address, cfg: cfg}
}

// getClient establishes or reuses the SSH client connection
func (e *sshExecutor) getClient() (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("executor for host %s is closed", e.host)
	}

	if e.client != nil {
		return e.client, nil
	}

	var auth []ssh.AuthMethod
	if e.cfg.KeyFile != "" {
		key, err := os.ReadFile(e.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key %s: %w", e.cfg.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key %s: %w", e.cfg.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if e.cfg.Password != "" {
		auth = append(auth, ssh.Password(e.cfg.Password))
	}

	clientCfg := &ssh.ClientConfig{
		User:            e.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         time.Duration(e.cfg.ConnectTimeoutSec) * time.Second,
	}

	client, err := ssh.Dial("tcp", e.address, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH %s: %w", e.address, err)
	}

	e.client = client
	return client, nil
}

func (e *sshExecutor) Execute(ctx context.Context, command string) (*ExecResult, error) {
	client, err := e.getClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		// A dead connection surfaces here; drop the cached client so the
		// next call redials.
		e.mu.Lock()
		e.client = nil
		e.mu.Unlock()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf strings.Builder
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return nil, fmt.Errorf("command timed out on %s: %w", e.host, ctx.Err())
	case err = <-done:
	}

	result := &ExecResult{
		Host:   e.host,
		OK:     true,
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if ok := asExitError(err, &exitErr); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("command failed on %s: %w", e.host, err)
	}

	return result, nil
}

func asExitError(err error, target **ssh.ExitError) bool {
	e, ok := err.(*ssh.ExitError)
	if ok {
		*target = e
	}
	return ok
}

func (e *sshExecutor) Copy(ctx context.Context, localPath, remotePath string) error {
	client, err := e.getClient()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	defer sftpClient.Close()

	remoteDir := path.Dir(remotePath)
	if err := sftpClient.MkdirAll(remoteDir); err != nil {
		if _, statErr := sftpClient.Stat(remoteDir); statErr != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", remoteDir, err)
		}
	}

	srcFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file %s: %w", localPath, err)
	}
	defer srcFile.Close()

	dstFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = sftpClient.Remove(remotePath)
		return fmt.Errorf("failed to copy content to %s: %w", e.host, err)
	}

	return nil
}

func (e *sshExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.client != nil {
		err := e.client.Close()
		e.client = nil
		if err != nil {
			return fmt.Errorf("failed to close SSH client: %w", err)
		}
	}
	return nil
}

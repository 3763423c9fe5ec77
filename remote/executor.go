// Package remote is the execution engine of the orchestrator: it dispatches
// commands and files to fleet hosts concurrently, one slot per distinct host,
// with commands for the same host serialized and every call bounded by a
// timeout.
package remote

import "context"

// FailReason classifies why a host could not execute a command
type FailReason string

const (
	// FailNone means the command reached the host and ran
	FailNone FailReason = ""

	// FailTimeout means the host did not respond within the timeout
	FailTimeout FailReason = "timeout"

	// FailUnreachable means the host could not be contacted at all
	FailUnreachable FailReason = "unreachable"
)

// ExecResult is the outcome of one command on one host
type ExecResult struct {
	// Host the command was destined for
	Host string

	// OK reports whether the command reached the host and completed.
	// A non-zero exit code still counts as OK; only transport failures
	// clear it.
	OK bool

	// Reason is set when OK is false
	Reason FailReason

	// ExitCode is the command's exit status when OK
	ExitCode int

	Stdout string
	Stderr string

	// Err carries the transport error when OK is false
	Err error
}

// Success reports whether the command ran and exited zero
func (r *ExecResult) Success() bool {
	return r != nil && r.OK && r.ExitCode == 0
}

// Executor runs commands and copies files on a single host
type Executor interface {
	// Execute runs a shell command on the host. A non-nil error means the
	// command never ran (transport failure); command failures are reported
	// through the result's exit code.
	Execute(ctx context.Context, command string) (*ExecResult, error)

	// Copy transfers a local file to the given path on the host, creating
	// parent directories as needed
	Copy(ctx context.Context, localPath, remotePath string) error

	// Close releases any resources held for the host
	Close() error
}

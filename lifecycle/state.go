package lifecycle

import (
	"strings"

	"github.com/probectl/probectl/remote"
	"github.com/probectl/probectl/spool"
)

// NodeState is the derived per-node process state. It is never stored: every
// query recomputes it from the pid file and the host's process table.
type NodeState string

const (
	// StateStopped means no pid file exists for the node
	StateStopped NodeState = "stopped"

	// StateRunning means the recorded pid is alive in the process table
	StateRunning NodeState = "running"

	// StateCrashed means a pid file exists but the process is gone
	StateCrashed NodeState = "crashed"

	// StateUnknown means the host could not be reached to determine state.
	// It is a distinct observation, never coerced to stopped or crashed.
	StateUnknown NodeState = "unknown"
)

// Observation is one status probe of one node
type Observation struct {
	State NodeState
	PID   int
}

// parseObservation interprets the output of the status probe script
func parseObservation(res *remote.ExecResult) Observation {
	if res == nil || !res.OK {
		return Observation{State: StateUnknown}
	}

	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return Observation{State: StateUnknown}
	}

	obs := Observation{}
	switch fields[0] {
	case "running":
		obs.State = StateRunning
	case "crashed":
		obs.State = StateCrashed
	case "stopped":
		obs.State = StateStopped
	default:
		obs.State = StateUnknown
	}

	if len(fields) > 1 {
		if pid, ok := spool.ParsePID(fields[1]); ok {
			obs.PID = pid
		}
	}
	return obs
}

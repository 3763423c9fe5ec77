package topology

import "fmt"

// NodeType identifies the role a node plays in the fleet
type NodeType string

const (
	// TypeManager is the single coordinating node of a cluster
	TypeManager NodeType = "manager"

	// TypeLogger receives and archives log streams for the cluster
	TypeLogger NodeType = "logger"

	// TypeProxy relays state between the manager and the workers
	TypeProxy NodeType = "proxy"

	// TypeWorker captures and analyzes traffic on its host
	TypeWorker NodeType = "worker"

	// TypeStandalone is a single-process installation with no cluster peers
	TypeStandalone NodeType = "standalone"
)

// Valid reports whether the type is one of the known roles
func (t NodeType) Valid() bool {
	switch t {
	case TypeManager, TypeLogger, TypeProxy, TypeWorker, TypeStandalone:
		return true
	}
	return false
}

// startRank returns the node's position in the start order. Lower ranks start
// first; stop order is the exact reverse. Nodes sharing a rank have no
// dependency on each other and may start concurrently.
func (t NodeType) startRank() int {
	switch t {
	case TypeLogger:
		return 0
	case TypeManager, TypeStandalone:
		return 1
	case TypeProxy:
		return 2
	default:
		return 3
	}
}

// Node is one configured sensor process instance
type Node struct {
	// Name uniquely identifies the node across the whole topology
	Name string

	// Type is the node's role
	Type NodeType

	// Host is the machine the node runs on
	Host string

	// Interface is the capture interface, set for workers
	Interface string

	// Port is the node's listening port, zero if unset
	Port int

	// PinCPUs lists CPU cores the node's process is pinned to
	PinCPUs []int

	// Env holds extra environment variables for the node's process
	Env map[string]string
}

// String implements fmt.Stringer
func (n *Node) String() string {
	return fmt.Sprintf("%s(%s@%s)", n.Name, n.Type, n.Host)
}

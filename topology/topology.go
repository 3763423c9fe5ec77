// Package topology models the static node layout of the fleet: node identity,
// roles, host placement, and the derived start/stop ordering used by every
// lifecycle operation.
package topology

import (
	"sort"

	"github.com/probectl/probectl/errors"
)

// Group keywords accepted by Resolve in place of concrete node names
const (
	GroupAll      = "all"
	GroupManager  = "manager"
	GroupLoggers  = "loggers"
	GroupProxies  = "proxies"
	GroupWorkers  = "workers"
)

// Topology is the immutable set of configured nodes for one invocation
type Topology struct {
	nodes  []*Node
	byName map[string]*Node
	order  map[string]int
}

// New builds and validates a topology from the configured node list. It
// enforces unique names and the exactly-one-manager (or exactly-one-standalone)
// invariant.
func New(nodes []*Node) (*Topology, error) {
	if len(nodes) == 0 {
		return nil, errors.New(errors.ErrConfig, "no nodes configured")
	}

	t := &Topology{
		nodes:  nodes,
		byName: make(map[string]*Node, len(nodes)),
		order:  make(map[string]int, len(nodes)),
	}

	var managers, standalones int
	for i, n := range nodes {
		if n.Name == "" {
			return nil, errors.New(errors.ErrConfig, "node with empty name")
		}
		if !n.Type.Valid() {
			return nil, errors.Newf(errors.ErrConfig, "node %s has unknown type %q", n.Name, n.Type)
		}
		if n.Host == "" {
			return nil, errors.Newf(errors.ErrConfig, "node %s has no host", n.Name)
		}
		if _, dup := t.byName[n.Name]; dup {
			return nil, errors.Newf(errors.ErrConfig, "duplicate node name %s", n.Name)
		}
		t.byName[n.Name] = n
		t.order[n.Name] = i

		switch n.Type {
		case TypeManager:
			managers++
		case TypeStandalone:
			standalones++
		}
	}

	switch {
	case standalones > 1:
		return nil, errors.New(errors.ErrConfig, "more than one standalone node")
	case standalones == 1 && len(nodes) > 1:
		return nil, errors.New(errors.ErrConfig, "standalone node cannot be mixed with cluster nodes")
	case standalones == 0 && managers != 1:
		return nil, errors.Newf(errors.ErrConfig, "cluster requires exactly one manager, found %d", managers)
	}

	return t, nil
}

// All returns every node in configuration order
func (t *Topology) All() []*Node {
	out := make([]*Node, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Manager returns the manager node, or the standalone node for a
// single-process installation
func (t *Topology) Manager() *Node {
	for _, n := range t.nodes {
		if n.Type == TypeManager || n.Type == TypeStandalone {
			return n
		}
	}
	return nil
}

// Lookup returns the node with the given name, or nil
func (t *Topology) Lookup(name string) *Node {
	return t.byName[name]
}

// Resolve expands a list of node names and group keywords into concrete
// nodes, deduplicated and in topology order. An empty list means all nodes.
// A group keyword expanding to zero nodes is not an error; a name matching
// no node is.
func (t *Topology) Resolve(names []string) ([]*Node, error) {
	if len(names) == 0 {
		return t.All(), nil
	}

	seen := make(map[string]bool)
	var out []*Node
	add := func(n *Node) {
		if !seen[n.Name] {
			seen[n.Name] = true
			out = append(out, n)
		}
	}

	for _, name := range names {
		switch name {
		case GroupAll:
			for _, n := range t.nodes {
				add(n)
			}
		case GroupManager:
			for _, n := range t.nodes {
				if n.Type == TypeManager || n.Type == TypeStandalone {
					add(n)
				}
			}
		case GroupLoggers, GroupProxies, GroupWorkers:
			want := map[string]NodeType{
				GroupLoggers: TypeLogger,
				GroupProxies: TypeProxy,
				GroupWorkers: TypeWorker,
			}[name]
			for _, n := range t.nodes {
				if n.Type == want {
					add(n)
				}
			}
		default:
			n := t.byName[name]
			if n == nil {
				return nil, errors.Newf(errors.ErrUnknownNode, "unknown node %q", name)
			}
			add(n)
		}
	}

	t.sortInPlace(out)
	return out, nil
}

// Sort returns the given nodes projected into topology order
func (t *Topology) Sort(nodes []*Node) []*Node {
	out := make([]*Node, len(nodes))
	copy(out, nodes)
	t.sortInPlace(out)
	return out
}

func (t *Topology) sortInPlace(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return t.order[nodes[i].Name] < t.order[nodes[j].Name]
	})
}

// StartOrder partitions nodes into dependency ranks: loggers, then the
// manager (or standalone), then proxies, then workers. Earlier ranks must be
// running before later ranks start; nodes within a rank are independent.
func (t *Topology) StartOrder(nodes []*Node) [][]*Node {
	ranks := make(map[int][]*Node)
	for _, n := range t.Sort(nodes) {
		r := n.Type.startRank()
		ranks[r] = append(ranks[r], n)
	}

	var out [][]*Node
	for r := 0; r <= 3; r++ {
		if len(ranks[r]) > 0 {
			out = append(out, ranks[r])
		}
	}
	return out
}

// StopOrder is the exact reverse of StartOrder
func (t *Topology) StopOrder(nodes []*Node) [][]*Node {
	start := t.StartOrder(nodes)
	out := make([][]*Node, 0, len(start))
	for i := len(start) - 1; i >= 0; i-- {
		out = append(out, start[i])
	}
	return out
}

// Hosts returns the distinct hosts the given nodes live on, in first-seen
// topology order. This set bounds executor parallelism for an operation.
func Hosts(nodes []*Node) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range nodes {
		if !seen[n.Host] {
			seen[n.Host] = true
			out = append(out, n.Host)
		}
	}
	return out
}

// GroupByHost buckets nodes by the host they run on
func GroupByHost(nodes []*Node) map[string][]*Node {
	out := make(map[string][]*Node)
	for _, n := range nodes {
		out[n.Host] = append(out[n.Host], n)
	}
	return out
}

// Package result provides the uniform per-node outcome container returned by
// every operation. Entries are filled as concurrent host work completes, but
// the exposed ordering is always topology order, never completion order.
package result

import (
	"sync"

	"github.com/probectl/probectl/topology"
)

// Entry is the outcome of one operation on one node
type Entry struct {
	Node    *topology.Node
	Success bool

	// State is the observed node state for status-like operations, empty
	// otherwise
	State string

	// Output is the human-relevant output or failure reason for the node
	Output string
}

// Result is an ordered collection of per-node entries plus one aggregate
// success flag. Safe for concurrent Set calls.
type Result struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*Entry
	failure string
}

// New creates a result whose ordering is fixed to the given nodes' topology
// order. Nodes without an entry at read time are simply absent from the
// projection.
func New(nodes []*topology.Node) *Result {
	r := &Result{
		order:   make([]string, 0, len(nodes)),
		entries: make(map[string]*Entry, len(nodes)),
	}
	for _, n := range nodes {
		r.order = append(r.order, n.Name)
	}
	return r
}

// Set records the outcome for a node
func (r *Result) Set(node *topology.Node, success bool, output string) {
	r.SetState(node, success, "", output)
}

// SetState records the outcome for a node together with its observed state
func (r *Result) SetState(node *topology.Node, success bool, state, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, known := r.entries[node.Name]; !known {
		if !contains(r.order, node.Name) {
			r.order = append(r.order, node.Name)
		}
	}
	r.entries[node.Name] = &Entry{
		Node:    node,
		Success: success,
		State:   state,
		Output:  output,
	}
}

// Fail marks the whole result as failed independent of per-node entries,
// used for hook failures and aborted operations
func (r *Result) Fail(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failure = reason
}

// OK is the aggregate success flag: the logical AND over all entries, and
// false when the result was marked failed
func (r *Result) OK() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failure != "" {
		return false
	}
	for _, e := range r.entries {
		if !e.Success {
			return false
		}
	}
	return true
}

// FailureReason returns the aggregate failure reason, if any
func (r *Result) FailureReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// NodeData returns every entry in topology order
func (r *Result) NodeData() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, name := range r.order {
		if e, ok := r.entries[name]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// NodeOutput returns the recorded output for a node
func (r *Result) NodeOutput(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return "", false
	}
	return e.Output, true
}

// Len returns the number of recorded entries
func (r *Result) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

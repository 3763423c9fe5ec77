// Package plugin provides the extension points of the orchestrator: custom
// top-level commands, resolved only when no built-in operation matches, and
// hooks running immediately before or after a named built-in operation.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/probectl/probectl/logging"
)

// CommandSpec describes a plugin-contributed command
type CommandSpec struct {
	Name        string
	ArgSpec     string
	Description string
}

// CommandHandler executes a plugin-contributed command
type CommandHandler func(ctx context.Context, args []string, log logging.Logger) error

// HookWhen selects whether a hook runs before or after its operation
type HookWhen int

const (
	// Before runs ahead of the operation; its failure aborts the
	// operation's success flag
	Before HookWhen = iota

	// After runs once the operation's host work completed
	After
)

// Hook runs around a built-in operation
type Hook func(ctx context.Context, op string, nodes []string) error

type command struct {
	spec    CommandSpec
	handler CommandHandler
}

type hookKey struct {
	op   string
	when HookWhen
}

// Registry holds registered commands and hooks. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]command
	names    []string
	hooks    map[hookKey][]Hook
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]command),
		hooks:    make(map[hookKey][]Hook),
	}
}

// RegisterCommand adds a custom command. Registering a duplicate name is an
// error; shadowing built-ins is resolved in the caller's favor because
// custom commands are only consulted when no built-in matches.
func (r *Registry) RegisterCommand(spec CommandSpec, handler CommandHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.commands[spec.Name]; dup {
		return fmt.Errorf("custom command %q already registered", spec.Name)
	}
	r.commands[spec.Name] = command{spec: spec, handler: handler}
	r.names = append(r.names, spec.Name)
	return nil
}

// RegisterHook adds a hook around the named built-in operation. Hooks run in
// registration order.
func (r *Registry) RegisterHook(op string, when HookWhen, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := hookKey{op: op, when: when}
	r.hooks[key] = append(r.hooks[key], h)
}

// RunCustomCommand executes the named custom command if one is registered.
// The first return value reports whether the name was handled at all.
func (r *Registry) RunCustomCommand(ctx context.Context, name string, args []string, log logging.Logger) (bool, error) {
	r.mu.RLock()
	c, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return true, c.handler(ctx, args, log)
}

// Commands lists every registered command in registration order
func (r *Registry) Commands() []CommandSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CommandSpec, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.commands[name].spec)
	}
	return out
}

// RunHooks runs every hook registered for the operation and phase, in
// registration order. All hooks run; the first error is returned.
func (r *Registry) RunHooks(ctx context.Context, op string, when HookWhen, nodes []string) error {
	r.mu.RLock()
	hooks := r.hooks[hookKey{op: op, when: when}]
	r.mu.RUnlock()

	var firstErr error
	for _, h := range hooks {
		if err := h(ctx, op, nodes); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ToolRegistry maps tool names to executable tools.
type ToolRegistry interface {
	// Lookup returns the tool registered under name.
	Lookup(name string) (Tool, bool)

	// Declarations returns the declarations of all registered tools in
	// registration order.
	Declarations() []ToolDeclaration
}

// Registry is the default [ToolRegistry]. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry holding the given tools. It fails if a name
// is empty or registered twice, or if a tool's schema does not compile.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool whose name is not yet in use.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return errors.New("tool is nil")
	}
	name := strings.TrimSpace(t.Declaration().Name)
	if name == "" {
		return errors.New("tool name is empty")
	}
	if c, ok := t.(interface{ CheckSchema() error }); ok {
		if err := c.CheckSchema(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Declarations() []ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decls := make([]ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.tools[name].Declaration())
	}
	return decls
}

// extendedRegistry layers run-scoped tools (from a [ContextProvider]) over a
// base registry. Base tools win on name conflicts.
type extendedRegistry struct {
	base  ToolRegistry
	extra map[string]Tool
	decls []ToolDeclaration
}

func extendRegistry(base ToolRegistry, extra []Tool) ToolRegistry {
	if len(extra) == 0 {
		return base
	}
	r := &extendedRegistry{base: base, extra: make(map[string]Tool, len(extra))}
	r.decls = base.Declarations()
	for _, t := range extra {
		d := t.Declaration()
		if _, ok := base.Lookup(d.Name); ok {
			continue
		}
		if _, ok := r.extra[d.Name]; ok {
			continue
		}
		r.extra[d.Name] = t
		r.decls = append(r.decls, d)
	}
	return r
}

func (r *extendedRegistry) Lookup(name string) (Tool, bool) {
	if t, ok := r.base.Lookup(name); ok {
		return t, true
	}
	t, ok := r.extra[name]
	return t, ok
}

func (r *extendedRegistry) Declarations() []ToolDeclaration { return r.decls }

// Copyright (c) Microsoft. All rights reserved.

package toolloop

import "context"

// ContextProvider injects dynamic context into each run. Implementations
// can supply additional instructions or tools based on runtime state
// (retrieval, memory lookup).
type ContextProvider interface {
	// Invoking is called once per run before the first model call. The
	// returned instructions are appended to the system instructions and
	// the tools are added to the registry for this run only.
	Invoking(ctx context.Context, sessionID string, history []Turn) (*InvocationContext, error)

	// Invoked is called when the run returns a result.
	Invoked(ctx context.Context, sessionID string, result *Result) error
}

// InvocationContext holds the dynamic context returned by a [ContextProvider].
type InvocationContext struct {
	// Instructions to append to the system instructions.
	Instructions string

	// Tools to add to the available tool set. Registry tools win on name
	// conflicts.
	Tools []Tool
}

// NoOpContextProvider is a [ContextProvider] that does nothing.
// Embed it to provide default implementations for unused hooks.
type NoOpContextProvider struct{}

func (NoOpContextProvider) Invoking(_ context.Context, _ string, _ []Turn) (*InvocationContext, error) {
	return &InvocationContext{}, nil
}

func (NoOpContextProvider) Invoked(_ context.Context, _ string, _ *Result) error {
	return nil
}

// Copyright (c) Microsoft. All rights reserved.

package toolloop

import "context"

// ModelEndpoint is the interface for language-model backends. Provider
// packages (openai, gemini, scripted) implement it.
//
// Implementations return errors wrapping [ErrEndpointUnavailable] for
// transport and service failures and [ErrInvalidRequest] for rejected
// requests.
type ModelEndpoint interface {
	Invoke(ctx context.Context, history []Turn, tools []ToolDeclaration, cfg *GenerationConfig) (*ModelResponse, error)
}

// EndpointFunc adapts a function to [ModelEndpoint].
type EndpointFunc func(ctx context.Context, history []Turn, tools []ToolDeclaration, cfg *GenerationConfig) (*ModelResponse, error)

func (f EndpointFunc) Invoke(ctx context.Context, history []Turn, tools []ToolDeclaration, cfg *GenerationConfig) (*ModelResponse, error) {
	return f(ctx, history, tools, cfg)
}

// ResponseKind tags a [ModelResponse] as a final answer or a set of tool
// requests.
type ResponseKind string

const (
	ResponseFinal        ResponseKind = "final"
	ResponseToolRequests ResponseKind = "toolRequests"
)

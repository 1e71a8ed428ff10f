// Copyright (c) Microsoft. All rights reserved.

package toolloop

import "context"

// EndpointMiddleware wraps a model endpoint call to add cross-cutting
// behavior. Middleware should call next to continue the chain, or return
// early to short-circuit.
type EndpointMiddleware func(next EndpointFunc) EndpointFunc

// ToolHandler is the function signature for invoking a tool.
type ToolHandler func(ctx context.Context, tool Tool, req *ToolRequestPart) (any, error)

// ToolMiddleware wraps a [ToolHandler] to add cross-cutting behavior.
type ToolMiddleware func(next ToolHandler) ToolHandler

// chainEndpointMiddleware applies middleware in order (first in list = outermost wrapper).
func chainEndpointMiddleware(handler EndpointFunc, mws ...EndpointMiddleware) EndpointFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i](handler)
	}
	return handler
}

// chainToolMiddleware applies middleware in order.
func chainToolMiddleware(handler ToolHandler, mws ...ToolMiddleware) ToolHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i](handler)
	}
	return handler
}

func invokeTool(ctx context.Context, tool Tool, req *ToolRequestPart) (any, error) {
	return tool.Invoke(ctx, req.Input)
}

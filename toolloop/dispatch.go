// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// dispatch invokes every request of one model turn concurrently and returns
// the results in request order. Tool failures become error results; only
// structural violations and cancellation are returned as errors.
func (r *run) dispatch(ctx context.Context, tools ToolRegistry, reqs []*ToolRequestPart) ([]*ToolResultPart, error) {
	if r.o.cfg.UnknownToolPolicy == UnknownToolFail {
		for _, req := range reqs {
			if _, ok := tools.Lookup(req.Name); !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownTool, req.Name)
			}
		}
	}

	marker := &runMarker{sessionID: r.session.ID()}
	toolCtx := context.WithValue(ctx, runKey{}, marker)

	results := make([]*ToolResultPart, len(reqs))
	var g errgroup.Group
	if n := r.o.cfg.MaxConcurrentTools; n > 0 {
		g.SetLimit(n)
	}
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = r.invokeOne(toolCtx, tools, req)
			return nil
		})
	}
	// Tool errors are folded into results, so the group never fails.
	_ = g.Wait()

	if marker.nested.Load() {
		return nil, fmt.Errorf("%w: a tool handler started a run", ErrNestedToolCall)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *run) invokeOne(ctx context.Context, tools ToolRegistry, req *ToolRequestPart) (res *ToolResultPart) {
	defer func() { r.o.cfg.Metrics.recordTool(req.Name, res) }()

	tool, ok := tools.Lookup(req.Name)
	if !ok {
		r.logger.WarnContext(ctx, "unknown tool called", "tool", req.Name, "ref", req.Ref)
		return NewToolFailure(req, FailureUnknownTool, fmt.Sprintf("tool %q is not registered", req.Name))
	}

	out, err := r.safeInvoke(ctx, tool, req)
	if err == nil {
		return NewToolResult(req, out)
	}

	r.logger.WarnContext(ctx, "tool invocation error", "tool", req.Name, "ref", req.Ref, "error", err)
	if errors.Is(err, ErrToolInput) {
		return NewToolFailure(req, FailureInvalidInput, err.Error())
	}
	msg := "error invoking tool"
	if r.o.cfg.IncludeDetailedErrors {
		msg = err.Error()
	}
	return NewToolFailure(req, FailureExecution, msg)
}

// safeInvoke runs the tool through the middleware chain, converting a
// handler panic into a tool error.
func (r *run) safeInvoke(ctx context.Context, tool Tool, req *ToolRequestPart) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ToolError{ToolName: req.Name, Message: fmt.Sprintf("panic: %v", p), Err: ErrToolExecution}
		}
	}()
	return r.o.invoke(ctx, tool, req)
}

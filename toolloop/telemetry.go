// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"context"
	"log/slog"
	"time"
)

// LoggingMiddleware returns an [EndpointMiddleware] that logs model calls using slog.
func LoggingMiddleware(logger *slog.Logger) EndpointMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next EndpointFunc) EndpointFunc {
		return func(ctx context.Context, history []Turn, tools []ToolDeclaration, cfg *GenerationConfig) (*ModelResponse, error) {
			start := time.Now()
			logger.DebugContext(ctx, "model call started",
				"history_turns", len(history),
				"tools", len(tools),
			)

			resp, err := next(ctx, history, tools, cfg)

			duration := time.Since(start)
			if err != nil {
				logger.ErrorContext(ctx, "model call failed",
					"duration", duration,
					"error", err,
				)
				return nil, err
			}

			logger.InfoContext(ctx, "model call completed",
				"duration", duration,
				"kind", resp.Kind(),
				"tool_requests", len(resp.Requests()),
				"input_tokens", resp.Usage.InputTokens,
				"output_tokens", resp.Usage.OutputTokens,
			)
			return resp, nil
		}
	}
}

// ToolLoggingMiddleware returns a [ToolMiddleware] that logs tool invocations.
func ToolLoggingMiddleware(logger *slog.Logger) ToolMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next ToolHandler) ToolHandler {
		return func(ctx context.Context, tool Tool, req *ToolRequestPart) (any, error) {
			start := time.Now()
			out, err := next(ctx, tool, req)
			attrs := []any{
				"tool", req.Name,
				"ref", req.Ref,
				"duration", time.Since(start),
			}
			if err != nil {
				logger.WarnContext(ctx, "tool invocation failed", append(attrs, "error", err)...)
				return nil, err
			}
			logger.DebugContext(ctx, "tool invocation completed", attrs...)
			return out, nil
		}
	}
}

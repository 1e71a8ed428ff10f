// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrOrchestration is the base error for fatal run failures.
	ErrOrchestration = errors.New("orchestration error")

	// ErrInitialization indicates an orchestrator configuration failure.
	ErrInitialization = fmt.Errorf("%w: initialization", ErrOrchestration)

	// ErrMalformedSession indicates session state that violates the run contract.
	ErrMalformedSession = fmt.Errorf("%w: malformed session", ErrOrchestration)

	// ErrSessionNotFound is returned by a [SessionStore] for an unknown id.
	ErrSessionNotFound = fmt.Errorf("%w: session not found", ErrOrchestration)

	// ErrSessionBusy is returned when a second Run is issued on a session
	// whose previous Run has not returned.
	ErrSessionBusy = fmt.Errorf("%w: session busy", ErrOrchestration)

	// ErrInvalidPrompt indicates a prompt that cannot be applied to the session.
	ErrInvalidPrompt = fmt.Errorf("%w: invalid prompt", ErrOrchestration)

	// ErrMalformedReferenceID indicates a tool result that cannot be paired
	// with exactly one outstanding tool request.
	ErrMalformedReferenceID = fmt.Errorf("%w: malformed reference id", ErrOrchestration)

	// ErrDuplicateReferenceID indicates two tool requests in one model turn
	// sharing a reference id.
	ErrDuplicateReferenceID = fmt.Errorf("%w: duplicate", ErrMalformedReferenceID)

	// ErrNestedToolCall is returned when a tool handler starts a run of its own.
	ErrNestedToolCall = fmt.Errorf("%w: nested tool call", ErrOrchestration)

	// ErrUnknownTool indicates a request for a tool absent from the registry.
	// It is only fatal under [UnknownToolFail].
	ErrUnknownTool = fmt.Errorf("%w: unknown tool", ErrOrchestration)

	// ErrCancelled indicates the caller cancelled the run.
	ErrCancelled = fmt.Errorf("%w: cancelled", ErrOrchestration)

	// ErrEndpoint is the base error for model endpoint failures.
	ErrEndpoint = errors.New("endpoint error")

	// ErrEndpointUnavailable indicates a transport or service failure.
	ErrEndpointUnavailable = fmt.Errorf("%w: unavailable", ErrEndpoint)

	// ErrInvalidRequest indicates the endpoint rejected the request.
	ErrInvalidRequest = fmt.Errorf("%w: invalid request", ErrEndpoint)

	// ErrAuth indicates an authentication or authorization failure.
	ErrAuth = fmt.Errorf("%w: authentication", ErrInvalidRequest)

	// ErrContentFilter indicates the request was rejected by a content filter.
	ErrContentFilter = fmt.Errorf("%w: content filter", ErrInvalidRequest)

	// ErrTool is the base error for tool failures.
	ErrTool = errors.New("tool error")

	// ErrToolExecution indicates a failure inside a tool handler.
	ErrToolExecution = fmt.Errorf("%w: execution", ErrTool)

	// ErrToolInput indicates tool input that does not match the declared schema.
	ErrToolInput = fmt.Errorf("%w: invalid input", ErrTool)
)

// OrchestrationError is returned by Run for fatal failures. It carries the
// state of the session at the point of failure for retry or escalation.
type OrchestrationError struct {
	Op        string
	SessionID string
	TurnCount int
	History   []Turn
	Err       error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("%s (session %s, turn %d): %v", e.Op, e.SessionID, e.TurnCount, e.Err)
}

func (e *OrchestrationError) Unwrap() error { return e.Err }

// ServiceError provides rich context for model endpoint failures.
// Use errors.As to extract it from a wrapped error chain.
type ServiceError struct {
	StatusCode int
	Message    string
	Code       string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("service error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("service error %d: %s", e.StatusCode, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ToolError provides context for tool invocation failures.
type ToolError struct {
	ToolName string
	Message  string
	Err      error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %q: %s", e.ToolName, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// classifyEndpointError ensures err belongs to the ErrEndpoint tree.
func classifyEndpointError(err error) error {
	if errors.Is(err, ErrEndpoint) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEndpointUnavailable, err)
}

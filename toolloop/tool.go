// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolDeclaration describes a tool to the model. It is registered once and
// does not change for the lifetime of a conversation.
type ToolDeclaration struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// Tool is a named function the model can invoke through the orchestrator.
type Tool interface {
	// Declaration returns the name, guidance and schemas exposed to the model.
	Declaration() ToolDeclaration

	// Invoke runs the tool with the given JSON input.
	Invoke(ctx context.Context, input json.RawMessage) (any, error)
}

// FunctionTool is a concrete [Tool] backed by a Go function. When the
// declaration carries an input schema, input is validated against it before
// the function runs.
type FunctionTool struct {
	decl      ToolDeclaration
	fn        func(ctx context.Context, input json.RawMessage) (any, error)
	validate  bool
	schema    *jsonschema.Schema
	schemaErr error
}

// ToolOption configures a [FunctionTool].
type ToolOption func(*FunctionTool)

// WithOutputSchema sets the declared output schema.
func WithOutputSchema(schema json.RawMessage) ToolOption {
	return func(t *FunctionTool) { t.decl.OutputSchema = schema }
}

// WithoutInputValidation disables input validation against the input schema.
func WithoutInputValidation() ToolOption {
	return func(t *FunctionTool) { t.validate = false }
}

// NewTool creates a [FunctionTool] with a raw JSON input schema and handler.
func NewTool(name, description string, inputSchema json.RawMessage, fn func(ctx context.Context, input json.RawMessage) (any, error), opts ...ToolOption) *FunctionTool {
	t := &FunctionTool{
		decl: ToolDeclaration{
			Name:        name,
			Description: description,
			InputSchema: inputSchema,
		},
		fn:       fn,
		validate: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.validate && len(t.decl.InputSchema) > 0 {
		t.schema, t.schemaErr = compileSchema(name, t.decl.InputSchema)
	}
	return t
}

// NewTypedTool creates a [FunctionTool] whose input and output schemas are
// reflected from the In and Out type parameters. Input is decoded from JSON
// into In before fn runs.
//
// Use `json` tags for field names and `jsonschema` tags for metadata:
//
//	type WeatherInput struct {
//	    Location string `json:"location" jsonschema:"required,description=City name"`
//	    Unit     string `json:"unit,omitempty" jsonschema:"enum=celsius,enum=fahrenheit"`
//	}
func NewTypedTool[In, Out any](name, description string, fn func(ctx context.Context, input In) (Out, error), opts ...ToolOption) *FunctionTool {
	wrapped := func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in In
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, &ToolError{
					ToolName: name,
					Message:  "invalid input: " + err.Error(),
					Err:      ErrToolInput,
				}
			}
		}
		return fn(ctx, in)
	}
	opts = append([]ToolOption{WithOutputSchema(GenerateSchema[Out]())}, opts...)
	return NewTool(name, description, GenerateSchema[In](), wrapped, opts...)
}

// Declaration returns the tool's declaration.
func (t *FunctionTool) Declaration() ToolDeclaration { return t.decl }

// CheckSchema reports whether the declared input schema compiled.
func (t *FunctionTool) CheckSchema() error {
	if t.schemaErr != nil {
		return fmt.Errorf("tool %q input schema: %w", t.decl.Name, t.schemaErr)
	}
	return nil
}

// Invoke validates input and calls the tool's backing function.
func (t *FunctionTool) Invoke(ctx context.Context, input json.RawMessage) (any, error) {
	if t.fn == nil {
		return nil, &ToolError{
			ToolName: t.decl.Name,
			Message:  "tool has no handler",
			Err:      ErrToolExecution,
		}
	}
	if t.schemaErr != nil {
		return nil, &ToolError{ToolName: t.decl.Name, Message: t.schemaErr.Error(), Err: ErrToolInput}
	}
	if t.schema != nil {
		if err := validateInput(t.schema, input); err != nil {
			return nil, &ToolError{ToolName: t.decl.Name, Message: err.Error(), Err: ErrToolInput}
		}
	}
	return t.fn(ctx, input)
}

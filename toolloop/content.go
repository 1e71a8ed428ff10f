// Copyright (c) Microsoft. All rights reserved.

package toolloop

import "encoding/json"

// PartType identifies the kind of content within a turn.
type PartType string

const (
	PartTypeText        PartType = "text"
	PartTypeMedia       PartType = "media"
	PartTypeToolRequest PartType = "toolRequest"
	PartTypeToolResult  PartType = "toolResult"
)

// Part is a sealed interface representing a piece of content within a [Turn].
// Use a type switch to inspect the underlying type.
type Part interface {
	// Type returns the discriminator for this part.
	Type() PartType

	sealed()
}

// Parts is an ordered sequence of [Part] values.
type Parts []Part

type base struct{}

func (base) sealed() {}

// TextPart holds plain text.
type TextPart struct {
	base
	Text string
}

func (p *TextPart) Type() PartType { return PartTypeText }

// MediaPart references media input: an external URI or a data URI
// (data:image/png;base64,...).
type MediaPart struct {
	base
	URI       string
	MediaType string
}

func (p *MediaPart) Type() PartType { return PartTypeMedia }

// ToolRequestPart is a request from the model to run a registered tool.
// Ref is the correlation token echoed back in the matching [ToolResultPart].
type ToolRequestPart struct {
	base
	Name  string
	Input json.RawMessage
	Ref   string
}

func (p *ToolRequestPart) Type() PartType { return PartTypeToolRequest }

// ToolResultPart carries the outcome of a tool request. Exactly one of
// Output and Error is meaningful: a non-nil Error marks a failed invocation.
type ToolResultPart struct {
	base
	Name   string
	Ref    string
	Output any
	Error  *ToolFailure
}

func (p *ToolResultPart) Type() PartType { return PartTypeToolResult }

// Failed reports whether the result carries an error payload.
func (p *ToolResultPart) Failed() bool { return p.Error != nil }

// ToolFailure is the error payload of a failed tool invocation as shown to
// the model.
type ToolFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Failure codes used in [ToolFailure.Code].
const (
	FailureUnknownTool  = "unknown_tool"
	FailureInvalidInput = "invalid_input"
	FailureExecution    = "execution_error"
)

// NewToolResult builds a successful result for req.
func NewToolResult(req *ToolRequestPart, output any) *ToolResultPart {
	return &ToolResultPart{Name: req.Name, Ref: req.Ref, Output: output}
}

// NewToolFailure builds an error-carrying result for req.
func NewToolFailure(req *ToolRequestPart, code, message string) *ToolResultPart {
	return &ToolResultPart{
		Name:  req.Name,
		Ref:   req.Ref,
		Error: &ToolFailure{Code: code, Message: message},
	}
}

// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a [Turn].
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleTool   Role = "tool"
)

// Valid reports whether r is one of the four conversation roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleModel, RoleTool:
		return true
	}
	return false
}

// FinishReason indicates why the model stopped generating.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
)

// Turn is one role-tagged exchange unit in a conversation. Turns are
// immutable once appended to a [Session]; the orchestrator only appends.
type Turn struct {
	Role  Role  `json:"role"`
	Parts Parts `json:"parts,omitempty"`
}

// Text returns the concatenated text of all [TextPart] items in this turn.
func (t *Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		if tp, ok := p.(*TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// ToolRequests returns the tool invocation requests carried by this turn,
// in the order the model produced them.
func (t *Turn) ToolRequests() []*ToolRequestPart {
	var reqs []*ToolRequestPart
	for _, p := range t.Parts {
		if r, ok := p.(*ToolRequestPart); ok {
			reqs = append(reqs, r)
		}
	}
	return reqs
}

// ToolResults returns the tool invocation results carried by this turn.
func (t *Turn) ToolResults() []*ToolResultPart {
	var res []*ToolResultPart
	for _, p := range t.Parts {
		if r, ok := p.(*ToolResultPart); ok {
			res = append(res, r)
		}
	}
	return res
}

// clone returns a deep copy of t. Tool outputs are shared; every other
// field is copied.
func (t Turn) clone() Turn {
	parts := make(Parts, len(t.Parts))
	for i, p := range t.Parts {
		parts[i] = clonePart(p)
	}
	t.Parts = parts
	return t
}

func clonePart(p Part) Part {
	switch v := p.(type) {
	case *TextPart:
		cp := *v
		return &cp
	case *MediaPart:
		cp := *v
		return &cp
	case *ToolRequestPart:
		return v.clone()
	case *ToolResultPart:
		cp := *v
		if v.Error != nil {
			failure := *v.Error
			cp.Error = &failure
		}
		return &cp
	}
	return p
}

func (p *ToolRequestPart) clone() *ToolRequestPart {
	cp := *p
	if p.Input != nil {
		cp.Input = append(json.RawMessage(nil), p.Input...)
	}
	return &cp
}

// checkToolPairing verifies that every tool turn answers the requests of
// the model turn directly before it, one result per request.
func checkToolPairing(turns []Turn) error {
	for i := range turns {
		if turns[i].Role != RoleTool {
			continue
		}
		var open []*ToolRequestPart
		if i > 0 && turns[i-1].Role == RoleModel {
			open = turns[i-1].ToolRequests()
		}
		if len(open) == 0 {
			return fmt.Errorf("%w: tool turn %d follows no tool requests", ErrMalformedReferenceID, i)
		}
		if _, err := matchResults(open, turns[i].ToolResults()); err != nil {
			return fmt.Errorf("turn %d: %w", i, err)
		}
	}
	return nil
}

func (t *Turn) validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("%w: invalid role %q", ErrMalformedSession, t.Role)
	}
	for _, p := range t.Parts {
		if p == nil {
			return fmt.Errorf("%w: nil part in %s turn", ErrMalformedSession, t.Role)
		}
	}
	return nil
}

// NewUserTurn creates a user-role [Turn] from a text string.
func NewUserTurn(text string) Turn {
	return Turn{Role: RoleUser, Parts: Parts{&TextPart{Text: text}}}
}

// NewModelTurn creates a model-role [Turn] from a text string.
func NewModelTurn(text string) Turn {
	return Turn{Role: RoleModel, Parts: Parts{&TextPart{Text: text}}}
}

// NewSystemTurn creates a system-role [Turn] from a text string.
func NewSystemTurn(text string) Turn {
	return Turn{Role: RoleSystem, Parts: Parts{&TextPart{Text: text}}}
}

// NewToolRequestTurn creates a model-role [Turn] carrying tool requests.
func NewToolRequestTurn(reqs ...*ToolRequestPart) Turn {
	parts := make(Parts, 0, len(reqs))
	for _, r := range reqs {
		parts = append(parts, r)
	}
	return Turn{Role: RoleModel, Parts: parts}
}

// NewToolTurn creates a tool-role [Turn] carrying the given results in order.
func NewToolTurn(results ...*ToolResultPart) Turn {
	parts := make(Parts, 0, len(results))
	for _, r := range results {
		parts = append(parts, r)
	}
	return Turn{Role: RoleTool, Parts: parts}
}

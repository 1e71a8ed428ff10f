// Copyright (c) Microsoft. All rights reserved.

package toolloop

import "fmt"

type promptKind int

const (
	promptParts promptKind = iota
	promptHistory
	promptResume
)

// Prompt is the input of one [Orchestrator.Run]. Build it with
// [TextPrompt], [PartsPrompt], [HistoryPrompt] or [ResumePrompt].
type Prompt struct {
	kind    promptKind
	parts   Parts
	history []Turn
	results []*ToolResultPart
}

// TextPrompt appends a user turn holding text.
func TextPrompt(text string) Prompt {
	return Prompt{kind: promptParts, parts: Parts{&TextPart{Text: text}}}
}

// PartsPrompt appends a user turn holding structured or multimodal content.
func PartsPrompt(parts ...Part) Prompt {
	return Prompt{kind: promptParts, parts: parts}
}

// HistoryPrompt appends existing turns and continues the conversation
// from them. With no turns it continues the session as it stands.
func HistoryPrompt(turns ...Turn) Prompt {
	return Prompt{kind: promptHistory, history: turns}
}

// ResumePrompt resolves the pending tool requests of a suspended or
// truncated session. There must be exactly one result per pending request.
func ResumePrompt(results ...*ToolResultPart) Prompt {
	return Prompt{kind: promptResume, results: results}
}

// turns converts the prompt into the turns to append, checking it against
// the requests still pending in the session.
func (p Prompt) turns(pending []*ToolRequestPart) ([]Turn, error) {
	if p.kind != promptResume && len(pending) > 0 {
		return nil, fmt.Errorf("%w: session has %d pending tool requests; resume with tool results", ErrInvalidPrompt, len(pending))
	}

	switch p.kind {
	case promptParts:
		if len(p.parts) == 0 {
			return nil, fmt.Errorf("%w: empty prompt", ErrInvalidPrompt)
		}
		for _, part := range p.parts {
			switch v := part.(type) {
			case nil:
				return nil, fmt.Errorf("%w: nil part", ErrInvalidPrompt)
			case *TextPart, *MediaPart:
			default:
				return nil, fmt.Errorf("%w: %s part not allowed in a user prompt", ErrInvalidPrompt, v.Type())
			}
		}
		return []Turn{{Role: RoleUser, Parts: p.parts}}, nil

	case promptHistory:
		for i := range p.history {
			if err := p.history[i].validate(); err != nil {
				return nil, fmt.Errorf("prompt history[%d]: %w", i, err)
			}
		}
		if n := len(p.history); n > 0 && p.history[n-1].Role == RoleModel && len(p.history[n-1].ToolRequests()) > 0 {
			return nil, fmt.Errorf("%w: history ends with unresolved tool requests", ErrInvalidPrompt)
		}
		return p.history, nil

	case promptResume:
		if len(pending) == 0 {
			return nil, fmt.Errorf("%w: no pending tool requests to resume", ErrInvalidPrompt)
		}
		ordered, err := matchResults(pending, p.results)
		if err != nil {
			return nil, err
		}
		return []Turn{NewToolTurn(ordered...)}, nil
	}
	return nil, fmt.Errorf("%w: unknown prompt kind", ErrInvalidPrompt)
}

// matchResults pairs every result with exactly one pending request and
// returns the results in request order.
func matchResults(pending []*ToolRequestPart, results []*ToolResultPart) ([]*ToolResultPart, error) {
	byRef := make(map[string]*ToolResultPart, len(results))
	for _, r := range results {
		if r == nil {
			return nil, fmt.Errorf("%w: nil tool result", ErrMalformedReferenceID)
		}
		if _, dup := byRef[r.Ref]; dup {
			return nil, fmt.Errorf("%w: result %q supplied twice", ErrMalformedReferenceID, r.Ref)
		}
		byRef[r.Ref] = r
	}

	ordered := make([]*ToolResultPart, 0, len(pending))
	for _, req := range pending {
		r, ok := byRef[req.Ref]
		if !ok {
			return nil, fmt.Errorf("%w: no result for request %q (%s)", ErrMalformedReferenceID, req.Ref, req.Name)
		}
		delete(byRef, req.Ref)
		cp := *r
		if cp.Name == "" {
			cp.Name = req.Name
		}
		ordered = append(ordered, &cp)
	}
	for ref := range byRef {
		return nil, fmt.Errorf("%w: result %q matches no pending request", ErrMalformedReferenceID, ref)
	}
	return ordered, nil
}

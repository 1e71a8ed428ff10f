// Copyright (c) Microsoft. All rights reserved.

package openai

import (
	"encoding/json"
	"fmt"

	"github.com/jggomez/toolloop/toolloop"
)

// chatRequest is the OpenAI Chat Completions API request body.
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    *float64      `json:"temperature,omitempty"`
	TopP           *float64      `json:"top_p,omitempty"`
	MaxTokens      *int          `json:"max_completion_tokens,omitempty"`
	Stop           []string      `json:"stop,omitempty"`
	Seed           *int          `json:"seed,omitempty"`
	Tools          []toolSpec    `json:"tools,omitempty"`
	ToolChoice     any           `json:"tool_choice,omitempty"`
	User           string        `json:"user,omitempty"`
	ResponseFormat any           `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content,omitempty"` // string or []contentPart
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolSpec struct {
	Type     string       `json:"type"`
	Function functionSpec `json:"function"`
}

type functionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// buildRequest converts history and tool declarations into an OpenAI API
// request. Extra may carry "tool_choice" and "user".
func buildRequest(history []toolloop.Turn, tools []toolloop.ToolDeclaration, cfg *toolloop.GenerationConfig, defaultModel string) (*chatRequest, error) {
	if cfg == nil {
		cfg = &toolloop.GenerationConfig{}
	}
	req := &chatRequest{
		Model:       defaultModel,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxOutputTokens,
		Stop:        cfg.Stop,
		Seed:        cfg.Seed,
	}
	if cfg.ModelID != "" {
		req.Model = cfg.ModelID
	}
	if len(cfg.ResponseSchema) > 0 {
		req.ResponseFormat = responseFormat{
			Type:       "json_schema",
			JSONSchema: jsonSchema{Name: "response", Schema: cfg.ResponseSchema},
		}
	}
	if v, ok := cfg.Extra["tool_choice"]; ok {
		req.ToolChoice = v
	}
	if v, ok := cfg.Extra["user"].(string); ok {
		req.User = v
	}

	for _, t := range tools {
		req.Tools = append(req.Tools, toolSpec{
			Type: "function",
			Function: functionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	if cfg.Instructions != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: cfg.Instructions})
	}
	msgs, err := convertTurns(history)
	if err != nil {
		return nil, err
	}
	req.Messages = append(req.Messages, msgs...)
	return req, nil
}

// convertTurns translates turns into OpenAI chat messages. A tool turn
// expands into one message per result.
func convertTurns(history []toolloop.Turn) ([]chatMessage, error) {
	result := make([]chatMessage, 0, len(history))

	for i, turn := range history {
		switch turn.Role {
		case toolloop.RoleTool:
			for _, r := range turn.ToolResults() {
				content, err := marshalResult(r)
				if err != nil {
					return nil, fmt.Errorf("%w: turn %d: tool result %q: %w", toolloop.ErrInvalidRequest, i, r.Ref, err)
				}
				result = append(result, chatMessage{Role: "tool", ToolCallID: r.Ref, Content: content})
			}

		case toolloop.RoleModel:
			cm := chatMessage{Role: "assistant"}
			if text := turn.Text(); text != "" {
				cm.Content = text
			}
			for _, req := range turn.ToolRequests() {
				args := string(req.Input)
				if args == "" {
					args = "{}"
				}
				cm.ToolCalls = append(cm.ToolCalls, toolCall{
					ID:       req.Ref,
					Type:     "function",
					Function: functionCall{Name: req.Name, Arguments: args},
				})
			}
			result = append(result, cm)

		default:
			cm := chatMessage{Role: string(turn.Role)}
			parts := convertContentParts(turn.Parts)
			if len(parts) == 1 && parts[0].Type == "text" {
				cm.Content = parts[0].Text
			} else if len(parts) > 0 {
				cm.Content = parts
			}
			result = append(result, cm)
		}
	}
	return result, nil
}

func convertContentParts(parts toolloop.Parts) []contentPart {
	var out []contentPart
	for _, p := range parts {
		switch v := p.(type) {
		case *toolloop.TextPart:
			out = append(out, contentPart{Type: "text", Text: v.Text})
		case *toolloop.MediaPart:
			out = append(out, contentPart{Type: "image_url", ImageURL: &imageURL{URL: v.URI}})
		}
	}
	return out
}

// marshalResult renders a tool result as message content. Failures are
// sent as {"error": {...}} so the model can see what went wrong.
func marshalResult(r *toolloop.ToolResultPart) (string, error) {
	if r.Failed() {
		b, err := json.Marshal(map[string]any{"error": r.Error})
		return string(b), err
	}
	if s, ok := r.Output.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(r.Output)
	return string(b), err
}

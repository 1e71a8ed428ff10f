// Copyright (c) Microsoft. All rights reserved.

package openai

import (
	"encoding/json"
	"fmt"

	"github.com/jggomez/toolloop/toolloop"
)

// chatCompletionResponse is the OpenAI Chat Completions API response.
type chatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

type choice struct {
	Index        int         `json:"index"`
	Message      respMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type respMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// parseChatResponse converts the first choice into a model response.
func parseChatResponse(raw *chatCompletionResponse) (*toolloop.ModelResponse, error) {
	if len(raw.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", toolloop.ErrEndpointUnavailable)
	}

	resp := &toolloop.ModelResponse{
		ResponseID: raw.ID,
		ModelID:    raw.Model,
	}
	if raw.Usage != nil {
		resp.Usage = toolloop.UsageDetails{
			InputTokens:  raw.Usage.PromptTokens,
			OutputTokens: raw.Usage.CompletionTokens,
			TotalTokens:  raw.Usage.TotalTokens,
		}
	}

	c := raw.Choices[0]
	resp.FinishReason = mapFinishReason(c.FinishReason)

	turn := toolloop.Turn{Role: toolloop.RoleModel}
	if c.Message.Content != nil && *c.Message.Content != "" {
		turn.Parts = append(turn.Parts, &toolloop.TextPart{Text: *c.Message.Content})
	}
	for _, tc := range c.Message.ToolCalls {
		turn.Parts = append(turn.Parts, &toolloop.ToolRequestPart{
			Name:  tc.Function.Name,
			Ref:   tc.ID,
			Input: toolInput(tc.Function.Arguments),
		})
	}
	resp.Turn = turn
	return resp, nil
}

// toolInput keeps valid JSON arguments as-is. Anything else is wrapped as
// a JSON string so input validation reports it against the tool schema.
func toolInput(args string) json.RawMessage {
	switch {
	case args == "":
		return nil
	case json.Valid([]byte(args)):
		return json.RawMessage(args)
	}
	b, _ := json.Marshal(args)
	return b
}

// unmarshalChatResponse parses the JSON response body.
func unmarshalChatResponse(data []byte) (*chatCompletionResponse, error) {
	var resp chatCompletionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func mapFinishReason(s string) toolloop.FinishReason {
	switch s {
	case "stop":
		return toolloop.FinishReasonStop
	case "length":
		return toolloop.FinishReasonLength
	case "tool_calls", "function_call":
		return toolloop.FinishReasonToolCalls
	case "content_filter":
		return toolloop.FinishReasonContentFilter
	default:
		return toolloop.FinishReason(s)
	}
}

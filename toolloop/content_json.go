// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"encoding/json"
	"fmt"
)

// MarshalPartJSON marshals a single Part into its JSON envelope, using a
// $type discriminator so that sessions can be persisted and restored.
func MarshalPartJSON(p Part) ([]byte, error) {
	switch v := p.(type) {
	case *TextPart:
		return json.Marshal(struct {
			Type string `json:"$type"`
			Text string `json:"text"`
		}{string(PartTypeText), v.Text})

	case *MediaPart:
		return json.Marshal(struct {
			Type      string `json:"$type"`
			URI       string `json:"uri"`
			MediaType string `json:"mediaType,omitempty"`
		}{string(PartTypeMedia), v.URI, v.MediaType})

	case *ToolRequestPart:
		return json.Marshal(struct {
			Type  string          `json:"$type"`
			Name  string          `json:"name"`
			Ref   string          `json:"ref"`
			Input json.RawMessage `json:"input,omitempty"`
		}{string(PartTypeToolRequest), v.Name, v.Ref, v.Input})

	case *ToolResultPart:
		return json.Marshal(struct {
			Type   string       `json:"$type"`
			Name   string       `json:"name"`
			Ref    string       `json:"ref"`
			Output any          `json:"output,omitempty"`
			Error  *ToolFailure `json:"error,omitempty"`
		}{string(PartTypeToolResult), v.Name, v.Ref, v.Output, v.Error})

	default:
		return nil, fmt.Errorf("unknown part type: %T", p)
	}
}

// UnmarshalPartJSON unmarshals a single Part from its JSON envelope.
func UnmarshalPartJSON(data []byte) (Part, error) {
	var env struct {
		Type string `json:"$type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal part envelope: %w", err)
	}

	switch PartType(env.Type) {
	case PartTypeText:
		var v struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return &TextPart{Text: v.Text}, nil

	case PartTypeMedia:
		var v struct {
			URI       string `json:"uri"`
			MediaType string `json:"mediaType"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return &MediaPart{URI: v.URI, MediaType: v.MediaType}, nil

	case PartTypeToolRequest:
		var v struct {
			Name  string          `json:"name"`
			Ref   string          `json:"ref"`
			Input json.RawMessage `json:"input"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return &ToolRequestPart{Name: v.Name, Ref: v.Ref, Input: v.Input}, nil

	case PartTypeToolResult:
		var v struct {
			Name   string       `json:"name"`
			Ref    string       `json:"ref"`
			Output any          `json:"output"`
			Error  *ToolFailure `json:"error"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return &ToolResultPart{Name: v.Name, Ref: v.Ref, Output: v.Output, Error: v.Error}, nil

	default:
		return nil, fmt.Errorf("unknown part $type: %q", env.Type)
	}
}

// MarshalJSON serializes each Part using its $type discriminator.
func (ps Parts) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, len(ps))
	for i, p := range ps {
		b, err := MarshalPartJSON(p)
		if err != nil {
			return nil, fmt.Errorf("marshal part[%d]: %w", i, err)
		}
		items[i] = b
	}
	return json.Marshal(items)
}

// UnmarshalJSON deserializes a JSON array of parts using the $type discriminator.
func (ps *Parts) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make(Parts, len(raw))
	for i, r := range raw {
		p, err := UnmarshalPartJSON(r)
		if err != nil {
			return fmt.Errorf("unmarshal part[%d]: %w", i, err)
		}
		result[i] = p
	}
	*ps = result
	return nil
}

// Copyright (c) Microsoft. All rights reserved.

package gemini

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/jggomez/toolloop/toolloop"
)

// toContents converts history into Gemini contents. System turns are
// returned separately as instruction text.
func toContents(history []toolloop.Turn) ([]*genai.Content, []string, error) {
	var contents []*genai.Content
	var system []string

	for i, turn := range history {
		if turn.Role == toolloop.RoleSystem {
			system = append(system, turn.Text())
			continue
		}

		role := genai.RoleUser
		if turn.Role == toolloop.RoleModel {
			role = genai.RoleModel
		}

		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			gp, err := toPart(p)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: gemini: turn %d: %w", toolloop.ErrInvalidRequest, i, err)
			}
			parts = append(parts, gp)
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: string(role), Parts: parts})
	}
	return contents, system, nil
}

func toPart(p toolloop.Part) (*genai.Part, error) {
	switch v := p.(type) {
	case *toolloop.TextPart:
		return &genai.Part{Text: v.Text}, nil

	case *toolloop.MediaPart:
		if strings.HasPrefix(v.URI, "data:") {
			mediaType, data, err := decodeDataURI(v.URI)
			if err != nil {
				return nil, err
			}
			if v.MediaType != "" {
				mediaType = v.MediaType
			}
			return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mediaType}}, nil
		}
		return &genai.Part{FileData: &genai.FileData{FileURI: v.URI, MIMEType: v.MediaType}}, nil

	case *toolloop.ToolRequestPart:
		var args map[string]any
		if len(v.Input) > 0 {
			if err := json.Unmarshal(v.Input, &args); err != nil {
				return nil, fmt.Errorf("tool request %q input: %w", v.Ref, err)
			}
		}
		return &genai.Part{FunctionCall: &genai.FunctionCall{ID: v.Ref, Name: v.Name, Args: args}}, nil

	case *toolloop.ToolResultPart:
		response := map[string]any{"output": v.Output}
		if v.Failed() {
			response = map[string]any{"error": v.Error}
		}
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: v.Ref, Name: v.Name, Response: response}}, nil
	}
	return nil, fmt.Errorf("unsupported part %T", p)
}

// decodeDataURI splits data:<media type>;base64,<payload>.
func decodeDataURI(uri string) (string, []byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data uri")
	}
	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return mediaType, []byte(payload), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("data uri payload: %w", err)
	}
	return mediaType, data, nil
}

func buildConfig(cfg *toolloop.GenerationConfig, tools []toolloop.ToolDeclaration, system []string) *genai.GenerateContentConfig {
	out := &genai.GenerateContentConfig{StopSequences: cfg.Stop}

	if cfg.Instructions != "" {
		system = append([]string{cfg.Instructions}, system...)
	}
	if len(system) > 0 {
		out.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n")}}}
	}
	if cfg.Temperature != nil {
		v := float32(*cfg.Temperature)
		out.Temperature = &v
	}
	if cfg.TopP != nil {
		v := float32(*cfg.TopP)
		out.TopP = &v
	}
	if cfg.MaxOutputTokens != nil {
		out.MaxOutputTokens = int32(*cfg.MaxOutputTokens)
	}
	if cfg.Seed != nil {
		v := int32(*cfg.Seed)
		out.Seed = &v
	}
	if len(cfg.ResponseSchema) > 0 {
		out.ResponseMIMEType = "application/json"
		out.ResponseJsonSchema = cfg.ResponseSchema
	}

	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			d := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
			if len(t.InputSchema) > 0 {
				d.ParametersJsonSchema = t.InputSchema
			}
			decls = append(decls, d)
		}
		out.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return out
}

func fromResponse(resp *genai.GenerateContentResponse, model string) (*toolloop.ModelResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("%w: gemini: prompt blocked: %s", toolloop.ErrContentFilter, resp.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("%w: gemini: response has no candidates", toolloop.ErrEndpointUnavailable)
	}
	cand := resp.Candidates[0]

	turn := toolloop.Turn{Role: toolloop.RoleModel}
	hasCalls := false
	for _, p := range cand.Content.Parts {
		switch {
		case p == nil || p.Thought:
		case p.FunctionCall != nil:
			input, err := json.Marshal(p.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("%w: gemini: function call args: %w", toolloop.ErrEndpointUnavailable, err)
			}
			if p.FunctionCall.Args == nil {
				input = nil
			}
			turn.Parts = append(turn.Parts, &toolloop.ToolRequestPart{
				Name:  p.FunctionCall.Name,
				Ref:   p.FunctionCall.ID,
				Input: input,
			})
			hasCalls = true
		case p.Text != "":
			turn.Parts = append(turn.Parts, &toolloop.TextPart{Text: p.Text})
		}
	}

	out := &toolloop.ModelResponse{
		Turn:         turn,
		ResponseID:   resp.ResponseID,
		ModelID:      model,
		FinishReason: finishReason(cand.FinishReason, hasCalls),
		Raw:          resp,
	}
	if resp.ModelVersion != "" {
		out.ModelID = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = toolloop.UsageDetails{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func finishReason(r genai.FinishReason, hasCalls bool) toolloop.FinishReason {
	if hasCalls {
		return toolloop.FinishReasonToolCalls
	}
	switch r {
	case genai.FinishReasonMaxTokens:
		return toolloop.FinishReasonLength
	case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent, genai.FinishReasonSPII, genai.FinishReasonImageSafety:
		return toolloop.FinishReasonContentFilter
	}
	return toolloop.FinishReasonStop
}

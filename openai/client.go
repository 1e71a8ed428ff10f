// Copyright (c) Microsoft. All rights reserved.

package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jggomez/toolloop/toolloop"
)

// DefaultModel is used when neither [WithModel] nor the generation config
// names a model.
const DefaultModel = "gpt-4o"

// Client implements [toolloop.ModelEndpoint] using the OpenAI Chat
// Completions API. Use [New] to create one.
type Client struct {
	tp    transport
	model string
}

var _ toolloop.ModelEndpoint = (*Client)(nil)

// New creates an OpenAI [Client] with the given API key and options.
//
//	client := openai.New(os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
func New(apiKey string, opts ...Option) *Client {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}
	model := cfg.model
	if model == "" {
		model = DefaultModel
	}
	return &Client{tp: newHTTPTransport(apiKey, cfg), model: model}
}

// Invoke sends one chat completion request built from history and tools.
func (c *Client) Invoke(ctx context.Context, history []toolloop.Turn, tools []toolloop.ToolDeclaration, cfg *toolloop.GenerationConfig) (*toolloop.ModelResponse, error) {
	req, err := buildRequest(history, tools, cfg, c.model)
	if err != nil {
		return nil, err
	}

	resp, err := c.tp.do(ctx, http.MethodPost, "/chat/completions", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %w", toolloop.ErrEndpointUnavailable, err)
	}

	raw, err := unmarshalChatResponse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse response: %w", toolloop.ErrEndpointUnavailable, err)
	}

	result, err := parseChatResponse(raw)
	if err != nil {
		return nil, err
	}
	result.Raw = raw
	return result, nil
}

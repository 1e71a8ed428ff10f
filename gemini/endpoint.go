// Copyright (c) Microsoft. All rights reserved.

package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/jggomez/toolloop/toolloop"
)

// DefaultModel is used when neither [WithModel] nor the generation config
// names a model.
const DefaultModel = "gemini-2.5-flash"

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Endpoint is a [toolloop.ModelEndpoint] backed by the Gemini API.
type Endpoint struct {
	gen   generator
	model string
}

var _ toolloop.ModelEndpoint = (*Endpoint)(nil)

// Option configures an [Endpoint].
type Option func(*Endpoint)

// WithModel sets the default model ID.
func WithModel(model string) Option {
	return func(e *Endpoint) { e.model = model }
}

// New creates an Endpoint for the Gemini API authenticated by apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Endpoint, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return newEndpoint(client.Models, opts...), nil
}

func newEndpoint(gen generator, opts ...Option) *Endpoint {
	e := &Endpoint{gen: gen, model: DefaultModel}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Invoke sends the history and tool declarations to Gemini.
func (e *Endpoint) Invoke(ctx context.Context, history []toolloop.Turn, tools []toolloop.ToolDeclaration, cfg *toolloop.GenerationConfig) (*toolloop.ModelResponse, error) {
	if cfg == nil {
		cfg = &toolloop.GenerationConfig{}
	}
	model := e.model
	if cfg.ModelID != "" {
		model = cfg.ModelID
	}

	contents, system, err := toContents(history)
	if err != nil {
		return nil, err
	}
	config := buildConfig(cfg, tools, system)

	resp, err := e.gen.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, mapError(err)
	}
	return fromResponse(resp, model)
}

func mapError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: gemini: %w", toolloop.ErrEndpointUnavailable, err)
	}

	var sentinel error
	switch {
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		sentinel = toolloop.ErrAuth
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
		sentinel = toolloop.ErrEndpointUnavailable
	case apiErr.Code >= 400:
		sentinel = toolloop.ErrInvalidRequest
	default:
		sentinel = toolloop.ErrEndpointUnavailable
	}
	return &toolloop.ServiceError{
		StatusCode: apiErr.Code,
		Message:    apiErr.Message,
		Code:       apiErr.Status,
		Err:        sentinel,
	}
}

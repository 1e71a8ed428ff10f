// Copyright (c) Microsoft. All rights reserved.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/jggomez/toolloop/gemini"
	"github.com/jggomez/toolloop/internal/config"
	"github.com/jggomez/toolloop/openai"
	"github.com/jggomez/toolloop/scripted"
	"github.com/jggomez/toolloop/toolloop"
)

// newEndpoint creates the model endpoint for the configured provider.
func newEndpoint(ctx context.Context, cfg *config.Config, logger *slog.Logger) (toolloop.ModelEndpoint, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.OpenAIModel)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		return openai.New(cfg.OpenAIAPIKey, opts...), nil

	case config.ProviderAzure:
		opts := []openai.Option{
			openai.WithBaseURL(cfg.AzureFoundryEndpoint),
			openai.WithModel(cfg.AzureFoundryModel),
		}
		if cfg.AzureFoundryKey != "" {
			logger.Info("using azure api key authentication", "endpoint", cfg.AzureFoundryEndpoint)
			opts = append(opts, openai.WithHeaders(map[string]string{"api-key": cfg.AzureFoundryKey}))
			return openai.New(cfg.AzureFoundryKey, opts...), nil
		}
		logger.Info("using DefaultAzureCredential", "endpoint", cfg.AzureFoundryEndpoint)
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("create azure credential: %w", err)
		}
		return openai.New("", append(opts, openai.WithAzureCredential(cred))...), nil

	case config.ProviderGemini:
		ep, err := gemini.New(ctx, cfg.GeminiAPIKey, gemini.WithModel(cfg.GeminiModel))
		if err != nil {
			return nil, err
		}
		return ep, nil

	case config.ProviderScripted:
		ep, err := scripted.LoadFile(cfg.ScriptPath)
		if err != nil {
			return nil, err
		}
		return ep, nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

// Copyright (c) Microsoft. All rights reserved.

// Package openai provides a [toolloop.ModelEndpoint] for the OpenAI Chat
// Completions API and OpenAI-compatible services such as Azure AI Foundry.
//
//	client := openai.New(os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
//
//	orch, err := toolloop.New(toolloop.Config{Endpoint: client})
//
// Tool requests map to Chat Completions tool_calls, and each tool result
// becomes its own "tool" message keyed by the request reference.
//
// # Configuration
//
// Use functional options to configure the client:
//
//   - [WithModel]: set the default model
//   - [WithBaseURL]: override the API endpoint (e.g., Azure AI Foundry)
//   - [WithOrganization]: set the OpenAI organization header
//   - [WithHTTPClient]: provide a custom http.Client
//   - [WithHeaders]: add custom headers to every request
//   - [WithAzureCredential]: authenticate with Microsoft Entra ID tokens
//
// # Testing
//
// Provide an http.Client with a custom RoundTripper via [WithHTTPClient].
package openai

// Copyright (c) Microsoft. All rights reserved.

// Package gemini implements [toolloop.ModelEndpoint] for the Gemini API
// using the google.golang.org/genai SDK.
//
//	ep, err := gemini.New(ctx, os.Getenv("GEMINI_API_KEY"), gemini.WithModel("gemini-2.5-flash"))
//	orch, err := toolloop.New(toolloop.Config{Endpoint: ep})
package gemini

// Copyright (c) Microsoft. All rights reserved.

// Package toolloop provides a bounded tool-call orchestration engine. It
// drives the request/dispatch/respond loop between a caller, a language
// model and a set of externally defined tools until the model produces a
// final answer or a turn budget is spent.
//
// # Quick Start
//
// Create a ModelEndpoint (e.g., from the openai or gemini package), a
// registry of tools and an Orchestrator:
//
//	endpoint := openai.New(os.Getenv("OPENAI_API_KEY"), openai.WithModel("gpt-4o"))
//
//	registry, err := toolloop.NewRegistry(weatherTool)
//	orch, err := toolloop.New(toolloop.Config{Endpoint: endpoint})
//
//	session := toolloop.NewSession(toolloop.WithSessionMaxTurns(3))
//	res, err := orch.Run(ctx, session, toolloop.TextPrompt("Weather in Baltimore?"), registry)
//	fmt.Println(res.State, res.Text())
//
// # Architecture
//
//   - [Orchestrator]: runs the loop. It holds no conversation state.
//   - [Session]: history, turn budget and dispatch mode of one
//     conversation. Single writer; serializable to JSON.
//   - [ModelEndpoint]: interface for model backends.
//   - [ToolRegistry] and [Tool]: tools the model may call.
//   - [Part]: sealed interface for turn content (text, media, tool
//     requests, tool results).
//   - Middleware around endpoint calls and tool invocations.
//
// # States
//
// A run starts in [StateAwaitingModel] and returns in one of
// [StateComplete], [StateSuspendedForCaller], [StateTruncated] or
// [StateCancelled]. Tool requests of one model turn are dispatched
// concurrently; their results are appended as one tool turn in request
// order.
//
// # Explicit control
//
// With explicit control the orchestrator never invokes tools. The run
// returns suspended with the pending requests and the caller resumes it:
//
//	res, _ := orch.Run(ctx, session, prompt, registry, toolloop.WithExplicitControl(true))
//	var results []*toolloop.ToolResultPart
//	for _, req := range res.Pending {
//	    results = append(results, toolloop.NewToolResult(req, approveAndRun(req)))
//	}
//	res, _ = orch.Run(ctx, session, toolloop.ResumePrompt(results...), registry)
//
// # Tools
//
// Use [NewTypedTool] for type-safe tools with automatic JSON Schema generation:
//
//	type WeatherArgs struct {
//	    Location string `json:"location" jsonschema:"required,description=City name"`
//	}
//
//	tool := toolloop.NewTypedTool("getWeather", "Get current weather",
//	    func(ctx context.Context, args WeatherArgs) (string, error) {
//	        return fetchWeather(args.Location)
//	    },
//	)
package toolloop

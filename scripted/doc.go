// Copyright (c) Microsoft. All rights reserved.

// Package scripted provides a deterministic [toolloop.ModelEndpoint] that
// replays a fixed sequence of responses. It is used for replay tests and
// offline demos.
//
// Scripts can be built in code:
//
//	ep := scripted.New(
//	    scripted.ToolRequests(&toolloop.ToolRequestPart{Name: "getWeather", Ref: "call-1", Input: json.RawMessage(`{"location":"Baltimore"}`)}),
//	    scripted.Text("The current weather in Baltimore is 63°F and sunny."),
//	)
//
// or loaded from YAML:
//
//	steps:
//	  - toolRequests:
//	      - name: getWeather
//	        ref: call-1
//	        input: {location: Baltimore}
//	  - text: The current weather in Baltimore is 63°F and sunny.
package scripted

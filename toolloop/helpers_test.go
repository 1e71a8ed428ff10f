// Copyright (c) Microsoft. All rights reserved.

package toolloop_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	tl "github.com/jggomez/toolloop/toolloop"
)

const baltimoreAnswer = "The current weather in Baltimore is 63°F and sunny."

type weatherInput struct {
	Location string `json:"location" jsonschema:"required,description=City name"`
}

func weatherTool(calls *int) *tl.FunctionTool {
	return tl.NewTypedTool("getWeather", "Get current weather",
		func(_ context.Context, in weatherInput) (string, error) {
			if calls != nil {
				*calls++
			}
			return "63°F and sunny", nil
		},
	)
}

func request(name, ref, input string) *tl.ToolRequestPart {
	var raw json.RawMessage
	if input != "" {
		raw = json.RawMessage(input)
	}
	return &tl.ToolRequestPart{Name: name, Ref: ref, Input: raw}
}

func newOrchestrator(t *testing.T, endpoint tl.ModelEndpoint, mutate ...func(*tl.Config)) *tl.Orchestrator {
	t.Helper()
	cfg := tl.Config{Endpoint: endpoint}
	for _, m := range mutate {
		m(&cfg)
	}
	o, err := tl.New(cfg)
	require.NoError(t, err)
	return o
}

func newRegistry(t *testing.T, tools ...tl.Tool) *tl.Registry {
	t.Helper()
	r, err := tl.NewRegistry(tools...)
	require.NoError(t, err)
	return r
}

func toolTurns(history []tl.Turn) []tl.Turn {
	var out []tl.Turn
	for _, turn := range history {
		if turn.Role == tl.RoleTool {
			out = append(out, turn)
		}
	}
	return out
}

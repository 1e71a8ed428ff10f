// Copyright (c) Microsoft. All rights reserved.

package toolloop

import "encoding/json"

// GenerationConfig holds generation parameters forwarded to the
// [ModelEndpoint]. Pointer fields use nil to represent "unset".
type GenerationConfig struct {
	ModelID         string
	Temperature     *float64
	TopP            *float64
	MaxOutputTokens *int
	Stop            []string
	Seed            *int

	// Instructions is the system prompt. Endpoints place it ahead of history.
	Instructions string

	// ResponseSchema requests structured output conforming to a JSON Schema.
	ResponseSchema json.RawMessage

	// Extra holds provider-specific options not covered by standard fields.
	Extra map[string]any
}

// MergeGenerationConfig produces a new GenerationConfig by overlaying
// override onto base. Unset fields in override do not overwrite base.
// Instructions are concatenated; Extra maps are merged with override keys
// winning.
func MergeGenerationConfig(base, override *GenerationConfig) *GenerationConfig {
	if base == nil {
		if override == nil {
			return &GenerationConfig{}
		}
		cp := *override
		return &cp
	}
	if override == nil {
		cp := *base
		return &cp
	}

	merged := *base

	if override.ModelID != "" {
		merged.ModelID = override.ModelID
	}
	if override.Temperature != nil {
		merged.Temperature = override.Temperature
	}
	if override.TopP != nil {
		merged.TopP = override.TopP
	}
	if override.MaxOutputTokens != nil {
		merged.MaxOutputTokens = override.MaxOutputTokens
	}
	if len(override.Stop) > 0 {
		merged.Stop = override.Stop
	}
	if override.Seed != nil {
		merged.Seed = override.Seed
	}
	if len(override.ResponseSchema) > 0 {
		merged.ResponseSchema = override.ResponseSchema
	}
	merged.Instructions = joinInstructions(merged.Instructions, override.Instructions)

	if len(override.Extra) > 0 {
		extra := make(map[string]any, len(base.Extra)+len(override.Extra))
		for k, v := range base.Extra {
			extra[k] = v
		}
		for k, v := range override.Extra {
			extra[k] = v
		}
		merged.Extra = extra
	}

	return &merged
}

func joinInstructions(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n" + b
}

// RunOption configures a single [Orchestrator.Run] call.
type RunOption func(*runConfig)

type runConfig struct {
	maxTurns        *int
	explicitControl *bool
	generation      *GenerationConfig
	observer        func(Event)
}

// WithMaxTurns overrides the session's turn budget for this run.
func WithMaxTurns(n int) RunOption {
	return func(c *runConfig) { c.maxTurns = &n }
}

// WithExplicitControl overrides the session's explicit-control flag for this run.
func WithExplicitControl(on bool) RunOption {
	return func(c *runConfig) { c.explicitControl = &on }
}

// WithGenerationConfig provides per-run generation overrides, merged over
// the orchestrator defaults.
func WithGenerationConfig(cfg *GenerationConfig) RunOption {
	return func(c *runConfig) { c.generation = cfg }
}

// WithObserver registers a callback receiving an [Event] for every appended
// turn and state change. It is called synchronously from the run.
func WithObserver(fn func(Event)) RunOption {
	return func(c *runConfig) { c.observer = fn }
}

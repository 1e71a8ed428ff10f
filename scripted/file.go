// Copyright (c) Microsoft. All rights reserved.

package scripted

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jggomez/toolloop/toolloop"
	"gopkg.in/yaml.v3"
)

type scriptFile struct {
	Steps []stepEntry `yaml:"steps"`
}

type stepEntry struct {
	Text         string         `yaml:"text"`
	ToolRequests []requestEntry `yaml:"toolRequests"`
	Error        string         `yaml:"error"`
	Message      string         `yaml:"message"`
	Delay        string         `yaml:"delay"`
	Usage        *usageEntry    `yaml:"usage"`
}

type requestEntry struct {
	Name  string `yaml:"name"`
	Ref   string `yaml:"ref"`
	Input any    `yaml:"input"`
}

type usageEntry struct {
	Input  int `yaml:"input"`
	Output int `yaml:"output"`
}

// Error kinds accepted in the error field of a script step.
var errorKinds = map[string]error{
	"unavailable":    toolloop.ErrEndpointUnavailable,
	"invalid":        toolloop.ErrInvalidRequest,
	"auth":           toolloop.ErrAuth,
	"content_filter": toolloop.ErrContentFilter,
}

// LoadFile reads a YAML script from path.
func LoadFile(path string) (*Endpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	ep, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ep, nil
}

// Parse builds an Endpoint from a YAML script.
func Parse(data []byte) (*Endpoint, error) {
	var f scriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("script has no steps")
	}

	steps := make([]Step, 0, len(f.Steps))
	for i, s := range f.Steps {
		step, err := s.toStep()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	return New(steps...), nil
}

func (s stepEntry) toStep() (Step, error) {
	var step Step
	if s.Delay != "" {
		d, err := time.ParseDuration(s.Delay)
		if err != nil {
			return step, fmt.Errorf("delay: %w", err)
		}
		step.Delay = d
	}

	set := 0
	if s.Text != "" {
		set++
	}
	if len(s.ToolRequests) > 0 {
		set++
	}
	if s.Error != "" {
		set++
	}
	if set != 1 {
		return step, fmt.Errorf("exactly one of text, toolRequests or error is required")
	}

	switch {
	case s.Error != "":
		kind, ok := errorKinds[s.Error]
		if !ok {
			return step, fmt.Errorf("unknown error kind %q", s.Error)
		}
		msg := s.Message
		if msg == "" {
			msg = "scripted failure"
		}
		step.Err = fmt.Errorf("%w: %s", kind, msg)
		return step, nil

	case s.Text != "":
		step.Response = toolloop.NewFinalResponse(s.Text)

	default:
		reqs := make([]*toolloop.ToolRequestPart, 0, len(s.ToolRequests))
		for j, r := range s.ToolRequests {
			if r.Name == "" {
				return step, fmt.Errorf("toolRequests[%d]: name is required", j)
			}
			input, err := json.Marshal(r.Input)
			if err != nil {
				return step, fmt.Errorf("toolRequests[%d] input: %w", j, err)
			}
			if r.Input == nil {
				input = nil
			}
			reqs = append(reqs, &toolloop.ToolRequestPart{Name: r.Name, Ref: r.Ref, Input: input})
		}
		step.Response = toolloop.NewToolRequestResponse(reqs...)
	}

	if s.Usage != nil {
		step.Response.Usage = toolloop.UsageDetails{
			InputTokens:  s.Usage.Input,
			OutputTokens: s.Usage.Output,
			TotalTokens:  s.Usage.Input + s.Usage.Output,
		}
	}
	return step, nil
}

// Copyright (c) Microsoft. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/jggomez/toolloop/toolloop"
)

// transcript prints run events as a colored conversation log.
type transcript struct {
	w io.Writer
}

func (t *transcript) event(ev toolloop.Event) {
	switch ev.Kind {
	case toolloop.EventStateChanged:
		fmt.Fprintf(t.w, "%s %s (turn %d)\n", color.HiBlackString("--"), color.HiBlackString(string(ev.State)), ev.TurnCount)
	case toolloop.EventTurnAppended:
		if ev.Turn != nil {
			t.turn(*ev.Turn)
		}
	}
}

func (t *transcript) turn(turn toolloop.Turn) {
	switch turn.Role {
	case toolloop.RoleUser:
		if text := turn.Text(); text != "" {
			fmt.Fprintf(t.w, "%s %s\n", color.CyanString("You:"), text)
		}
	case toolloop.RoleModel:
		if text := turn.Text(); text != "" {
			fmt.Fprintf(t.w, "%s %s\n", color.GreenString("Assistant:"), text)
		}
		for _, req := range turn.ToolRequests() {
			fmt.Fprintf(t.w, "%s %s(%s) [%s]\n", color.YellowString("⚡"), req.Name, string(req.Input), req.Ref)
		}
	case toolloop.RoleTool:
		for _, res := range turn.ToolResults() {
			if res.Failed() {
				fmt.Fprintf(t.w, "%s %s: %s (%s)\n", color.RedString("✗"), res.Name, res.Error.Message, res.Error.Code)
				continue
			}
			fmt.Fprintf(t.w, "%s %s: %s\n", color.GreenString("✓"), res.Name, render(res.Output))
		}
	}
}

func (t *transcript) summary(res *toolloop.Result) {
	switch res.State {
	case toolloop.StateComplete:
		fmt.Fprintf(t.w, "%s completed in %d turn(s)\n", color.GreenString("✓"), res.TurnCount)
	case toolloop.StateTruncated:
		fmt.Fprintf(t.w, "%s turn budget spent after %d turn(s); answer is partial\n", color.YellowString("!"), res.TurnCount)
	case toolloop.StateCancelled:
		fmt.Fprintf(t.w, "%s cancelled\n", color.RedString("✗"))
	}
	if res.Usage.TotalTokens > 0 {
		fmt.Fprintf(t.w, "  [tokens: %d in, %d out]\n", res.Usage.InputTokens, res.Usage.OutputTokens)
	}
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

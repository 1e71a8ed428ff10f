// Copyright (c) Microsoft. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jggomez/toolloop/toolloop"
)

type weatherInput struct {
	Location string `json:"location" jsonschema:"description=City name or location"`
	Unit     string `json:"unit,omitempty" jsonschema:"description=Temperature unit,enum=celsius,enum=fahrenheit"`
}

type weatherReport struct {
	Location    string `json:"location"`
	Temperature int    `json:"temperature"`
	Unit        string `json:"unit"`
	Condition   string `json:"condition"`
}

// demoTools returns the tools offered to the model by the CLI.
func demoTools(now func() time.Time) (*toolloop.Registry, error) {
	weather := toolloop.NewTypedTool("getWeather",
		"Get the current weather for a location.",
		func(ctx context.Context, in weatherInput) (weatherReport, error) {
			unit := in.Unit
			if unit == "" {
				unit = "fahrenheit"
			}
			temp := 63
			if unit == "celsius" {
				temp = 17
			}
			return weatherReport{Location: in.Location, Temperature: temp, Unit: unit, Condition: "sunny"}, nil
		},
	)

	clock := toolloop.NewTool("getTime",
		"Get the current time.",
		json.RawMessage(`{"type":"object","properties":{}}`),
		func(ctx context.Context, _ json.RawMessage) (any, error) {
			t := now()
			return map[string]string{
				"time":     t.Format("3:04 PM"),
				"date":     t.Format("Monday, January 2, 2006"),
				"timezone": t.Location().String(),
				"iso8601":  t.Format(time.RFC3339),
			}, nil
		},
	)

	files := toolloop.NewTool("listLocalFiles",
		"Lists files in the current working directory.",
		json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
		func(ctx context.Context, _ json.RawMessage) (any, error) {
			entries, err := os.ReadDir(".")
			if err != nil {
				return nil, fmt.Errorf("%w: read directory: %w", toolloop.ErrToolExecution, err)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), ".") {
					continue
				}
				names = append(names, e.Name())
			}
			return map[string]any{"files": names, "count": len(names)}, nil
		},
	)

	return toolloop.NewRegistry(weather, clock, files)
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the demo tools offered to the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := demoTools(time.Now)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, d := range reg.Declarations() {
				fmt.Fprintf(w, "%s\t%s\n", d.Name, d.Description)
			}
			return w.Flush()
		},
	}
}

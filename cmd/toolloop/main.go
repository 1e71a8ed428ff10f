// Copyright (c) Microsoft. All rights reserved.

// Command toolloop runs a prompt through the bounded tool-call loop against
// OpenAI, Azure AI Foundry, Gemini or a scripted endpoint, with a small set
// of demo tools.
//
// Usage with OpenAI:
//
//	export OPENAI_API_KEY=sk-...
//	toolloop run -p "What's the weather in Baltimore?"
//
// Usage with a script:
//
//	toolloop run --provider scripted --script testdata/weather.yaml -p "weather?"
//
// Pass --explicit to approve each tool call on stdin before it runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "toolloop",
		Short:         "Run prompts through a bounded model/tool orchestration loop",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env-file", "", "load settings from this file instead of .env")
	root.AddCommand(newRunCmd(), newToolsCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

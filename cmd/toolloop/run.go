// Copyright (c) Microsoft. All rights reserved.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jggomez/toolloop/internal/config"
	"github.com/jggomez/toolloop/toolloop"
)

const instructions = "You are a helpful assistant. When asked about the weather, use the getWeather tool. " +
	"When asked about the time, use the getTime tool. Keep responses concise."

type runFlags struct {
	prompt   string
	provider string
	script   string
	maxTurns int
	explicit bool
	yes      bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a prompt until the model answers, the turn budget is spent or the run is cancelled",
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			cfg, err := config.Load(files...)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("provider") {
				cfg.Provider = f.provider
			}
			if cmd.Flags().Changed("script") {
				cfg.ScriptPath = f.script
				if !cmd.Flags().Changed("provider") {
					cfg.Provider = config.ProviderScripted
				}
			}
			if cmd.Flags().Changed("max-turns") {
				cfg.MaxTurns = f.maxTurns
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if strings.TrimSpace(f.prompt) == "" && len(args) > 0 {
				f.prompt = strings.Join(args, " ")
			}
			if strings.TrimSpace(f.prompt) == "" {
				return errors.New("a prompt is required (--prompt or positional args)")
			}

			level, _ := cfg.SlogLevel()
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			ctx := cmd.Context()
			ep, err := newEndpoint(ctx, cfg, logger)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			if cfg.MetricsAddr != "" {
				stop := serveMetrics(cfg.MetricsAddr, reg, logger)
				defer stop()
			}

			r := &runner{
				cfg:      cfg,
				endpoint: ep,
				metrics:  toolloop.NewMetrics(reg),
				logger:   logger,
				in:       bufio.NewReader(cmd.InOrStdin()),
				out:      cmd.OutOrStdout(),
				explicit: f.explicit,
				approve:  f.yes,
				now:      time.Now,
			}
			_, err = r.run(ctx, f.prompt)
			return err
		},
	}
	cmd.Flags().StringVarP(&f.prompt, "prompt", "p", "", "prompt text")
	cmd.Flags().StringVar(&f.provider, "provider", "", "model provider: openai, azure, gemini or scripted")
	cmd.Flags().StringVar(&f.script, "script", "", "YAML script for the scripted provider")
	cmd.Flags().IntVar(&f.maxTurns, "max-turns", toolloop.DefaultMaxTurns, "model round-trips allowed per run")
	cmd.Flags().BoolVar(&f.explicit, "explicit", false, "ask before running each tool call")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "with --explicit, approve every tool call")
	return cmd
}

// runner drives one CLI conversation.
type runner struct {
	cfg      *config.Config
	endpoint toolloop.ModelEndpoint
	metrics  *toolloop.Metrics
	logger   *slog.Logger
	in       *bufio.Reader
	out      io.Writer
	explicit bool
	approve  bool
	now      func() time.Time
}

func (r *runner) run(ctx context.Context, prompt string) (*toolloop.Result, error) {
	retry := toolloop.DefaultRetryConfig()
	retry.MaxAttempts = r.cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(r.cfg.RetryInitialBackoff) * time.Millisecond

	orch, err := toolloop.New(toolloop.Config{
		Endpoint:              r.endpoint,
		Generation:            &toolloop.GenerationConfig{Instructions: instructions},
		MaxConcurrentTools:    r.cfg.MaxConcurrentTools,
		IncludeDetailedErrors: r.cfg.DetailedErrors,
		EndpointMiddleware: []toolloop.EndpointMiddleware{
			toolloop.LoggingMiddleware(r.logger),
			toolloop.RetryMiddleware(retry),
		},
		ToolMiddleware: []toolloop.ToolMiddleware{toolloop.ToolLoggingMiddleware(r.logger)},
		Logger:         r.logger,
		Metrics:        r.metrics,
	})
	if err != nil {
		return nil, err
	}

	tools, err := demoTools(r.now)
	if err != nil {
		return nil, err
	}

	session := toolloop.NewSession(
		toolloop.WithSessionMaxTurns(r.cfg.MaxTurns),
		toolloop.WithSessionExplicitControl(r.explicit),
	)
	tr := &transcript{w: r.out}

	next := toolloop.TextPrompt(prompt)
	for {
		stream := orch.RunStream(ctx, session, next, tools)
		for {
			ev, ok, err := stream.Next(ctx)
			if err != nil || !ok {
				break
			}
			tr.event(ev)
		}
		res, err := stream.Result(ctx)
		stream.Close()
		if err != nil {
			if res != nil {
				tr.summary(res)
			}
			return res, err
		}

		if res.State != toolloop.StateSuspended {
			tr.summary(res)
			return res, nil
		}

		results, err := r.resolve(ctx, tools, res.Pending)
		if err != nil {
			return res, err
		}
		next = toolloop.ResumePrompt(results...)
	}
}

// resolve asks the user about each pending request and runs the approved
// ones.
func (r *runner) resolve(ctx context.Context, tools *toolloop.Registry, pending []*toolloop.ToolRequestPart) ([]*toolloop.ToolResultPart, error) {
	results := make([]*toolloop.ToolResultPart, 0, len(pending))
	for _, req := range pending {
		ok, err := r.confirm(req)
		if err != nil {
			return nil, err
		}
		if !ok {
			results = append(results, toolloop.NewToolFailure(req, "denied", "the user declined this tool call"))
			continue
		}

		tool, found := tools.Lookup(req.Name)
		if !found {
			results = append(results, toolloop.NewToolFailure(req, toolloop.FailureUnknownTool, fmt.Sprintf("tool %q not found", req.Name)))
			continue
		}
		out, err := tool.Invoke(ctx, req.Input)
		if err != nil {
			code := toolloop.FailureExecution
			if errors.Is(err, toolloop.ErrToolInput) {
				code = toolloop.FailureInvalidInput
			}
			results = append(results, toolloop.NewToolFailure(req, code, err.Error()))
			continue
		}
		results = append(results, toolloop.NewToolResult(req, out))
	}
	return results, nil
}

func (r *runner) confirm(req *toolloop.ToolRequestPart) (bool, error) {
	if r.approve {
		return true, nil
	}
	fmt.Fprintf(r.out, "%s run %s(%s)? [y/N] ", color.YellowString("?"), req.Name, string(req.Input))
	line, err := r.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read approval: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// serveMetrics exposes reg on addr until the returned stop is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
}

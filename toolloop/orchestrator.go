// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// UnknownToolPolicy decides what happens when the model requests a tool
// the registry does not hold.
type UnknownToolPolicy int

const (
	// UnknownToolReport feeds an error result back to the model.
	UnknownToolReport UnknownToolPolicy = iota

	// UnknownToolFail ends the run with [ErrUnknownTool].
	UnknownToolFail
)

// Config configures an [Orchestrator]. Only Endpoint is required.
type Config struct {
	Endpoint ModelEndpoint

	// Generation holds default generation parameters, merged under the
	// per-run [WithGenerationConfig] overrides.
	Generation *GenerationConfig

	// MaxConcurrentTools bounds the tool invocations running at once within
	// one turn. Zero means no bound.
	MaxConcurrentTools int

	UnknownToolPolicy UnknownToolPolicy

	// IncludeDetailedErrors includes full error text in tool results sent
	// back to the model. When false, a generic message is used for
	// execution failures.
	IncludeDetailedErrors bool

	EndpointMiddleware []EndpointMiddleware
	ToolMiddleware     []ToolMiddleware
	ContextProvider    ContextProvider

	Logger  *slog.Logger
	Metrics *Metrics
}

// Orchestrator drives the bounded request/dispatch/respond loop between a
// caller, a [ModelEndpoint] and a [ToolRegistry]. An Orchestrator holds no
// per-conversation state and is safe for concurrent use across sessions.
type Orchestrator struct {
	cfg      Config
	endpoint EndpointFunc
	invoke   ToolHandler
	logger   *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Endpoint == nil {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInitialization)
	}
	if cfg.MaxConcurrentTools < 0 {
		return nil, fmt.Errorf("%w: max concurrent tools must be >= 0, got %d", ErrInitialization, cfg.MaxConcurrentTools)
	}
	switch cfg.UnknownToolPolicy {
	case UnknownToolReport, UnknownToolFail:
	default:
		return nil, fmt.Errorf("%w: unknown tool policy %d", ErrInitialization, cfg.UnknownToolPolicy)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		endpoint: chainEndpointMiddleware(classified(cfg.Endpoint), cfg.EndpointMiddleware...),
		invoke:   chainToolMiddleware(invokeTool, cfg.ToolMiddleware...),
		logger:   logger,
	}, nil
}

// classified wraps ep so middleware sees its errors inside the
// [ErrEndpoint] tree.
func classified(ep ModelEndpoint) EndpointFunc {
	return func(ctx context.Context, history []Turn, tools []ToolDeclaration, cfg *GenerationConfig) (*ModelResponse, error) {
		resp, err := ep.Invoke(ctx, history, tools, cfg)
		if err != nil {
			return nil, classifyEndpointError(err)
		}
		return resp, nil
	}
}

type runKey struct{}

// runMarker is carried in the context of tool handlers so a nested Run can
// be detected and reported to the outer run.
type runMarker struct {
	sessionID string
	nested    atomic.Bool
}

// Run applies prompt to session and loops until the model produces a final
// answer, the run is suspended for the caller, the turn budget is spent or
// ctx is cancelled. A nil registry offers the model no tools.
//
// Fatal failures return a nil Result and an *[OrchestrationError]. A
// cancelled run returns both a Result in [StateCancelled] and an error
// wrapping [ErrCancelled].
func (o *Orchestrator) Run(ctx context.Context, session *Session, prompt Prompt, registry ToolRegistry, opts ...RunOption) (*Result, error) {
	if m, ok := ctx.Value(runKey{}).(*runMarker); ok {
		m.nested.Store(true)
		return nil, &OrchestrationError{Op: "run", SessionID: m.sessionID, Err: ErrNestedToolCall}
	}
	if session == nil {
		return nil, &OrchestrationError{Op: "run", Err: fmt.Errorf("%w: nil session", ErrMalformedSession)}
	}

	var rc runConfig
	for _, opt := range opts {
		opt(&rc)
	}

	release, err := session.acquire()
	if err != nil {
		return nil, &OrchestrationError{Op: "run", SessionID: session.ID(), Err: err}
	}
	defer release()

	r := &run{
		o:        o,
		session:  session,
		observer: rc.observer,
		logger:   o.logger.With("session_id", session.ID()),
		state:    StateAwaitingModel,
	}
	if err := session.begin(&rc); err != nil {
		return nil, r.fail("begin", err)
	}
	if registry == nil {
		registry = emptyRegistry{}
	}
	return r.execute(ctx, prompt, registry, MergeGenerationConfig(o.cfg.Generation, rc.generation))
}

// run holds the state of a single Run call.
type run struct {
	o        *Orchestrator
	session  *Session
	observer func(Event)
	logger   *slog.Logger

	state State
	usage UsageDetails
}

func (r *run) execute(ctx context.Context, prompt Prompt, registry ToolRegistry, gen *GenerationConfig) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return r.cancelled(ctx, err, nil, nil)
	}

	turns, err := prompt.turns(r.session.Pending())
	if err != nil {
		return nil, r.fail("prompt", err)
	}
	if err := checkToolPairing(append(r.session.History(), turns...)); err != nil {
		return nil, r.fail("prompt", err)
	}

	tools := registry
	if p := r.o.cfg.ContextProvider; p != nil {
		ic, err := p.Invoking(ctx, r.session.ID(), r.session.History())
		if err != nil {
			return nil, r.fail("context provider", err)
		}
		if ic != nil {
			gen.Instructions = joinInstructions(gen.Instructions, ic.Instructions)
			tools = extendRegistry(registry, ic.Tools)
		}
	}
	decls := tools.Declarations()

	for i := range turns {
		r.appendTurn(turns[i])
	}
	r.setState(StateAwaitingModel)

	maxTurns := r.session.MaxTurns()
	explicit := r.session.ExplicitControl()

	for {
		if err := ctx.Err(); err != nil {
			return r.cancelled(ctx, err, nil, nil)
		}

		resp, err := r.callModel(ctx, decls, gen)
		turnCount := r.session.incrementTurn()
		if err != nil {
			if ctx.Err() != nil {
				return r.cancelled(ctx, ctx.Err(), nil, nil)
			}
			return nil, r.fail("invoke endpoint", classifyEndpointError(err))
		}
		r.usage = r.usage.Add(resp.Usage)

		turn, reqs, err := normalizeResponse(resp)
		if err != nil {
			return nil, r.fail("model response", err)
		}
		r.appendTurn(turn)

		r.logger.DebugContext(ctx, "model turn",
			"turn", turnCount,
			"max_turns", maxTurns,
			"tool_requests", len(reqs),
		)

		switch {
		case len(reqs) == 0:
			return r.finish(ctx, StateComplete, &turn, nil)
		case explicit:
			return r.finish(ctx, StateSuspendedForCaller, &turn, reqs)
		case turnCount >= maxTurns:
			return r.finish(ctx, StateTruncated, &turn, reqs)
		}

		r.setState(StateDispatchingTools)
		results, err := r.dispatch(ctx, tools, reqs)
		if err != nil {
			if ctx.Err() != nil && !errors.Is(err, ErrOrchestration) {
				return r.cancelled(ctx, ctx.Err(), &turn, reqs)
			}
			return nil, r.fail("dispatch tools", err)
		}
		r.appendTurn(NewToolTurn(results...))
		r.setState(StateAwaitingModel)
	}
}

func (r *run) callModel(ctx context.Context, decls []ToolDeclaration, gen *GenerationConfig) (*ModelResponse, error) {
	start := time.Now()
	resp, err := r.o.endpoint(ctx, r.session.History(), decls, gen)
	if err == nil && resp == nil {
		err = fmt.Errorf("%w: endpoint returned no response", ErrEndpointUnavailable)
	}
	var usage UsageDetails
	if resp != nil {
		usage = resp.Usage
	}
	r.o.cfg.Metrics.recordEndpoint(time.Since(start), err, usage)
	return resp, err
}

// normalizeResponse copies the response turn, tagging it as a model turn
// and assigning reference ids to requests that arrived without one.
func normalizeResponse(resp *ModelResponse) (Turn, []*ToolRequestPart, error) {
	turn := Turn{Role: RoleModel, Parts: make(Parts, len(resp.Turn.Parts))}
	if resp.Turn.Role != "" && resp.Turn.Role != RoleModel {
		return Turn{}, nil, fmt.Errorf("%w: endpoint returned a %s turn", ErrMalformedSession, resp.Turn.Role)
	}

	var reqs []*ToolRequestPart
	seen := make(map[string]struct{})
	for i, p := range resp.Turn.Parts {
		switch v := p.(type) {
		case nil:
			return Turn{}, nil, fmt.Errorf("%w: nil part in model turn", ErrMalformedSession)
		case *ToolRequestPart:
			req := *v
			if req.Ref == "" {
				req.Ref = "ref-" + uuid.NewString()
			}
			if _, dup := seen[req.Ref]; dup {
				return Turn{}, nil, fmt.Errorf("%w: %q", ErrDuplicateReferenceID, req.Ref)
			}
			seen[req.Ref] = struct{}{}
			turn.Parts[i] = &req
			reqs = append(reqs, &req)
		case *ToolResultPart:
			return Turn{}, nil, fmt.Errorf("%w: tool result %q in model turn", ErrMalformedReferenceID, v.Ref)
		default:
			turn.Parts[i] = p
		}
	}
	return turn, reqs, nil
}

func (r *run) appendTurn(t Turn) {
	r.session.appendTurns(t)
	if r.observer != nil {
		cp := t.clone()
		r.observer(Event{
			Kind:      EventTurnAppended,
			SessionID: r.session.ID(),
			State:     r.state,
			TurnCount: r.session.TurnCount(),
			Turn:      &cp,
		})
	}
}

func (r *run) setState(s State) {
	r.state = s
	if r.observer != nil {
		r.observer(Event{
			Kind:      EventStateChanged,
			SessionID: r.session.ID(),
			State:     s,
			TurnCount: r.session.TurnCount(),
		})
	}
}

func (r *run) result(state State, answer *Turn, pending []*ToolRequestPart) *Result {
	return &Result{
		SessionID: r.session.ID(),
		State:     state,
		Answer:    answer,
		Pending:   pending,
		TurnCount: r.session.TurnCount(),
		Usage:     r.usage,
		History:   r.session.History(),
	}
}

func (r *run) finish(ctx context.Context, state State, answer *Turn, pending []*ToolRequestPart) (*Result, error) {
	r.setState(state)
	res := r.result(state, answer, pending)
	r.o.cfg.Metrics.recordRun(state, res.TurnCount)
	r.logger.InfoContext(ctx, "run finished",
		"state", state,
		"turns", res.TurnCount,
		"pending", len(pending),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
	)
	if p := r.o.cfg.ContextProvider; p != nil {
		if err := p.Invoked(ctx, r.session.ID(), res); err != nil {
			r.logger.WarnContext(ctx, "context provider failed after run", "error", err)
		}
	}
	return res, nil
}

func (r *run) cancelled(ctx context.Context, cause error, answer *Turn, pending []*ToolRequestPart) (*Result, error) {
	r.setState(StateCancelled)
	res := r.result(StateCancelled, answer, pending)
	r.o.cfg.Metrics.recordRun(StateCancelled, res.TurnCount)
	r.logger.InfoContext(ctx, "run cancelled", "turns", res.TurnCount, "cause", cause)
	return res, &OrchestrationError{
		Op:        "run",
		SessionID: r.session.ID(),
		TurnCount: res.TurnCount,
		History:   res.History,
		Err:       fmt.Errorf("%w: %w", ErrCancelled, cause),
	}
}

func (r *run) fail(op string, err error) error {
	r.logger.Error("run failed", "op", op, "error", err)
	return &OrchestrationError{
		Op:        op,
		SessionID: r.session.ID(),
		TurnCount: r.session.TurnCount(),
		History:   r.session.History(),
		Err:       err,
	}
}

type emptyRegistry struct{}

func (emptyRegistry) Lookup(string) (Tool, bool)        { return nil, false }
func (emptyRegistry) Declarations() []ToolDeclaration { return nil }

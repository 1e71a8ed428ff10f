// Copyright (c) Microsoft. All rights reserved.

package toolloop_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jggomez/toolloop/scripted"
	tl "github.com/jggomez/toolloop/toolloop"
)

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := tl.New(tl.Config{})
	assert.ErrorIs(t, err, tl.ErrInitialization)

	_, err = tl.New(tl.Config{Endpoint: scripted.New(), MaxConcurrentTools: -1})
	assert.ErrorIs(t, err, tl.ErrInitialization)

	_, err = tl.New(tl.Config{Endpoint: scripted.New(), UnknownToolPolicy: 7})
	assert.ErrorIs(t, err, tl.ErrInitialization)
}

func TestRun_ScenarioA_ImmediateAnswer(t *testing.T) {
	ep := scripted.New(scripted.Text(baltimoreAnswer))
	o := newOrchestrator(t, ep)
	session := tl.NewSession(tl.WithSessionMaxTurns(1))

	res, err := o.Run(context.Background(), session, tl.TextPrompt("What's the weather in Baltimore?"), newRegistry(t, weatherTool(nil)))
	require.NoError(t, err)

	assert.Equal(t, tl.StateComplete, res.State)
	assert.Equal(t, baltimoreAnswer, res.Text())
	assert.Equal(t, 1, res.TurnCount)
	assert.Equal(t, 1, session.TurnCount())
	assert.Len(t, ep.Calls(), 1)
	assert.False(t, res.Partial())
}

func TestRun_ScenarioB_SingleToolRoundTrip(t *testing.T) {
	ep := scripted.New(
		scripted.ToolRequests(request("getWeather", "call-1", `{"location":"Baltimore"}`)),
		scripted.Text(baltimoreAnswer),
	)
	o := newOrchestrator(t, ep)
	session := tl.NewSession(tl.WithSessionMaxTurns(2))
	var invocations int

	res, err := o.Run(context.Background(), session, tl.TextPrompt("What's the weather in Baltimore?"), newRegistry(t, weatherTool(&invocations)))
	require.NoError(t, err)

	assert.Equal(t, tl.StateComplete, res.State)
	assert.Equal(t, 2, res.TurnCount)
	assert.Equal(t, 1, invocations)
	assert.Equal(t, baltimoreAnswer, res.Text())

	roles := make([]tl.Role, len(res.History))
	for i, turn := range res.History {
		roles[i] = turn.Role
	}
	assert.Equal(t, []tl.Role{tl.RoleUser, tl.RoleModel, tl.RoleTool, tl.RoleModel}, roles)

	tools := toolTurns(res.History)
	require.Len(t, tools, 1)
	results := tools[0].ToolResults()
	require.Len(t, results, 1)
	assert.Equal(t, "call-1", results[0].Ref)
	assert.Equal(t, "getWeather", results[0].Name)
	assert.Equal(t, "63°F and sunny", results[0].Output)
	assert.False(t, results[0].Failed())

	calls := ep.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1].History, 3)
	require.Len(t, calls[0].Tools, 1)
	assert.Equal(t, "getWeather", calls[0].Tools[0].Name)
}

func TestRun_ScenarioC_TruncatedWithoutDispatch(t *testing.T) {
	ep := scripted.New(scripted.ToolRequests(request("getWeather", "call-1", `{"location":"Baltimore"}`)))
	o := newOrchestrator(t, ep)
	session := tl.NewSession(tl.WithSessionMaxTurns(1))
	var invocations int

	res, err := o.Run(context.Background(), session, tl.TextPrompt("weather?"), newRegistry(t, weatherTool(&invocations)))
	require.NoError(t, err)

	assert.Equal(t, tl.StateTruncated, res.State)
	assert.True(t, res.Partial())
	assert.Equal(t, 1, res.TurnCount)
	assert.Zero(t, invocations)
	require.NotNil(t, res.Answer)
	assert.Len(t, res.Answer.ToolRequests(), 1)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, "call-1", res.Pending[0].Ref)
	assert.Empty(t, toolTurns(res.History))
}

func TestRun_ScenarioD_UnknownToolIsReported(t *testing.T) {
	ep := scripted.New(
		scripted.ToolRequests(request("doesNotExist", "call-1", `{}`)),
		scripted.Text("I could not find that tool."),
	)
	o := newOrchestrator(t, ep)

	res, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("do it"), newRegistry(t, weatherTool(nil)))
	require.NoError(t, err)
	assert.Equal(t, tl.StateComplete, res.State)

	tools := toolTurns(res.History)
	require.Len(t, tools, 1)
	result := tools[0].ToolResults()[0]
	require.True(t, result.Failed())
	assert.Equal(t, tl.FailureUnknownTool, result.Error.Code)
	assert.Equal(t, "call-1", result.Ref)
}

func TestRun_UnknownToolFailPolicy(t *testing.T) {
	ep := scripted.New(scripted.ToolRequests(request("doesNotExist", "call-1", `{}`)))
	o := newOrchestrator(t, ep, func(c *tl.Config) { c.UnknownToolPolicy = tl.UnknownToolFail })
	session := tl.NewSession()

	res, err := o.Run(context.Background(), session, tl.TextPrompt("do it"), newRegistry(t, weatherTool(nil)))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, tl.ErrUnknownTool)

	var oe *tl.OrchestrationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, session.ID(), oe.SessionID)
	assert.Equal(t, 1, oe.TurnCount)
	assert.Len(t, oe.History, 2)
}

func TestRun_ResultsKeepRequestOrder(t *testing.T) {
	const n = 8
	reqs := make([]*tl.ToolRequestPart, n)
	for i := range reqs {
		reqs[i] = request("echo", fmt.Sprintf("call-%d", i), fmt.Sprintf(`{"i":%d}`, i))
	}
	ep := scripted.New(scripted.ToolRequests(reqs...), scripted.Text("done"))

	echo := tl.NewTool("echo", "Echo input after a random delay", nil,
		func(ctx context.Context, input json.RawMessage) (any, error) {
			time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
			return string(input), nil
		},
	)
	o := newOrchestrator(t, ep)

	res, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("go"), newRegistry(t, echo))
	require.NoError(t, err)

	results := toolTurns(res.History)[0].ToolResults()
	require.Len(t, results, n)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("call-%d", i), r.Ref)
		assert.Equal(t, fmt.Sprintf(`{"i":%d}`, i), r.Output)
	}
}

func TestRun_MaxConcurrentTools(t *testing.T) {
	reqs := make([]*tl.ToolRequestPart, 6)
	for i := range reqs {
		reqs[i] = request("slow", fmt.Sprintf("call-%d", i), "")
	}
	ep := scripted.New(scripted.ToolRequests(reqs...), scripted.Text("done"))

	var active, peak atomic.Int32
	slow := tl.NewTool("slow", "", nil, func(ctx context.Context, _ json.RawMessage) (any, error) {
		cur := active.Add(1)
		defer active.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	o := newOrchestrator(t, ep, func(c *tl.Config) { c.MaxConcurrentTools = 2 })

	res, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("go"), newRegistry(t, slow))
	require.NoError(t, err)
	assert.Equal(t, tl.StateComplete, res.State)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_ReplayIsDeterministic(t *testing.T) {
	script := func() *scripted.Endpoint {
		return scripted.New(
			scripted.ToolRequests(
				request("getWeather", "call-1", `{"location":"Baltimore"}`),
				request("getWeather", "call-2", `{"location":"Boston"}`),
			),
			scripted.ToolRequests(request("doesNotExist", "call-3", `{}`)),
			scripted.Text("done"),
		)
	}
	run := func() []tl.Turn {
		o := newOrchestrator(t, script())
		res, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("weather please"), newRegistry(t, weatherTool(nil)))
		require.NoError(t, err)
		return res.History
	}

	first, second := run(), run()
	assert.Equal(t, first, second)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestRun_TurnBudgetNeverExceeded(t *testing.T) {
	var calls int
	ep := tl.EndpointFunc(func(ctx context.Context, _ []tl.Turn, _ []tl.ToolDeclaration, _ *tl.GenerationConfig) (*tl.ModelResponse, error) {
		calls++
		return tl.NewToolRequestResponse(request("getWeather", fmt.Sprintf("call-%d", calls), `{"location":"Baltimore"}`)), nil
	})
	o := newOrchestrator(t, ep)
	session := tl.NewSession(tl.WithSessionMaxTurns(3))

	res, err := o.Run(context.Background(), session, tl.TextPrompt("loop"), newRegistry(t, weatherTool(nil)))
	require.NoError(t, err)
	assert.Equal(t, tl.StateTruncated, res.State)
	assert.Equal(t, 3, res.TurnCount)
	assert.Equal(t, 3, calls)
	assert.Len(t, toolTurns(res.History), 2)
}

func TestRun_ExplicitControlSuspendsAndResumes(t *testing.T) {
	ep := scripted.New(
		scripted.ToolRequests(request("getWeather", "call-1", `{"location":"Baltimore"}`)),
		scripted.Text(baltimoreAnswer),
	)
	o := newOrchestrator(t, ep)
	session := tl.NewSession(tl.WithSessionExplicitControl(true))
	var invocations int
	registry := newRegistry(t, weatherTool(&invocations))

	res, err := o.Run(context.Background(), session, tl.TextPrompt("weather?"), registry)
	require.NoError(t, err)
	assert.Equal(t, tl.StateSuspendedForCaller, res.State)
	assert.Zero(t, invocations)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, res.Pending, session.Pending())

	result := tl.NewToolResult(res.Pending[0], "63°F and sunny")
	res, err = o.Run(context.Background(), session, tl.ResumePrompt(result), registry)
	require.NoError(t, err)
	assert.Equal(t, tl.StateComplete, res.State)
	assert.Equal(t, baltimoreAnswer, res.Text())
	assert.Zero(t, invocations)
	assert.Equal(t, 1, res.TurnCount)
	assert.Empty(t, session.Pending())

	require.Len(t, res.History, 4)
	assert.Equal(t, tl.RoleTool, res.History[2].Role)
	assert.Equal(t, "call-1", res.History[2].ToolResults()[0].Ref)
}

func TestRun_ExplicitControlRunOption(t *testing.T) {
	ep := scripted.New(scripted.ToolRequests(request("getWeather", "call-1", `{"location":"Baltimore"}`)))
	o := newOrchestrator(t, ep)
	var invocations int

	res, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("weather?"),
		newRegistry(t, weatherTool(&invocations)), tl.WithExplicitControl(true))
	require.NoError(t, err)
	assert.Equal(t, tl.StateSuspended, res.State)
	assert.Zero(t, invocations)
}

func TestRun_ResumeRejectsMismatchedResults(t *testing.T) {
	suspend := func(t *testing.T) (*tl.Orchestrator, *tl.Session, []*tl.ToolRequestPart) {
		ep := scripted.New(scripted.ToolRequests(
			request("getWeather", "call-1", `{"location":"Baltimore"}`),
			request("getWeather", "call-2", `{"location":"Boston"}`),
		), scripted.Text("done"))
		o := newOrchestrator(t, ep)
		s := tl.NewSession(tl.WithSessionExplicitControl(true))
		res, err := o.Run(context.Background(), s, tl.TextPrompt("weather?"), nil)
		require.NoError(t, err)
		return o, s, res.Pending
	}

	tests := []struct {
		name    string
		results func(p []*tl.ToolRequestPart) []*tl.ToolResultPart
	}{
		{"missing result", func(p []*tl.ToolRequestPart) []*tl.ToolResultPart {
			return []*tl.ToolResultPart{tl.NewToolResult(p[0], "x")}
		}},
		{"unknown ref", func(p []*tl.ToolRequestPart) []*tl.ToolResultPart {
			return []*tl.ToolResultPart{tl.NewToolResult(p[0], "x"), {Name: "getWeather", Ref: "call-9", Output: "y"}}
		}},
		{"duplicate result", func(p []*tl.ToolRequestPart) []*tl.ToolResultPart {
			return []*tl.ToolResultPart{tl.NewToolResult(p[0], "x"), tl.NewToolResult(p[0], "x"), tl.NewToolResult(p[1], "y")}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, s, pending := suspend(t)
			_, err := o.Run(context.Background(), s, tl.ResumePrompt(tt.results(pending)...), nil)
			assert.ErrorIs(t, err, tl.ErrMalformedReferenceID)
			assert.Len(t, s.History(), 2)
		})
	}
}

func TestRun_ResumeReordersResults(t *testing.T) {
	ep := scripted.New(scripted.ToolRequests(
		request("getWeather", "call-1", `{"location":"Baltimore"}`),
		request("getWeather", "call-2", `{"location":"Boston"}`),
	), scripted.Text("done"))
	o := newOrchestrator(t, ep)
	s := tl.NewSession(tl.WithSessionExplicitControl(true))
	res, err := o.Run(context.Background(), s, tl.TextPrompt("weather?"), nil)
	require.NoError(t, err)

	res, err = o.Run(context.Background(), s, tl.ResumePrompt(
		tl.NewToolResult(res.Pending[1], "cold"),
		tl.NewToolResult(res.Pending[0], "warm"),
	), nil)
	require.NoError(t, err)

	results := toolTurns(res.History)[0].ToolResults()
	assert.Equal(t, "call-1", results[0].Ref)
	assert.Equal(t, "call-2", results[1].Ref)
}

func TestRun_PendingSessionRejectsTextPrompt(t *testing.T) {
	ep := scripted.New(scripted.ToolRequests(request("getWeather", "call-1", `{}`)))
	o := newOrchestrator(t, ep)
	s := tl.NewSession(tl.WithSessionExplicitControl(true))
	_, err := o.Run(context.Background(), s, tl.TextPrompt("weather?"), nil)
	require.NoError(t, err)

	_, err = o.Run(context.Background(), s, tl.TextPrompt("never mind"), nil)
	assert.ErrorIs(t, err, tl.ErrInvalidPrompt)

	_, err = o.Run(context.Background(), tl.NewSession(), tl.ResumePrompt(), nil)
	assert.ErrorIs(t, err, tl.ErrInvalidPrompt)
}

func TestRun_DuplicateReferenceIDIsFatal(t *testing.T) {
	ep := scripted.New(scripted.ToolRequests(
		request("getWeather", "same", `{"location":"Baltimore"}`),
		request("getWeather", "same", `{"location":"Boston"}`),
	))
	o := newOrchestrator(t, ep)
	var invocations int

	_, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("weather?"), newRegistry(t, weatherTool(&invocations)))
	require.Error(t, err)
	assert.ErrorIs(t, err, tl.ErrDuplicateReferenceID)
	assert.ErrorIs(t, err, tl.ErrMalformedReferenceID)
	assert.Zero(t, invocations)
}

func TestRun_SynthesizesMissingReferenceIDs(t *testing.T) {
	ep := scripted.New(
		scripted.ToolRequests(request("getWeather", "", `{"location":"Baltimore"}`)),
		scripted.Text("done"),
	)
	o := newOrchestrator(t, ep)

	res, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("weather?"), newRegistry(t, weatherTool(nil)))
	require.NoError(t, err)

	req := res.History[1].ToolRequests()[0]
	assert.True(t, strings.HasPrefix(req.Ref, "ref-"), req.Ref)
	assert.Equal(t, req.Ref, res.History[2].ToolResults()[0].Ref)
}

func TestRun_ToolFailuresAreAbsorbed(t *testing.T) {
	failing := tl.NewTool("flaky", "", nil, func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("database password rejected")
	})
	panicking := tl.NewTool("boom", "", nil, func(context.Context, json.RawMessage) (any, error) {
		panic("nil map")
	})

	for _, detailed := range []bool{false, true} {
		t.Run(fmt.Sprintf("detailed=%v", detailed), func(t *testing.T) {
			ep := scripted.New(
				scripted.ToolRequests(request("flaky", "call-1", ""), request("boom", "call-2", "")),
				scripted.Text("sorry"),
			)
			o := newOrchestrator(t, ep, func(c *tl.Config) { c.IncludeDetailedErrors = detailed })

			res, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("go"), newRegistry(t, failing, panicking))
			require.NoError(t, err)
			assert.Equal(t, tl.StateComplete, res.State)

			results := toolTurns(res.History)[0].ToolResults()
			require.Len(t, results, 2)
			for _, r := range results {
				require.True(t, r.Failed())
				assert.Equal(t, tl.FailureExecution, r.Error.Code)
			}
			if detailed {
				assert.Contains(t, results[0].Error.Message, "database password rejected")
				assert.Contains(t, results[1].Error.Message, "panic")
			} else {
				assert.Equal(t, "error invoking tool", results[0].Error.Message)
			}
		})
	}
}

func TestRun_InvalidToolInput(t *testing.T) {
	ep := scripted.New(
		scripted.ToolRequests(request("getWeather", "call-1", `{"city":"Baltimore"}`)),
		scripted.Text("let me retry"),
	)
	o := newOrchestrator(t, ep)
	var invocations int

	res, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("weather?"), newRegistry(t, weatherTool(&invocations)))
	require.NoError(t, err)
	assert.Zero(t, invocations)

	result := toolTurns(res.History)[0].ToolResults()[0]
	require.True(t, result.Failed())
	assert.Equal(t, tl.FailureInvalidInput, result.Error.Code)
}

func TestRun_EndpointErrorsAreFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unavailable", fmt.Errorf("%w: 503", tl.ErrEndpointUnavailable), tl.ErrEndpointUnavailable},
		{"invalid request", tl.ErrInvalidRequest, tl.ErrInvalidRequest},
		{"auth", tl.ErrAuth, tl.ErrInvalidRequest},
		{"unclassified", errors.New("connection reset"), tl.ErrEndpointUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrchestrator(t, scripted.New(scripted.Fail(tt.err)))
			res, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("hi"), nil)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tl.ErrEndpoint)

			var oe *tl.OrchestrationError
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, "invoke endpoint", oe.Op)
			assert.Equal(t, 1, oe.TurnCount)
			require.Len(t, oe.History, 1)
			assert.Equal(t, tl.RoleUser, oe.History[0].Role)
		})
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ep := scripted.New(scripted.Text("never"))
	o := newOrchestrator(t, ep)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.Run(ctx, tl.NewSession(), tl.TextPrompt("hi"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, tl.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, tl.StateCancelled, res.State)
	assert.Empty(t, ep.Calls())
}

func TestRun_CancelledDuringModelCall(t *testing.T) {
	ep := tl.EndpointFunc(func(ctx context.Context, _ []tl.Turn, _ []tl.ToolDeclaration, _ *tl.GenerationConfig) (*tl.ModelResponse, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", tl.ErrEndpointUnavailable, ctx.Err())
	})
	o := newOrchestrator(t, ep)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := o.Run(ctx, tl.NewSession(), tl.TextPrompt("hi"), nil)
	assert.ErrorIs(t, err, tl.ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Equal(t, tl.StateCancelled, res.State)
	assert.Equal(t, 1, res.TurnCount)
}

func TestRun_CancelledDuringDispatch(t *testing.T) {
	started := make(chan struct{})
	block := tl.NewTool("block", "", nil, func(ctx context.Context, _ json.RawMessage) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ep := scripted.New(scripted.ToolRequests(request("block", "call-1", "")), scripted.Text("never"))
	o := newOrchestrator(t, ep)
	session := tl.NewSession()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res, err := o.Run(ctx, session, tl.TextPrompt("go"), newRegistry(t, block))
	assert.ErrorIs(t, err, tl.ErrCancelled)
	require.NotNil(t, res)
	assert.Equal(t, tl.StateCancelled, res.State)
	assert.NotEqual(t, tl.StateTruncated, res.State)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, "call-1", res.Pending[0].Ref)
	assert.Empty(t, toolTurns(session.History()))
	assert.Len(t, session.Pending(), 1)
}

func TestRun_ConcurrentRunIsRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	ep := tl.EndpointFunc(func(ctx context.Context, _ []tl.Turn, _ []tl.ToolDeclaration, _ *tl.GenerationConfig) (*tl.ModelResponse, error) {
		close(entered)
		<-release
		return tl.NewFinalResponse("done"), nil
	})
	o := newOrchestrator(t, ep)
	session := tl.NewSession()

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), session, tl.TextPrompt("first"), nil)
		done <- err
	}()
	<-entered

	_, err := o.Run(context.Background(), session, tl.TextPrompt("second"), nil)
	assert.ErrorIs(t, err, tl.ErrSessionBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, session.History(), 2)
}

func TestRun_NestedRunIsFatal(t *testing.T) {
	var o *tl.Orchestrator
	nested := tl.NewTool("nested", "", nil, func(ctx context.Context, _ json.RawMessage) (any, error) {
		_, err := o.Run(ctx, tl.NewSession(), tl.TextPrompt("inner"), nil)
		return nil, err
	})
	ep := scripted.New(scripted.ToolRequests(request("nested", "call-1", "")), scripted.Text("never"))
	o = newOrchestrator(t, ep)

	res, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("outer"), newRegistry(t, nested))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, tl.ErrNestedToolCall)
	assert.Len(t, ep.Calls(), 1)
}

func TestRun_MalformedSession(t *testing.T) {
	o := newOrchestrator(t, scripted.New(scripted.Text("hi")))

	_, err := o.Run(context.Background(), tl.NewSession(tl.WithSessionMaxTurns(0)), tl.TextPrompt("hi"), nil)
	assert.ErrorIs(t, err, tl.ErrMalformedSession)

	bad := tl.NewSession(tl.WithSessionHistory(tl.Turn{Role: "assistant"}))
	_, err = o.Run(context.Background(), bad, tl.TextPrompt("hi"), nil)
	assert.ErrorIs(t, err, tl.ErrMalformedSession)

	_, err = o.Run(context.Background(), nil, tl.TextPrompt("hi"), nil)
	assert.ErrorIs(t, err, tl.ErrMalformedSession)
}

func TestRun_InvalidPrompts(t *testing.T) {
	o := newOrchestrator(t, scripted.New(scripted.Text("hi")))

	tests := []struct {
		name   string
		prompt tl.Prompt
	}{
		{"empty parts", tl.PartsPrompt()},
		{"tool request part", tl.PartsPrompt(request("getWeather", "r", ""))},
		{"history with open requests", tl.HistoryPrompt(tl.NewUserTurn("hi"), tl.NewToolRequestTurn(request("getWeather", "r", "")))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Run(context.Background(), tl.NewSession(), tt.prompt, nil)
			assert.ErrorIs(t, err, tl.ErrInvalidPrompt)
		})
	}
}

func TestRun_RejectsUnpairedToolResults(t *testing.T) {
	orphan := tl.NewToolTurn(&tl.ToolResultPart{Name: "getWeather", Ref: "never-requested", Output: "63°F"})
	req := request("getWeather", "call-1", `{"location":"Baltimore"}`)

	tests := []struct {
		name    string
		session *tl.Session
		prompt  tl.Prompt
	}{
		{
			name:    "history prompt result without request",
			session: tl.NewSession(),
			prompt:  tl.HistoryPrompt(tl.NewUserTurn("hi"), orphan),
		},
		{
			name:    "history prompt result for another ref",
			session: tl.NewSession(),
			prompt: tl.HistoryPrompt(
				tl.NewUserTurn("hi"),
				tl.NewToolRequestTurn(req),
				tl.NewToolTurn(&tl.ToolResultPart{Name: "getWeather", Ref: "call-2", Output: "63°F"}),
			),
		},
		{
			name:    "history prompt missing a result",
			session: tl.NewSession(),
			prompt: tl.HistoryPrompt(
				tl.NewUserTurn("hi"),
				tl.NewToolRequestTurn(req, request("getTime", "call-2", "")),
				tl.NewToolTurn(tl.NewToolResult(req, "63°F")),
			),
		},
		{
			name:    "seeded session history",
			session: tl.NewSession(tl.WithSessionHistory(tl.NewUserTurn("hi"), orphan)),
			prompt:  tl.TextPrompt("and now?"),
		},
		{
			name:    "history prompt after a user turn",
			session: tl.NewSession(tl.WithSessionHistory(tl.NewUserTurn("hi"))),
			prompt:  tl.HistoryPrompt(orphan),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := scripted.New(scripted.Text("hi"))
			o := newOrchestrator(t, ep)
			res, err := o.Run(context.Background(), tt.session, tt.prompt, nil)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tl.ErrMalformedReferenceID)
			assert.Empty(t, ep.Calls())
		})
	}
}

func TestRun_HistoryPromptWithAnsweredRequests(t *testing.T) {
	ep := scripted.New(scripted.Text("It is 63°F."))
	o := newOrchestrator(t, ep)
	req := request("getWeather", "call-1", `{"location":"Baltimore"}`)

	res, err := o.Run(context.Background(), tl.NewSession(), tl.HistoryPrompt(
		tl.NewUserTurn("weather?"),
		tl.NewToolRequestTurn(req),
		tl.NewToolTurn(tl.NewToolResult(req, "63°F and sunny")),
	), nil)
	require.NoError(t, err)
	assert.Equal(t, tl.StateComplete, res.State)
	assert.Len(t, res.History, 4)
}

func TestRun_ResultDoesNotAliasSession(t *testing.T) {
	ep := scripted.New(
		scripted.ToolRequests(request("getWeather", "call-1", `{"location":"Baltimore"}`)),
		scripted.Text(baltimoreAnswer),
	)
	o := newOrchestrator(t, ep)
	session := tl.NewSession(tl.WithSessionExplicitControl(true))

	res, err := o.Run(context.Background(), session, tl.TextPrompt("weather?"), nil)
	require.NoError(t, err)
	require.Equal(t, tl.StateSuspended, res.State)
	require.Len(t, res.Pending, 1)

	res.Pending[0].Ref = "mutated"
	res.Pending[0].Input[2] = 'X'
	res.History[0].Parts[0].(*tl.TextPart).Text = "rewritten"
	session.History()[1].ToolRequests()[0].Name = "renamed"
	session.Pending()[0].Ref = "also-mutated"

	history := session.History()
	stored := history[1].ToolRequests()[0]
	assert.Equal(t, "call-1", stored.Ref)
	assert.Equal(t, "getWeather", stored.Name)
	assert.JSONEq(t, `{"location":"Baltimore"}`, string(stored.Input))
	assert.Equal(t, "weather?", history[0].Text())

	res, err = o.Run(context.Background(), session, tl.ResumePrompt(
		&tl.ToolResultPart{Ref: "call-1", Output: "63°F and sunny"},
	), nil)
	require.NoError(t, err)
	assert.Equal(t, tl.StateComplete, res.State)
}

func TestRun_HistoryAndPartsPrompts(t *testing.T) {
	ep := scripted.New(scripted.Text("a cat"), scripted.Text("still a cat"))
	o := newOrchestrator(t, ep)
	session := tl.NewSession()

	res, err := o.Run(context.Background(), session, tl.PartsPrompt(
		&tl.TextPart{Text: "What is in this picture?"},
		&tl.MediaPart{URI: "https://example.com/cat.png", MediaType: "image/png"},
	), nil)
	require.NoError(t, err)
	assert.Equal(t, "a cat", res.Text())

	res, err = o.Run(context.Background(), session, tl.HistoryPrompt(tl.NewUserTurn("Are you sure?")), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TurnCount)
	assert.Len(t, res.History, 4)

	calls := ep.Calls()
	media, ok := calls[0].History[0].Parts[1].(*tl.MediaPart)
	require.True(t, ok)
	assert.Equal(t, "image/png", media.MediaType)
}

func TestRun_TurnCountResetsPerRun(t *testing.T) {
	ep := scripted.New(
		scripted.ToolRequests(request("getWeather", "call-1", `{"location":"Baltimore"}`)),
		scripted.Text("first"),
		scripted.Text("second"),
	)
	o := newOrchestrator(t, ep)
	session := tl.NewSession(tl.WithSessionMaxTurns(2))
	registry := newRegistry(t, weatherTool(nil))

	res, err := o.Run(context.Background(), session, tl.TextPrompt("one"), registry)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TurnCount)

	res, err = o.Run(context.Background(), session, tl.TextPrompt("two"), registry)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TurnCount)
	assert.Equal(t, tl.StateComplete, res.State)
}

func TestRun_MaxTurnsRunOption(t *testing.T) {
	ep := scripted.New(scripted.ToolRequests(request("getWeather", "call-1", `{"location":"Baltimore"}`)))
	o := newOrchestrator(t, ep)
	session := tl.NewSession()

	res, err := o.Run(context.Background(), session, tl.TextPrompt("weather?"), newRegistry(t, weatherTool(nil)), tl.WithMaxTurns(1))
	require.NoError(t, err)
	assert.Equal(t, tl.StateTruncated, res.State)
	assert.Equal(t, 1, session.MaxTurns())
}

func TestRun_UsageAccumulates(t *testing.T) {
	first := tl.NewToolRequestResponse(request("getWeather", "call-1", `{"location":"Baltimore"}`))
	first.Usage = tl.UsageDetails{InputTokens: 10, OutputTokens: 2, TotalTokens: 12}
	second := tl.NewFinalResponse("done")
	second.Usage = tl.UsageDetails{InputTokens: 20, OutputTokens: 5, TotalTokens: 25}

	o := newOrchestrator(t, scripted.New(scripted.Step{Response: first}, scripted.Step{Response: second}))
	res, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("weather?"), newRegistry(t, weatherTool(nil)))
	require.NoError(t, err)
	assert.Equal(t, tl.UsageDetails{InputTokens: 30, OutputTokens: 7, TotalTokens: 37}, res.Usage)
}

func TestRun_ObserverSeesEveryStep(t *testing.T) {
	ep := scripted.New(
		scripted.ToolRequests(request("getWeather", "call-1", `{"location":"Baltimore"}`)),
		scripted.Text(baltimoreAnswer),
	)
	o := newOrchestrator(t, ep)

	var trace []string
	observer := func(ev tl.Event) {
		switch ev.Kind {
		case tl.EventTurnAppended:
			trace = append(trace, "turn:"+string(ev.Turn.Role))
		case tl.EventStateChanged:
			trace = append(trace, "state:"+string(ev.State))
		}
	}

	_, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("weather?"), newRegistry(t, weatherTool(nil)), tl.WithObserver(observer))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"turn:user",
		"state:AWAITING_MODEL",
		"turn:model",
		"state:DISPATCHING_TOOLS",
		"turn:tool",
		"state:AWAITING_MODEL",
		"turn:model",
		"state:COMPLETE",
	}, trace)
}

func TestRun_GenerationConfigIsMerged(t *testing.T) {
	ep := scripted.New(scripted.Text("ok"))
	temp := 0.2
	o := newOrchestrator(t, ep, func(c *tl.Config) {
		c.Generation = &tl.GenerationConfig{ModelID: "base-model", Instructions: "You are helpful."}
	})

	_, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("hi"), nil,
		tl.WithGenerationConfig(&tl.GenerationConfig{Temperature: &temp, Instructions: "Answer in French."}))
	require.NoError(t, err)

	cfg := ep.Calls()[0].Config
	require.NotNil(t, cfg)
	assert.Equal(t, "base-model", cfg.ModelID)
	assert.Equal(t, "You are helpful.\nAnswer in French.", cfg.Instructions)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.2, *cfg.Temperature, 1e-9)
}

type retrievalProvider struct {
	tl.NoOpContextProvider
	tool    tl.Tool
	invoked *tl.Result
}

func (p *retrievalProvider) Invoking(_ context.Context, _ string, _ []tl.Turn) (*tl.InvocationContext, error) {
	return &tl.InvocationContext{Instructions: "Cite the handbook.", Tools: []tl.Tool{p.tool}}, nil
}

func (p *retrievalProvider) Invoked(_ context.Context, _ string, res *tl.Result) error {
	p.invoked = res
	return nil
}

func TestRun_ContextProvider(t *testing.T) {
	lookup := tl.NewTool("searchHandbook", "Search the handbook", nil, func(context.Context, json.RawMessage) (any, error) {
		return "page 12", nil
	})
	provider := &retrievalProvider{tool: lookup}
	ep := scripted.New(
		scripted.ToolRequests(request("searchHandbook", "call-1", "")),
		scripted.Text("See page 12."),
	)
	o := newOrchestrator(t, ep, func(c *tl.Config) { c.ContextProvider = provider })

	res, err := o.Run(context.Background(), tl.NewSession(), tl.TextPrompt("vacation policy?"), newRegistry(t, weatherTool(nil)))
	require.NoError(t, err)
	assert.Equal(t, tl.StateComplete, res.State)
	assert.Equal(t, "page 12", toolTurns(res.History)[0].ToolResults()[0].Output)

	call := ep.Calls()[0]
	assert.Equal(t, "Cite the handbook.", call.Config.Instructions)
	require.Len(t, call.Tools, 2)
	assert.Equal(t, "getWeather", call.Tools[0].Name)
	assert.Equal(t, "searchHandbook", call.Tools[1].Name)
	assert.Same(t, res, provider.invoked)
}

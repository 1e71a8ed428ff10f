// Copyright (c) Microsoft. All rights reserved.

package toolloop

// ModelResponse is one reply from a [ModelEndpoint]. The reply is a model
// [Turn]; it is a tool-request response when the turn carries at least one
// [ToolRequestPart].
type ModelResponse struct {
	Turn         Turn
	ResponseID   string
	ModelID      string
	FinishReason FinishReason
	Usage        UsageDetails

	// Raw holds the original provider-specific representation, if any.
	Raw any
}

// NewFinalResponse builds a final-answer response with a single text part.
func NewFinalResponse(text string) *ModelResponse {
	return &ModelResponse{Turn: NewModelTurn(text), FinishReason: FinishReasonStop}
}

// NewToolRequestResponse builds a response requesting the given tools.
func NewToolRequestResponse(reqs ...*ToolRequestPart) *ModelResponse {
	return &ModelResponse{Turn: NewToolRequestTurn(reqs...), FinishReason: FinishReasonToolCalls}
}

// Kind reports whether the response is final or requests tools.
func (r *ModelResponse) Kind() ResponseKind {
	if len(r.Turn.ToolRequests()) > 0 {
		return ResponseToolRequests
	}
	return ResponseFinal
}

// Text returns the concatenated text of the response turn.
func (r *ModelResponse) Text() string { return r.Turn.Text() }

// Requests returns the tool requests of the response turn.
func (r *ModelResponse) Requests() []*ToolRequestPart { return r.Turn.ToolRequests() }

// Result is the outcome of one [Orchestrator.Run] call.
type Result struct {
	SessionID string
	State     State

	// Answer is the last model turn received. For StateComplete it is the
	// final answer; for StateTruncated it is the partial answer.
	Answer *Turn

	// Pending holds tool requests the caller must resolve before resuming:
	// set for StateSuspended, and for StateTruncated and StateCancelled when
	// the run stopped with requests outstanding.
	Pending []*ToolRequestPart

	TurnCount int
	Usage     UsageDetails

	// History is a snapshot of the session history when the run returned.
	History []Turn
}

// Text returns the text of the answer turn, or "" if there is none.
func (r *Result) Text() string {
	if r.Answer == nil {
		return ""
	}
	return r.Answer.Text()
}

// Partial reports whether the answer is incomplete.
func (r *Result) Partial() bool { return r.State == StateTruncated }

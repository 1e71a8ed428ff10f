// Copyright (c) Microsoft. All rights reserved.

package toolloop

// State is a state of the orchestration loop.
type State string

const (
	StateAwaitingModel      State = "AWAITING_MODEL"
	StateDispatchingTools   State = "DISPATCHING_TOOLS"
	StateSuspendedForCaller State = "SUSPENDED_FOR_CALLER"
	StateComplete           State = "COMPLETE"
	StateTruncated          State = "TRUNCATED"
	StateCancelled          State = "CANCELLED"
)

// StateSuspended is shorthand for [StateSuspendedForCaller].
const StateSuspended = StateSuspendedForCaller

// Terminal reports whether a Run returns in state s.
func (s State) Terminal() bool {
	switch s {
	case StateSuspendedForCaller, StateComplete, StateTruncated, StateCancelled:
		return true
	}
	return false
}

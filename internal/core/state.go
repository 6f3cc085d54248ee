package core

import (
	"slices"
	"strings"
)

// transitions lists the allowed successor states of each state.
// failed is reachable from every non-final state; retry re-enters pending.
var transitions = map[BatchState][]BatchState{
	StatePending:          {StateStaged, StateFailed},
	StateStaged:           {StateValidated, StateFailed},
	StateValidated:        {StateAwaitingApproval, StateApproved, StateFailed},
	StateAwaitingApproval: {StateApproved, StateValidated, StateFailed},
	StateApproved:         {StateCommitted, StatePartialSuccess, StateFailed},
	StateFailed:           {StatePending},
}

// CanTransition reports whether from -> to is a legal batch transition.
func CanTransition(from, to BatchState) bool {
	return slices.Contains(transitions[from], to)
}

// Cause strings recorded on failed batches.
const (
	CauseNoDataRows      = "no data rows"
	CauseNoValidRows     = "no valid rows"
	CauseUnresolved      = "file format unresolved"
	CauseTimeout         = "processing timed out"
	CauseRetryExhausted  = "retries exhausted"
	rejectedAtCommitText = "rejected at commit"
)

// GateState decides where a validated batch goes next. Batches without any
// failed row need no review; batches without any valid row have nothing to commit.
func GateState(rowsTotal, rowsFailed int) (BatchState, string) {
	switch {
	case rowsTotal-rowsFailed <= 0:
		return StateFailed, CauseNoValidRows
	case rowsFailed == 0:
		return StateApproved, ""
	default:
		return StateAwaitingApproval, ""
	}
}

// CommitState is the final state of a commit in which rejected rows were
// refused by storage.
func CommitState(rejected int) BatchState {
	if rejected > 0 {
		return StatePartialSuccess
	}
	return StateCommitted
}

// CauseKind classifies the cause of a failed batch. Causes outside the
// taxonomy, such as "no valid rows", have no kind.
func CauseKind(state BatchState, cause string) ErrorKind {
	if state != StateFailed {
		return ""
	}
	switch {
	case cause == CauseUnresolved:
		return KindFormatUnresolved
	case cause == CauseTimeout, strings.HasPrefix(cause, CauseRetryExhausted):
		return KindInfrastructureFailure
	}
	return ""
}

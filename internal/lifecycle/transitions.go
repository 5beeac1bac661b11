package lifecycle

import "github.com/tradeassist/signal-engine/internal/model"

// transitions lists the legal edges of the signal state machine. It is the
// only place that decides whether a status change may happen.
var transitions = map[model.Status][]model.Status{
	model.StatusReceived: {model.StatusParsed, model.StatusCancelled, model.StatusFailed},
	model.StatusParsed:   {model.StatusQueued, model.StatusCancelled, model.StatusFailed},
	model.StatusQueued: {
		model.StatusPendingConfirmation, model.StatusWaitingForEntry, model.StatusExecuting,
		model.StatusCancelled, model.StatusFailed,
	},
	model.StatusPendingConfirmation: {
		model.StatusWaitingForEntry, model.StatusExecuting,
		model.StatusCancelled, model.StatusFailed,
	},
	// CLOSED from WAITING_FOR_ENTRY is only taken by the kill switch.
	model.StatusWaitingForEntry: {
		model.StatusExecuting, model.StatusExecuted,
		model.StatusCancelled, model.StatusFailed, model.StatusClosed,
	},
	model.StatusExecuting: {model.StatusExecuted, model.StatusCancelled, model.StatusFailed},
	model.StatusExecuted:  {model.StatusClosed},
}

// CanTransition reports whether a signal in from may move to to.
func CanTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s model.Status) []model.Status {
	return append([]model.Status(nil), transitions[s]...)
}

// HasOpenPosition reports whether a signal in s carries market exposure.
func HasOpenPosition(s model.Status) bool {
	return s == model.StatusExecuted
}

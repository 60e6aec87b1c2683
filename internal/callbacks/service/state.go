package service

import "callback_backend/internal/callbacks/repository"

// transitions is the complete edge set of the request state machine. A
// status update is only ever attempted along one of these edges; anything
// else is recorded as a stale event and discarded.
var transitions = map[repository.Status][]repository.Status{
	repository.StatusCreated: {
		repository.StatusCalling,
		repository.StatusSMSSentHours,
	},
	repository.StatusCalling: {
		repository.StatusBridged,
		repository.StatusSMSSentFallback,
		// failed is reached only through the expiry watchdog, when the
		// provider never delivers a terminal status.
		repository.StatusFailed,
	},
	repository.StatusBridged: {
		repository.StatusCompleted,
	},
}

// CanTransition reports whether the state machine permits moving from one
// status to another.
func CanTransition(from, to repository.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(s repository.Status) bool {
	return len(transitions[s]) == 0
}

// priorsFor returns every status from which the machine permits moving to
// the given status. Used as the expected-prior set of the repository CAS, so
// the stored state can only ever advance along edges of the table above.
func priorsFor(to repository.Status) []repository.Status {
	var priors []repository.Status
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				priors = append(priors, from)
			}
		}
	}
	return priors
}

package episode

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition marks a state transition whose precondition does not
// hold. It is surfaced to the caller and never retried automatically; the
// rejected attempt is still audited.
var ErrInvalidTransition = errors.New("invalid episode state transition")

// InvalidTransitionError carries enough context for a client to offer a
// correct next action.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s (allowed: %v)", e.From, e.To, AllowedFrom(e.From))
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// transitions defines the valid status transitions for a screening episode.
// discarded is reachable from every non-terminal state (administrative
// cancellation); rejected may be re-opened to analysis_ready for another
// analysis pass.
var transitions = map[Status][]Status{
	StatusCreated:          {StatusImagesPending, StatusDiscarded},
	StatusImagesPending:    {StatusAnalysisReady, StatusDiscarded},
	StatusAnalysisReady:    {StatusAnalysisComplete, StatusDiscarded},
	StatusAnalysisComplete: {StatusReviewPending, StatusDiscarded},
	StatusReviewPending:    {StatusFinalized, StatusRejected, StatusDiscarded},
	StatusRejected:         {StatusAnalysisReady, StatusDiscarded},
	StatusFinalized:        {},
	StatusDiscarded:        {},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the legal next states from the given status.
func AllowedFrom(from Status) []Status {
	return transitions[from]
}

// Terminal reports whether the status admits no further transitions.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

// ValidateTransition returns a typed error when from -> to is illegal.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

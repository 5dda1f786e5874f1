package transfer

import "strings"

// Reason explains why a call should be escalated to a human agent.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonExplicitRequest  Reason = "explicit_request"
	ReasonRepeatedFailure  Reason = "repeated_failure"
	ReasonLowConfidence    Reason = "low_confidence"
	ReasonMaxTurnsExceeded Reason = "max_turns_exceeded"
)

// Decision is recomputed per turn and never stored.
type Decision struct {
	ShouldTransfer bool
	Reason         Reason
}

// Engine decides whether a call must be escalated. It is a pure
// function of its inputs; evaluation has no side effects.
type Engine struct {
	phrases          []string
	failureThreshold int
	maxTurns         int
}

func NewEngine(phrases []string, failureThreshold, maxTurns int) *Engine {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if maxTurns <= 0 {
		maxTurns = 50
	}
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			lowered = append(lowered, p)
		}
	}
	return &Engine{
		phrases:          lowered,
		failureThreshold: failureThreshold,
		maxTurns:         maxTurns,
	}
}

// Evaluate applies the escalation rules in order, first match wins:
// explicit phrase, then repeated failures, then turn budget. totalTurns
// is the number of turns taken over the whole call, which may exceed
// the retained conversation window.
func (e *Engine) Evaluate(utterance string, totalTurns, consecutiveFailures int) Decision {
	lowered := strings.ToLower(utterance)
	for _, p := range e.phrases {
		if strings.Contains(lowered, p) {
			return Decision{ShouldTransfer: true, Reason: ReasonExplicitRequest}
		}
	}
	if consecutiveFailures >= e.failureThreshold {
		return Decision{ShouldTransfer: true, Reason: ReasonRepeatedFailure}
	}
	if totalTurns >= e.maxTurns {
		return Decision{ShouldTransfer: true, Reason: ReasonMaxTurnsExceeded}
	}
	return Decision{}
}

// Package dispatch defines the outcome of one poller tick.
package dispatch

import (
	"time"

	"github.com/barff/frankd/internal/readiness"
)

// Reason explains why a tick did not send anything, or why it failed.
type Reason string

const (
	ReasonBusy             Reason = "busy"
	ReasonInputPending     Reason = "input_pending"
	ReasonBackingOff       Reason = "backing_off"
	ReasonNothingNew       Reason = "nothing_new"
	ReasonNotConfigured    Reason = "not_configured"
	ReasonNoLabels         Reason = "no_labels"
	ReasonAllQueriesFailed Reason = "all_queries_failed"
	ReasonInjectFailed     Reason = "inject_failed"
	ReasonPanic            Reason = "panic"
)

// Outcome buckets a Result for counters.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// Result is the PollResult recorded after every tick.
type Result struct {
	Sent    bool   `json:"sent"`
	Skipped bool   `json:"skipped"`
	Reason  Reason `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`

	// Command is the prompt text (or its first line) that was injected.
	Command string `json:"command,omitempty"`
	// Issues lists the repo#number keys a dispatch covered.
	Issues []string `json:"issues,omitempty"`

	Readiness      *readiness.State `json:"readiness,omitempty"`
	BackoffSeconds int              `json:"backoff_seconds,omitempty"`
	At             time.Time        `json:"at"`
}

// Sent builds the result of a successful injection.
func Sent(command string, issues []string, rs readiness.State) Result {
	return Result{
		Sent:      true,
		Command:   command,
		Issues:    issues,
		Readiness: &rs,
		At:        time.Now(),
	}
}

// Skipped builds a non-error result for a tick that had nothing to do.
func Skipped(reason Reason) Result {
	return Result{Skipped: true, Reason: reason, At: time.Now()}
}

// NotReady maps a readiness snapshot that failed the gate to a skip result.
func NotReady(rs readiness.State) Result {
	r := Skipped(ReasonBusy)
	if rs.Idle && rs.InputPending {
		r.Reason = ReasonInputPending
	}
	r.Readiness = &rs
	return r
}

// Failed builds an error result.
func Failed(reason Reason, err error) Result {
	r := Result{Reason: reason, At: time.Now()}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Outcome classifies the result.
func (r Result) Outcome() Outcome {
	switch {
	case r.Sent:
		return OutcomeSent
	case r.Skipped:
		return OutcomeSkipped
	default:
		return OutcomeError
	}
}

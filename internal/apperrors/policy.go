package apperrors

import (
	"errors"
	"fmt"
)

// Step names one stage of webhook processing.
type Step string

const (
	StepNormalize       Step = "normalize"
	StepResolveTenant   Step = "resolve_tenant"
	StepSweepLeases     Step = "sweep_leases"
	StepUpsertCall      Step = "upsert_call"
	StepAcquireLease    Step = "acquire_lease"
	StepReleaseLease    Step = "release_lease"
	StepSelectPersona   Step = "select_persona"
	StepEnsureArtifact  Step = "ensure_artifact"
	StepToolCall        Step = "tool_call"
	StepFinalizeCall    Step = "finalize_call"
	StepPersistVerdict  Step = "persist_verdict"
	StepRecordRejection Step = "record_rejection"
	StepPublishEvent    Step = "publish_event"
)

// Disposition says what the webhook boundary does with a step failure.
type Disposition int

const (
	// Swallow logs the error and continues with the remaining steps.
	Swallow Disposition = iota
	// Ack stops processing and answers 200 with an ignored/rejected body.
	Ack
	// Propagate stops processing and answers with a 5xx.
	Propagate
)

func (d Disposition) String() string {
	switch d {
	case Swallow:
		return "swallow"
	case Ack:
		return "ack"
	case Propagate:
		return "propagate"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

var policy = map[Step]Disposition{
	StepNormalize:       Ack,
	StepResolveTenant:   Ack,
	StepSweepLeases:     Swallow,
	StepUpsertCall:      Propagate,
	StepAcquireLease:    Swallow,
	StepReleaseLease:    Swallow,
	StepSelectPersona:   Swallow,
	StepEnsureArtifact:  Swallow,
	StepToolCall:        Swallow,
	StepFinalizeCall:    Swallow,
	StepPersistVerdict:  Swallow,
	StepRecordRejection: Swallow,
	StepPublishEvent:    Swallow,
}

// PolicyFor returns the disposition for a failed step. A lease rejection is
// always acknowledged; an unknown step propagates. HandleWebhook maps a
// StepError returned by a handler through it.
func PolicyFor(step Step, err error) Disposition {
	if step == StepAcquireLease && (IsLeaseRejected(err) || IsWorkspaceInactiveError(err)) {
		return Ack
	}
	d, ok := policy[step]
	if !ok {
		return Propagate
	}
	return d
}

// StepError records a failure attributed to a pipeline step.
type StepError struct {
	Step Step
	Err  error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

// Unwrap returns the wrapped error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Disposition returns the policy decision for this failure.
func (e *StepError) Disposition() Disposition {
	return PolicyFor(e.Step, e.Err)
}

// NewStepError wraps err with the step that produced it. A nil err yields nil.
func NewStepError(step Step, err error) *StepError {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// IsLeaseRejected checks if the error is or wraps ErrLeaseRejected.
func IsLeaseRejected(err error) bool {
	return errors.Is(err, ErrLeaseRejected)
}

package completion

import (
	"github.com/denkuservices/denku-mvp-sub000/internal/normalizer"
)

const (
	GuardrailMissingContact = "missing_contact"
	GuardrailAbuseSuspected = "abuse_suspected"
)

// GuardrailInput is the call context guardrails inspect.
type GuardrailInput struct {
	CallerPhone *string
	Region      string
	HasArtifact bool
	// AbuseReason is the latest anomaly flag for the caller, empty if none.
	AbuseReason string
}

// GuardrailResult is the outcome of one check.
type GuardrailResult struct {
	Name   string
	Fired  bool
	Detail string
}

// Guardrail inspects a finalized call. A fired guardrail forces the verdict
// to partial.
type Guardrail func(in GuardrailInput) GuardrailResult

// DefaultGuardrails returns the checks run at finalize.
func DefaultGuardrails() []Guardrail {
	return []Guardrail{MissingContact, AbuseSuspected}
}

// Run evaluates every guardrail.
func Run(in GuardrailInput, guards ...Guardrail) []GuardrailResult {
	out := make([]GuardrailResult, 0, len(guards))
	for _, g := range guards {
		out = append(out, g(in))
	}
	return out
}

// MissingContact fires when an artifact exists but nobody can be called back.
func MissingContact(in GuardrailInput) GuardrailResult {
	res := GuardrailResult{Name: GuardrailMissingContact}
	if !in.HasArtifact {
		return res
	}
	switch {
	case in.CallerPhone == nil || *in.CallerPhone == "":
		res.Fired, res.Detail = true, "no caller number"
	case !normalizer.IsValidPhone(*in.CallerPhone, in.Region):
		res.Fired, res.Detail = true, "caller number is not valid"
	}
	return res
}

// AbuseSuspected fires when the anomaly worker has flagged the caller.
func AbuseSuspected(in GuardrailInput) GuardrailResult {
	return GuardrailResult{Name: GuardrailAbuseSuspected, Fired: in.AbuseReason != "", Detail: in.AbuseReason}
}

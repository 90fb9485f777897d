// Package completion derives the terminal verdict on a call from its timing,
// transcript and the artifacts it produced.
package completion

import (
	"strings"
	"unicode"

	"github.com/denkuservices/denku-mvp-sub000/internal/model"
)

const (
	silentMaxSeconds    = 8
	nearEmptyMaxSeconds = 15
	nearEmptyMinChars   = 20
	shortCallSeconds    = 30
	fallbackSeconds     = 15
)

// Rule names which decision produced a verdict.
const (
	RuleSilent         = "silent"
	RuleNearEmpty      = "near_empty"
	RuleShortOrCut     = "short_or_truncated"
	RuleSystemArtifact = "system_artifact_only"
	RuleToolInvoked    = "tool_invoked"
	RuleLongDialogue   = "long_dialogue"
	RuleModelArtifact  = "model_artifact"
	RuleFallbackLong   = "fallback_long"
	RuleFallbackShort  = "fallback_short"
	RuleGuardrail      = "guardrail"
)

// Input is everything the inference looks at.
//
// HasSystemArtifact and HasModelArtifact describe artifacts that existed
// before the guarantee ran for this verdict. ArtifactEnsured reports that the
// guarantee left an artifact in place; it only feeds the final check.
// ArtifactRequired marks a call that should have produced an artifact, so
// completed is not kept when none exists.
type Input struct {
	DurationSeconds    int
	UserTurns          int
	Transcript         string
	AgentLastUtterance string
	ToolInvoked        bool
	HasSystemArtifact  bool
	HasModelArtifact   bool
	ArtifactEnsured    bool
	ArtifactRequired   bool
	Guardrails         []GuardrailResult
}

// HasArtifact reports whether any ticket or appointment exists.
func (in Input) HasArtifact() bool {
	return in.HasSystemArtifact || in.HasModelArtifact || in.ArtifactEnsured
}

// Verdict is the inferred completion state. When Corrected is set, From holds
// the state the rules chose before the artifact check overrode it.
type Verdict struct {
	State     model.CompletionState
	Rule      string
	Corrected bool
	From      model.CompletionState
}

// Infer applies the decision rules in order, then the guardrail override,
// then the check that a partial call has something to show for it.
func Infer(in Input) Verdict {
	v := decide(in)

	for _, g := range in.Guardrails {
		if g.Fired {
			v = Verdict{State: model.CompletionPartial, Rule: RuleGuardrail + ":" + g.Name}
			break
		}
	}

	from := model.CompletionPartial
	if v.State == model.CompletionCompleted && in.ArtifactRequired && !in.HasArtifact() {
		from = model.CompletionCompleted
		v.State = model.CompletionPartial
	}

	if v.State == model.CompletionPartial && !in.HasArtifact() {
		v.Corrected = true
		v.From = from
		v.State = model.CompletionAbandoned
	}
	return v
}

func decide(in Input) Verdict {
	d, turns := in.DurationSeconds, in.UserTurns
	truncated := IsTruncated(in.AgentLastUtterance)

	switch {
	case d <= silentMaxSeconds && turns == 0:
		return Verdict{State: model.CompletionAbandoned, Rule: RuleSilent}
	case NearEmpty(in.Transcript) && d <= nearEmptyMaxSeconds:
		return Verdict{State: model.CompletionAbandoned, Rule: RuleNearEmpty}
	}

	if turns >= 1 {
		switch {
		case d < shortCallSeconds || truncated:
			return Verdict{State: model.CompletionPartial, Rule: RuleShortOrCut}
		case !in.ToolInvoked && in.HasSystemArtifact:
			return Verdict{State: model.CompletionPartial, Rule: RuleSystemArtifact}
		}
	}

	switch {
	case in.ToolInvoked:
		return Verdict{State: model.CompletionCompleted, Rule: RuleToolInvoked}
	case d >= shortCallSeconds && turns >= 2 && !truncated:
		return Verdict{State: model.CompletionCompleted, Rule: RuleLongDialogue}
	case in.HasModelArtifact:
		return Verdict{State: model.CompletionCompleted, Rule: RuleModelArtifact}
	}

	if d >= fallbackSeconds {
		return Verdict{State: model.CompletionCompleted, Rule: RuleFallbackLong}
	}
	return Verdict{State: model.CompletionPartial, Rule: RuleFallbackShort}
}

// NearEmpty reports whether a transcript has fewer than 20 non-space characters.
func NearEmpty(transcript string) bool {
	n := 0
	for _, r := range transcript {
		if !unicode.IsSpace(r) {
			n++
			if n >= nearEmptyMinChars {
				return false
			}
		}
	}
	return true
}

var danglingWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "so": {}, "because": {},
}

// IsTruncated reports whether the agent's last utterance looks cut off: it
// trails off with "...", ends on a conjunction or lacks terminal punctuation.
// An empty utterance is not truncated.
func IsTruncated(utterance string) bool {
	s := strings.TrimSpace(utterance)
	if s == "" {
		return false
	}
	if strings.HasSuffix(s, "...") {
		return true
	}

	fields := strings.Fields(s)
	last := strings.ToLower(strings.TrimFunc(fields[len(fields)-1], func(r rune) bool {
		return !unicode.IsLetter(r)
	}))
	if _, ok := danglingWords[last]; ok {
		return true
	}

	body := strings.TrimRightFunc(s, isClosingQuote)
	if body == "" {
		return true
	}
	switch lastRune(body) {
	case '.', '!', '?', '…':
		return false
	}
	return true
}

func isClosingQuote(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', '»', ')':
		return true
	}
	return false
}

func lastRune(s string) rune {
	r := []rune(s)
	return r[len(r)-1]
}

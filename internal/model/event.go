package model

import (
	"strings"
	"time"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
)

// EventKind is the normalized type of a provider webhook event.
type EventKind string

const (
	KindStatusUpdate     EventKind = "status-update"
	KindEnded            EventKind = "ended"
	KindEndOfCallReport  EventKind = "end-of-call-report"
	KindTranscript       EventKind = "transcript"
	KindToolCalls        EventKind = "tool-calls"
	KindAssistantRequest EventKind = "assistant-request"
	KindUnknown          EventKind = "unknown"
)

// MapToEventKind maps a provider type and status onto an EventKind.
func MapToEventKind(providerType, status string) EventKind {
	t := strings.ToLower(strings.TrimSpace(providerType))
	st := strings.ToLower(strings.TrimSpace(status))
	switch t {
	case "status-update", "status_update", "call.status":
		if st == "ended" || st == "completed" {
			return KindEnded
		}
		return KindStatusUpdate
	case "end-of-call-report", "end_of_call_report", "call.ended", "call-ended":
		return KindEndOfCallReport
	case "transcript", "conversation-update", "speech-update":
		return KindTranscript
	case "tool-calls", "function-call", "tool_calls":
		return KindToolCalls
	case "assistant-request":
		return KindAssistantRequest
	case "":
		// Legacy payloads carry only a status.
		switch st {
		case "ended", "completed":
			return KindEnded
		case "":
			return KindUnknown
		default:
			return KindStatusUpdate
		}
	default:
		return KindUnknown
	}
}

// Shape identifies which historical webhook layout a payload used.
type Shape string

const (
	ShapeWrapped   Shape = "wrapped"
	ShapeUnwrapped Shape = "unwrapped"
	ShapeLegacy    Shape = "legacy"
	ShapeUnknown   Shape = "unknown"
)

// CallEvent is the canonical form of one webhook delivery.
type CallEvent struct {
	Shape          Shape     `json:"shape"`
	Kind           EventKind `json:"kind"`
	ProviderType   string    `json:"provider_type,omitempty"`
	ExternalCallID string    `json:"external_call_id" validate:"required,call_id"`
	Unroutable     bool      `json:"unroutable"`

	AssistantID   string `json:"assistant_id,omitempty"`
	PhoneNumberID string `json:"phone_number_id,omitempty"`

	Direction    Direction `json:"direction"`
	CallType     string    `json:"call_type,omitempty"` // provider call type, e.g. inboundPhoneCall
	FromPhone    *string   `json:"from_phone,omitempty"`
	ToPhone      *string   `json:"to_phone,omitempty"`
	RawFromPhone string    `json:"-"` // digits only, second-shot value for the tool endpoint

	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty" validate:"omitempty,gte=0"`
	Cost            *float64   `json:"cost,omitempty" validate:"omitempty,gte=0"`
	Transcript      *string    `json:"transcript,omitempty"`

	Status             string `json:"status,omitempty"`
	EndedReason        string `json:"ended_reason,omitempty"`
	UserTurns          *int   `json:"user_turns,omitempty" validate:"omitempty,gte=0"`
	AgentLastUtterance string `json:"agent_last_utterance,omitempty"`
	ToolInvoked        bool   `json:"tool_invoked"`
	Language           string `json:"language,omitempty"`

	Raw map[string]interface{} `json:"-"`
}

// IsPhoneCall reports whether the call reached the agent over the phone
// network. Payloads without a call type count when they carry a caller number.
func (e *CallEvent) IsPhoneCall() bool {
	if e.CallType == "" {
		return e.FromPhone != nil
	}
	return strings.HasSuffix(strings.ToLower(e.CallType), "phonecall")
}

// IsTerminal reports whether this event ends the call.
func (e *CallEvent) IsTerminal() bool {
	return e.Kind == KindEnded || e.Kind == KindEndOfCallReport || e.EndedAt != nil
}

// ToPatch converts the event into a reconcile patch. Absent fields stay nil.
func (e *CallEvent) ToPatch() CallPatch {
	p := CallPatch{
		FromPhone:       e.FromPhone,
		ToPhone:         e.ToPhone,
		StartedAt:       e.StartedAt,
		EndedAt:         e.EndedAt,
		DurationSeconds: e.DurationSeconds,
		Cost:            e.Cost,
		Transcript:      e.Transcript,
		UserTurns:       e.UserTurns,
		Metadata:        e.Raw,
	}
	if e.Direction != "" && e.Direction != DirectionUnknown {
		d := e.Direction
		p.Direction = &d
	}
	if e.Status != "" {
		s := e.Status
		p.Status = &s
	}
	if e.EndedReason != "" {
		r := e.EndedReason
		p.Outcome = &r
	}
	if e.AgentLastUtterance != "" {
		u := e.AgentLastUtterance
		p.AgentLastUtterance = &u
	}
	if e.ToolInvoked {
		t := true
		p.ToolInvoked = &t
	}
	return p
}

// OutcomeStatus is how the webhook boundary answered.
type OutcomeStatus string

const (
	OutcomeProcessed OutcomeStatus = "processed"
	OutcomeIgnored   OutcomeStatus = "ignored"
	OutcomeRejected  OutcomeStatus = "rejected"
)

// Outcome is the result of handling one webhook delivery.
type Outcome struct {
	Status      OutcomeStatus
	Reason      string
	Kind        EventKind
	CallID      string
	WorkspaceID string
	Created     bool
	Completion  *CompletionState
	Artifact    *ArtifactRef
	StepErrors  []*apperrors.StepError
}

// AddStepError appends a swallowed step failure. Nil errors are ignored.
func (o *Outcome) AddStepError(step apperrors.Step, err error) {
	if se := apperrors.NewStepError(step, err); se != nil {
		o.StepErrors = append(o.StepErrors, se)
	}
}

// CallFinalized is published once a call's terminal processing completes.
type CallFinalized struct {
	WorkspaceID      string          `json:"workspace_id"`
	ExternalCallID   string          `json:"call_id"`
	AgentID          string          `json:"agent_id"`
	Intent           Intent          `json:"intent"`
	PersonaKey       string          `json:"persona_key"`
	IntentConfidence float64         `json:"intent_confidence"`
	CompletionState  CompletionState `json:"completion_state"`
	Corrected        bool            `json:"corrected"`
	Artifact         *ArtifactRef    `json:"artifact,omitempty"`
	DurationSeconds  int             `json:"duration_seconds"`
	FinalizedAt      string          `json:"finalized_at"`
}

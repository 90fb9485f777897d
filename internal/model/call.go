package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Direction of a call relative to the workspace.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionUnknown  Direction = "unknown"
)

// Intent is the classified purpose of a call.
type Intent string

const (
	IntentSupport     Intent = "support"
	IntentAppointment Intent = "appointment"
	IntentOther       Intent = "other"
)

// CompletionState is the terminal verdict on a call.
type CompletionState string

const (
	CompletionAbandoned CompletionState = "abandoned"
	CompletionPartial   CompletionState = "partial"
	CompletionCompleted CompletionState = "completed"
)

// CallRecord is the durable state of one external call within a workspace.
type CallRecord struct {
	ID                 string           `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	WorkspaceID        string           `json:"workspace_id" gorm:"column:workspace_id;not null;uniqueIndex:idx_call_ws_ext,priority:1"`
	ExternalCallID     string           `json:"external_call_id" gorm:"column:external_call_id;not null;uniqueIndex:idx_call_ws_ext,priority:2"`
	AgentID            string           `json:"agent_id,omitempty" gorm:"column:agent_id;index"`
	Direction          Direction        `json:"direction" gorm:"column:direction;default:unknown"`
	FromPhone          *string          `json:"from_phone,omitempty" gorm:"column:from_phone;index"`
	ToPhone            *string          `json:"to_phone,omitempty" gorm:"column:to_phone"`
	StartedAt          *time.Time       `json:"started_at,omitempty" gorm:"column:started_at"`
	EndedAt            *time.Time       `json:"ended_at,omitempty" gorm:"column:ended_at"`
	DurationSeconds    int              `json:"duration_seconds" gorm:"column:duration_seconds;default:0"`
	Cost               *float64         `json:"cost,omitempty" gorm:"column:cost;type:numeric(12,6)"`
	Transcript         *string          `json:"transcript,omitempty" gorm:"column:transcript;type:text"`
	Status             string           `json:"status,omitempty" gorm:"column:status"`
	Outcome            string           `json:"outcome,omitempty" gorm:"column:outcome"`
	Intent             *Intent          `json:"intent,omitempty" gorm:"column:intent"`
	PersonaKey         *string          `json:"persona_key,omitempty" gorm:"column:persona_key"`
	IntentConfidence   float64          `json:"intent_confidence" gorm:"column:intent_confidence;default:0"`
	CompletionState    *CompletionState `json:"completion_state,omitempty" gorm:"column:completion_state"`
	UserTurns          int              `json:"user_turns" gorm:"column:user_turns;default:0"`
	ToolInvoked        bool             `json:"tool_invoked" gorm:"column:tool_invoked;default:false"`
	AgentLastUtterance string           `json:"agent_last_utterance,omitempty" gorm:"column:agent_last_utterance;type:text"`
	LeaseID            *string          `json:"lease_id,omitempty" gorm:"column:lease_id"`
	TerminalAt         *time.Time       `json:"terminal_at,omitempty" gorm:"column:terminal_at"`
	Metadata           datatypes.JSON   `json:"metadata,omitempty" gorm:"column:metadata;type:jsonb"`
	CreatedAt          time.Time        `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time        `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (CallRecord) TableName(namer schema.Namer) string {
	return namer.TableName("call_records")
}

// IsEnded reports whether an end of the call has been observed.
func (c *CallRecord) IsEnded() bool {
	return c.EndedAt != nil
}

// TerminalObserved reports whether a terminal delivery has claimed the call.
// Admission control no longer removes such a record.
func (c *CallRecord) TerminalObserved() bool {
	return c.TerminalAt != nil || c.CompletionState != nil
}

// CallUpdatableFields lists the columns an update may touch.
// Excludes id, created_at and the (workspace_id, external_call_id) key.
func CallUpdatableFields() []string {
	return []string{
		"agent_id", "direction", "from_phone", "to_phone", "started_at", "ended_at",
		"duration_seconds", "cost", "transcript", "status", "outcome", "intent",
		"persona_key", "intent_confidence", "completion_state", "user_turns",
		"tool_invoked", "agent_last_utterance", "lease_id", "terminal_at", "metadata", "updated_at",
	}
}

// CallPatch is a partial update derived from one event. Nil fields are absent.
type CallPatch struct {
	AgentID            *string
	Direction          *Direction
	FromPhone          *string
	ToPhone            *string
	StartedAt          *time.Time
	EndedAt            *time.Time
	DurationSeconds    *int
	Cost               *float64
	Transcript         *string
	Status             *string
	Outcome            *string
	Intent             *Intent
	PersonaKey         *string
	IntentConfidence   *float64
	CompletionState    *CompletionState
	UserTurns          *int
	ToolInvoked        *bool
	AgentLastUtterance *string
	LeaseID            *string
	ClearLease         bool
	TerminalAt         *time.Time
	Metadata           map[string]interface{}
}

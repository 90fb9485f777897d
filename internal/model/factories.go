package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"github.com/denkuservices/denku-mvp-sub000/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// FakeE164 returns a syntactically valid North American E.164 number.
func FakeE164() string {
	return fmt.Sprintf("+1%d%03d%04d", gofakeit.Number(201, 989), gofakeit.Number(200, 999), gofakeit.Number(0, 9999))
}

// NewWorkspace creates a new active Workspace with default fake data.
func NewWorkspace(overrideDefaults ...*Workspace) *Workspace {
	base := &Workspace{
		WorkspaceID:      "ws_" + gofakeit.LetterN(10),
		Name:             gofakeit.Company(),
		Active:           true,
		ConcurrencyLimit: gofakeit.Number(1, 10),
		CreatedAt:        utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:        utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.WorkspaceID != "" {
			base.WorkspaceID = ovr.WorkspaceID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.ConcurrencyLimit != 0 {
			base.ConcurrencyLimit = ovr.ConcurrencyLimit
		}
		// Active and Demo are plain bools, so overrides always apply
		base.Active = ovr.Active
		base.Demo = ovr.Demo
	}
	return base
}

// NewAgent creates a new Agent for the given workspace with default fake data.
func NewAgent(workspaceID string, overrideDefaults ...*Agent) *Agent {
	assistantID := gofakeit.UUID()
	numberID := gofakeit.UUID()
	base := &Agent{
		AgentID:           "agent_" + gofakeit.LetterN(8),
		WorkspaceID:       workspaceID,
		AssistantID:       &assistantID,
		PhoneNumberID:     &numberID,
		DefaultPersonaKey: "support_en",
		Domain:            gofakeit.RandomString([]string{"support", "booking", "sales"}),
		Language:          "en",
		Active:            true,
		CreatedAt:         utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:         utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.AgentID != "" {
			base.AgentID = ovr.AgentID
		}
		if ovr.AssistantID != nil {
			base.AssistantID = ovr.AssistantID
		}
		if ovr.PhoneNumberID != nil {
			base.PhoneNumberID = ovr.PhoneNumberID
		}
		if ovr.DefaultPersonaKey != "" {
			base.DefaultPersonaKey = ovr.DefaultPersonaKey
		}
		if ovr.Domain != "" {
			base.Domain = ovr.Domain
		}
		if ovr.Language != "" {
			base.Language = ovr.Language
		}
	}
	return base
}

// NewCallRecord creates a live inbound CallRecord with default fake data.
func NewCallRecord(workspaceID string, overrideDefaults ...*CallRecord) *CallRecord {
	from := FakeE164()
	to := FakeE164()
	started := utils.Now().Add(-time.Duration(gofakeit.Number(1, 60)) * time.Second)
	base := &CallRecord{
		ID:             gofakeit.UUID(),
		WorkspaceID:    workspaceID,
		ExternalCallID: "call_" + gofakeit.LetterN(12),
		AgentID:        "agent_" + gofakeit.LetterN(8),
		Direction:      DirectionInbound,
		FromPhone:      &from,
		ToPhone:        &to,
		StartedAt:      &started,
		Status:         "in-progress",
		Metadata:       RandomJSONBMap(map[string]interface{}{"source": gofakeit.Word()}),
		CreatedAt:      started,
		UpdatedAt:      utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ExternalCallID != "" {
			base.ExternalCallID = ovr.ExternalCallID
		}
		if ovr.AgentID != "" {
			base.AgentID = ovr.AgentID
		}
		if ovr.EndedAt != nil {
			base.EndedAt = ovr.EndedAt
		}
		if ovr.Transcript != nil {
			base.Transcript = ovr.Transcript
		}
		if ovr.Cost != nil {
			base.Cost = ovr.Cost
		}
		if ovr.DurationSeconds != 0 {
			base.DurationSeconds = ovr.DurationSeconds
		}
	}
	return base
}

// WebhookSpec describes a synthetic provider webhook.
type WebhookSpec struct {
	CallID      string
	AssistantID string
	From        string
	Type        string // status-update | transcript | end-of-call-report
	Status      string
	Transcript  string
	UserTurns   int
	Duration    time.Duration
	Cost        float64
	StartedAt   time.Time
}

// NewWebhookPayload builds a wrapped-shape webhook body for spec.
// Empty fields are filled with fake data.
func NewWebhookPayload(spec WebhookSpec) map[string]interface{} {
	if spec.CallID == "" {
		spec.CallID = "call_" + gofakeit.LetterN(12)
	}
	if spec.From == "" {
		spec.From = FakeE164()
	}
	if spec.Type == "" {
		spec.Type = "status-update"
	}
	if spec.StartedAt.IsZero() {
		spec.StartedAt = utils.Now().Add(-spec.Duration)
	}

	call := map[string]interface{}{
		"id":          spec.CallID,
		"type":        "inboundPhoneCall",
		"assistantId": spec.AssistantID,
		"customer":    map[string]interface{}{"number": spec.From},
		"startedAt":   utils.FormatISO8601(spec.StartedAt),
	}
	msg := map[string]interface{}{
		"type": spec.Type,
		"call": call,
	}
	if spec.Status != "" {
		msg["status"] = spec.Status
	}
	if spec.Type == "end-of-call-report" {
		msg["endedAt"] = utils.FormatISO8601(spec.StartedAt.Add(spec.Duration))
		msg["cost"] = spec.Cost
		msg["endedReason"] = "customer-ended-call"
	}
	if spec.Transcript != "" || spec.UserTurns > 0 {
		messages := make([]interface{}, 0, spec.UserTurns*2)
		for i := 0; i < spec.UserTurns; i++ {
			messages = append(messages,
				map[string]interface{}{"role": "bot", "message": gofakeit.Sentence(6)},
				map[string]interface{}{"role": "user", "message": gofakeit.Sentence(6)},
			)
		}
		messages = append(messages, map[string]interface{}{"role": "bot", "message": "Thanks for calling, goodbye."})
		msg["artifact"] = map[string]interface{}{
			"transcript": spec.Transcript,
			"messages":   messages,
		}
	}
	return map[string]interface{}{"message": msg}
}

// RandomJSONBMap generates JSON data from a map for testing.
func RandomJSONBMap(data map[string]interface{}) datatypes.JSON {
	bytes, _ := json.Marshal(data)
	return datatypes.JSON(bytes)
}

package model

// Wire shapes of provider webhooks. They are decoded from a generic JSON map
// with mapstructure, so every field is optional and loosely typed.

// WebhookEnvelope is the wrapped shape: {"message": {...}}.
type WebhookEnvelope struct {
	Message *ProviderMessage `mapstructure:"message"`
}

// ProviderMessage is the body of a wrapped event and the whole of an unwrapped one.
type ProviderMessage struct {
	ID              string                   `mapstructure:"id"`
	Type            string                   `mapstructure:"type"`
	Status          string                   `mapstructure:"status"`
	AssistantID     string                   `mapstructure:"assistantId"`
	PhoneNumberID   string                   `mapstructure:"phoneNumberId"`
	EndedReason     string                   `mapstructure:"endedReason"`
	Call            *CallObject              `mapstructure:"call"`
	Customer        *PartyRef                `mapstructure:"customer"`
	PhoneNumber     *PhoneNumberRef          `mapstructure:"phoneNumber"`
	Assistant       *AssistantRef            `mapstructure:"assistant"`
	Artifact        *ArtifactBlock           `mapstructure:"artifact"`
	Summary         *ReportRef               `mapstructure:"summary"`
	Report          *ReportRef               `mapstructure:"report"`
	Transcript      string                   `mapstructure:"transcript"`
	Messages        []ConversationMessage    `mapstructure:"messages"`
	ToolCalls       []map[string]interface{} `mapstructure:"toolCalls"`
	ToolCallList    []map[string]interface{} `mapstructure:"toolCallList"`
	Cost            *float64                 `mapstructure:"cost"`
	StartedAt       interface{}              `mapstructure:"startedAt"`
	EndedAt         interface{}              `mapstructure:"endedAt"`
	DurationSeconds *float64                 `mapstructure:"durationSeconds"`
}

// CallObject is the provider's nested call description.
type CallObject struct {
	ID            string      `mapstructure:"id"`
	Type          string      `mapstructure:"type"` // inboundPhoneCall | outboundPhoneCall | webCall
	AssistantID   string      `mapstructure:"assistantId"`
	PhoneNumberID string      `mapstructure:"phoneNumberId"`
	From          string      `mapstructure:"from"`
	To            string      `mapstructure:"to"`
	Customer      *PartyRef   `mapstructure:"customer"`
	Cost          *float64    `mapstructure:"cost"`
	Status        string      `mapstructure:"status"`
	StartedAt     interface{} `mapstructure:"startedAt"`
	EndedAt       interface{} `mapstructure:"endedAt"`
}

// PartyRef carries a caller or callee number.
type PartyRef struct {
	Number string `mapstructure:"number"`
}

// PhoneNumberRef is the provisioned number that received the call.
type PhoneNumberRef struct {
	ID     string `mapstructure:"id"`
	Number string `mapstructure:"number"`
}

// AssistantRef identifies the provider assistant handling the call.
type AssistantRef struct {
	ID       string `mapstructure:"id"`
	Language string `mapstructure:"language"`
}

// ArtifactBlock holds end-of-call artifacts the provider attaches.
type ArtifactBlock struct {
	ID         string                `mapstructure:"id"`
	Transcript string                `mapstructure:"transcript"`
	Messages   []ConversationMessage `mapstructure:"messages"`
}

// ReportRef is a summary or report object that may carry the call id.
type ReportRef struct {
	ID string `mapstructure:"id"`
}

// ConversationMessage is one turn of the conversation log.
type ConversationMessage struct {
	Role    string `mapstructure:"role"`
	Message string `mapstructure:"message"`
	Content string `mapstructure:"content"`
}

// Text returns whichever text field the provider populated.
func (m ConversationMessage) Text() string {
	if m.Message != "" {
		return m.Message
	}
	return m.Content
}

// LegacyPayload is the flat minimal shape older integrations still send.
type LegacyPayload struct {
	CallID        string      `mapstructure:"call_id"`
	ID            string      `mapstructure:"id"`
	From          string      `mapstructure:"from"`
	To            string      `mapstructure:"to"`
	Status        string      `mapstructure:"status"`
	Transcript    string      `mapstructure:"transcript"`
	Cost          *float64    `mapstructure:"cost"`
	AssistantID   string      `mapstructure:"assistant_id"`
	PhoneNumberID string      `mapstructure:"phone_number_id"`
	Direction     string      `mapstructure:"direction"`
	StartedAt     interface{} `mapstructure:"started_at"`
	EndedAt       interface{} `mapstructure:"ended_at"`
	Duration      *float64    `mapstructure:"duration"`
}

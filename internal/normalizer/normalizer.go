// Package normalizer turns provider webhook bodies of any known layout into
// a canonical model.CallEvent.
package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/validator"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
	"github.com/denkuservices/denku-mvp-sub000/pkg/utils"
)

// Normalizer extracts canonical events. It is safe for concurrent use.
type Normalizer struct {
	region string
}

// New returns a Normalizer that parses national numbers in defaultRegion.
func New(defaultRegion string) *Normalizer {
	if defaultRegion == "" {
		defaultRegion = "US"
	}
	return &Normalizer{region: strings.ToUpper(defaultRegion)}
}

// Region returns the default phone region.
func (n *Normalizer) Region() string { return n.region }

// Normalize decodes raw into a CallEvent. A body that is not a JSON object
// fails with ErrMalformed. A payload without a usable call id is returned
// with Unroutable set and no error.
func (n *Normalizer) Normalize(raw []byte) (*model.CallEvent, error) {
	var root map[string]interface{}
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformed, err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", apperrors.ErrMalformed)
	}
	return n.NormalizeMap(root), nil
}

// NormalizeMap is Normalize for an already decoded body.
func (n *Normalizer) NormalizeMap(root map[string]interface{}) *model.CallEvent {
	shape := DetectShape(root)
	d := decodeShape(shape, root)
	if d.err != nil {
		logger.Log.Debug("Partial payload decode",
			zap.String("shape", string(shape)),
			zap.Error(d.err),
		)
	}
	evt := n.extract(d)
	evt.Raw = root
	return evt
}

// firstValidCallID returns the first candidate that is a usable call id,
// skipping blank and malformed ones.
func firstValidCallID(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if validator.ValidateVar(c, "call_id") == nil {
			return c
		}
	}
	return ""
}

// extract runs the alias pass over the decoded views, first match wins.
func (n *Normalizer) extract(d decoded) *model.CallEvent {
	msg, lp := d.msg, d.legacy
	call := msg.Call
	if call == nil {
		call = &model.CallObject{}
	}

	evt := &model.CallEvent{Shape: d.shape, ProviderType: msg.Type}

	idCandidates := []string{call.ID, reportID(msg.Summary), reportID(msg.Report), artifactID(msg.Artifact), msg.ID, lp.CallID, lp.ID}
	if d.shape == model.ShapeLegacy {
		idCandidates = []string{lp.CallID, lp.ID}
	}
	evt.ExternalCallID = firstValidCallID(idCandidates...)
	evt.Unroutable = evt.ExternalCallID == ""

	evt.AssistantID = firstNonEmpty(assistantID(msg.Assistant), call.AssistantID, msg.AssistantID, lp.AssistantID)
	evt.PhoneNumberID = firstNonEmpty(phoneNumberID(msg.PhoneNumber), call.PhoneNumberID, msg.PhoneNumberID, lp.PhoneNumberID)
	if msg.Assistant != nil {
		evt.Language = msg.Assistant.Language
	}

	from := firstNonEmpty(partyNumber(msg.Customer), partyNumber(call.Customer), call.From, lp.From)
	evt.FromPhone = NormalizePhone(from, n.region)
	evt.RawFromPhone = digitsOnly(StripPhone(from))
	evt.ToPhone = NormalizePhone(firstNonEmpty(phoneNumber(msg.PhoneNumber), call.To, lp.To), n.region)

	evt.CallType = call.Type
	evt.Direction = direction(call.Type, lp.Direction)

	evt.StartedAt = firstTime(msg.StartedAt, call.StartedAt, lp.StartedAt)
	evt.EndedAt = firstTime(msg.EndedAt, call.EndedAt, lp.EndedAt)
	evt.DurationSeconds = wholeSeconds(firstFloat(msg.DurationSeconds, lp.Duration))

	if cost := firstFloat(msg.Cost, call.Cost, lp.Cost); cost != nil && *cost >= 0 && !math.IsNaN(*cost) {
		evt.Cost = cost
	}

	if t := firstNonEmpty(msg.Transcript, artifactTranscript(msg.Artifact), lp.Transcript); t != "" {
		evt.Transcript = &t
	}

	messages := msg.Messages
	if len(messages) == 0 && msg.Artifact != nil {
		messages = msg.Artifact.Messages
	}
	if len(messages) > 0 {
		turns, last, toolRole := scanMessages(messages)
		evt.UserTurns = &turns
		evt.AgentLastUtterance = last
		evt.ToolInvoked = toolRole
	}

	evt.Status = firstNonEmpty(msg.Status, call.Status, lp.Status)
	evt.EndedReason = msg.EndedReason
	evt.Kind = model.MapToEventKind(msg.Type, evt.Status)
	if evt.Kind == model.KindToolCalls || len(msg.ToolCalls) > 0 || len(msg.ToolCallList) > 0 {
		evt.ToolInvoked = true
	}
	return evt
}

// scanMessages counts user turns, finds the last agent utterance and
// reports whether any tool call was logged.
func scanMessages(messages []model.ConversationMessage) (turns int, lastAgent string, toolCalled bool) {
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "user", "customer":
			turns++
		case "bot", "assistant", "agent":
			if text := strings.TrimSpace(m.Text()); text != "" {
				lastAgent = text
			}
		case "tool_calls", "tool_call", "function_call":
			toolCalled = true
		}
	}
	return turns, lastAgent, toolCalled
}

func direction(callType, legacy string) model.Direction {
	switch strings.ToLower(callType) {
	case "inboundphonecall", "webcall":
		return model.DirectionInbound
	case "outboundphonecall":
		return model.DirectionOutbound
	}
	switch strings.ToLower(legacy) {
	case "inbound":
		return model.DirectionInbound
	case "outbound":
		return model.DirectionOutbound
	}
	return model.DirectionUnknown
}

func wholeSeconds(v *float64) *int {
	if v == nil || *v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	s := int(math.Round(*v))
	return &s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstFloat(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			f := *v
			return &f
		}
	}
	return nil
}

func firstTime(vals ...interface{}) *time.Time {
	for _, v := range vals {
		if t := utils.ParseFlexibleTime(v); t != nil {
			return t
		}
	}
	return nil
}

func reportID(r *model.ReportRef) string {
	if r == nil {
		return ""
	}
	return r.ID
}

func artifactID(a *model.ArtifactBlock) string {
	if a == nil {
		return ""
	}
	return a.ID
}

func artifactTranscript(a *model.ArtifactBlock) string {
	if a == nil {
		return ""
	}
	return a.Transcript
}

func assistantID(a *model.AssistantRef) string {
	if a == nil {
		return ""
	}
	return a.ID
}

func phoneNumberID(p *model.PhoneNumberRef) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func phoneNumber(p *model.PhoneNumberRef) string {
	if p == nil {
		return ""
	}
	return p.Number
}

func partyNumber(p *model.PartyRef) string {
	if p == nil {
		return ""
	}
	return p.Number
}

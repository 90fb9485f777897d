package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/artifact"
	"github.com/denkuservices/denku-mvp-sub000/internal/completion"
	"github.com/denkuservices/denku-mvp-sub000/internal/intent"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
	"github.com/denkuservices/denku-mvp-sub000/pkg/utils"
)

const (
	subjectMaxLen  = 255
	noTranscript   = "No transcript was captured for this call."
	ticketSubject  = "Follow-up for %s call"
	appointmentSub = "Appointment request"
)

// handleTerminal finalizes an ended call: record, release, intent and
// persona, artifact, verdict, release again, publish.
func (s *CallService) handleTerminal(ctx context.Context, evt *model.CallEvent, ref *model.TenantRef, out *model.Outcome) error {
	wsID, callID := ref.Workspace.WorkspaceID, evt.ExternalCallID
	log := logger.FromContext(ctx)

	// The terminal mark stops admission control from removing the record
	// while this delivery finalizes it.
	patch := eventPatch(evt, ref)
	now := time.Now().UTC()
	patch.TerminalAt = &now

	rec, created, err := s.reconciler.Reconcile(ctx, wsID, callID, patch)
	if err != nil {
		return apperrors.NewStepError(apperrors.StepUpsertCall, err)
	}
	out.Created = created
	if created && s.rejectedMeanwhile(ctx, wsID, callID, out) {
		return nil
	}
	refinalize := rec.CompletionState != nil

	s.release(ctx, wsID, callID, out)

	rec = s.finalizeRecord(ctx, evt, ref, rec, out)

	var snapshot model.CallArtifacts
	if found, err := s.artifacts.FindArtifacts(ctx, wsID, callID); err != nil {
		s.swallow(ctx, out, apperrors.StepEnsureArtifact, err)
	} else {
		snapshot = found
	}

	in := completion.Input{
		DurationSeconds:    rec.DurationSeconds,
		UserTurns:          rec.UserTurns,
		Transcript:         deref(rec.Transcript),
		AgentLastUtterance: rec.AgentLastUtterance,
		ToolInvoked:        rec.ToolInvoked,
		HasSystemArtifact:  snapshot.HasCreatedBy(model.CreatedBySystem),
		HasModelArtifact:   snapshot.HasCreatedBy(model.CreatedByModel),
	}
	if refinalize && in.HasSystemArtifact {
		// The system artifact came from an earlier finalize of this call.
		// Together with the pre-ensure snapshot this means the "no tool and a
		// system artifact" partial rule never fires here; keep it that way so
		// redeliveries repeat the first verdict.
		in.HasSystemArtifact = false
		in.ArtifactEnsured = true
	}

	var linked *model.ArtifactRef
	if refs := snapshot.Refs(); len(refs) > 0 {
		linked = &refs[0]
	}
	if s.warrantsArtifact(rec, in) {
		in.ArtifactRequired = true
		if res, ok := s.ensureArtifact(ctx, evt, rec, out); ok {
			linked = &res.Artifact
			in.ArtifactEnsured = true
		}
	}

	in.Guardrails = completion.Run(completion.GuardrailInput{
		CallerPhone: rec.FromPhone,
		Region:      s.normalizer.Region(),
		HasArtifact: in.HasArtifact(),
		AbuseReason: s.abuseReason(wsID, rec.FromPhone),
	}, completion.DefaultGuardrails()...)

	verdict := completion.Infer(in)
	observer.IncCompletionVerdict(string(verdict.State), verdict.Rule, verdict.Corrected)
	if verdict.Corrected {
		log.Info("Completion verdict corrected",
			zap.String("from", string(verdict.From)),
			zap.String("to", string(verdict.State)),
			zap.String("rule", verdict.Rule),
		)
	}
	for _, g := range in.Guardrails {
		if g.Fired {
			log.Info("Guardrail fired", zap.String("guardrail", g.Name), zap.String("detail", g.Detail))
		}
	}

	state := verdict.State
	if next, _, err := s.reconciler.Reconcile(ctx, wsID, callID, model.CallPatch{CompletionState: &state}); err != nil {
		s.swallow(ctx, out, apperrors.StepPersistVerdict, err)
	} else {
		rec = next
	}
	out.Completion = &state
	out.Artifact = linked

	s.release(ctx, wsID, callID, out)

	log.Info("Call finalized",
		zap.String("completion_state", string(state)),
		zap.String("rule", verdict.Rule),
		zap.String("intent", string(derefIntent(rec.Intent))),
		zap.Int("duration_seconds", rec.DurationSeconds),
		zap.Bool("artifact", linked != nil),
	)

	s.publish(ctx, rec, verdict, linked, out)
	s.submitAnomaly(ctx, rec)
	return nil
}

// finalizeRecord fills intent and persona where still missing and clears
// the lease. Intent is classified when the call has not been classified yet
// and this is the first time a transcript is available; otherwise it
// defaults to other.
func (s *CallService) finalizeRecord(ctx context.Context, evt *model.CallEvent, ref *model.TenantRef, rec *model.CallRecord, out *model.Outcome) *model.CallRecord {
	patch := model.CallPatch{ClearLease: true}

	current := model.IntentOther
	if rec.Intent != nil {
		current = *rec.Intent
	} else if needsIntent(rec) {
		in, confidence := intent.SelectIntent(*rec.Transcript)
		current = in
		patch.Intent = &in
		patch.IntentConfidence = &confidence
	}
	if rec.PersonaKey == nil {
		persona := s.personas.Select(ctx, ref.Agent, current, evt.Language)
		patch.PersonaKey = &persona
	}

	next, err := s.reconciler.Finalize(ctx, rec.WorkspaceID, rec.ExternalCallID, patch)
	if err != nil {
		s.swallow(ctx, out, apperrors.StepFinalizeCall, err)
		fallback := *rec
		fallback.Intent = &current
		fallback.PersonaKey = patch.PersonaKey
		if rec.PersonaKey != nil {
			fallback.PersonaKey = rec.PersonaKey
		}
		return &fallback
	}
	return next
}

// warrantsArtifact reports whether the call should leave a ticket or an
// appointment behind. Outbound calls and calls nobody spoke on do not.
func (s *CallService) warrantsArtifact(rec *model.CallRecord, in completion.Input) bool {
	if rec.Direction == model.DirectionOutbound {
		return false
	}
	switch completion.Infer(completion.Input{
		DurationSeconds: in.DurationSeconds,
		UserTurns:       in.UserTurns,
		Transcript:      in.Transcript,
	}).Rule {
	case completion.RuleSilent, completion.RuleNearEmpty:
		return false
	}
	return true
}

// ensureArtifact books an appointment for appointment calls and a ticket
// for everything else.
func (s *CallService) ensureArtifact(ctx context.Context, evt *model.CallEvent, rec *model.CallRecord, out *model.Outcome) (artifact.Result, bool) {
	description := noTranscript
	if rec.Transcript != nil && strings.TrimSpace(*rec.Transcript) != "" {
		description = *rec.Transcript
	}
	callIntent := derefIntent(rec.Intent)

	var (
		res artifact.Result
		err error
	)
	if callIntent == model.IntentAppointment {
		res, err = s.guarantee.EnsureAppointment(ctx, artifact.AppointmentRequest{
			WorkspaceID: rec.WorkspaceID,
			AgentID:     rec.AgentID,
			CallID:      rec.ExternalCallID,
			FromPhone:   rec.FromPhone,
			Subject:     appointmentSub,
			Description: description,
		})
	} else {
		res, err = s.guarantee.EnsureTicket(ctx, artifact.TicketRequest{
			WorkspaceID:  rec.WorkspaceID,
			AgentID:      rec.AgentID,
			CallID:       rec.ExternalCallID,
			FromPhone:    rec.FromPhone,
			RawFromPhone: rawDigits(evt, rec),
			ToPhone:      rec.ToPhone,
			PhoneCall:    isPhoneCall(evt, rec),
			Subject:      truncate(fmt.Sprintf(ticketSubject, callIntent), subjectMaxLen),
			Description:  description,
		})
	}
	if res.ToolErr != nil {
		s.swallow(ctx, out, apperrors.StepToolCall, res.ToolErr)
	}
	if err != nil {
		s.swallow(ctx, out, apperrors.StepEnsureArtifact, err)
		return res, false
	}
	return res, true
}

func (s *CallService) release(ctx context.Context, workspaceID, callID string, out *model.Outcome) {
	if err := s.leases.Release(ctx, workspaceID, callID); err != nil {
		s.swallow(ctx, out, apperrors.StepReleaseLease, err)
	}
}

func (s *CallService) publish(ctx context.Context, rec *model.CallRecord, verdict completion.Verdict, linked *model.ArtifactRef, out *model.Outcome) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishFinalized(ctx, model.CallFinalized{
		WorkspaceID:      rec.WorkspaceID,
		ExternalCallID:   rec.ExternalCallID,
		AgentID:          rec.AgentID,
		Intent:           derefIntent(rec.Intent),
		PersonaKey:       deref(rec.PersonaKey),
		IntentConfidence: rec.IntentConfidence,
		CompletionState:  verdict.State,
		Corrected:        verdict.Corrected,
		Artifact:         linked,
		DurationSeconds:  rec.DurationSeconds,
		FinalizedAt:      utils.FormatISO8601(time.Now()),
	})
	if err != nil {
		s.swallow(ctx, out, apperrors.StepPublishEvent, err)
	}
}

func (s *CallService) abuseReason(workspaceID string, phone *string) string {
	if s.anomaly == nil || phone == nil {
		return ""
	}
	return s.anomaly.Verdict(workspaceID, *phone)
}

func (s *CallService) submitAnomaly(ctx context.Context, rec *model.CallRecord) {
	if s.anomaly == nil || rec.FromPhone == nil {
		return
	}
	err := s.anomaly.SubmitTask(AnomalyTask{
		Ctx:             context.WithoutCancel(ctx),
		WorkspaceID:     rec.WorkspaceID,
		CallID:          rec.ExternalCallID,
		FromPhone:       *rec.FromPhone,
		DurationSeconds: rec.DurationSeconds,
	})
	if err != nil {
		logger.FromContext(ctx).Debug("Anomaly check skipped", zap.Error(err))
	}
}

// isPhoneCall prefers the provider call type; without one a stored caller
// number is taken as a phone call.
func isPhoneCall(evt *model.CallEvent, rec *model.CallRecord) bool {
	if evt.CallType != "" {
		return evt.IsPhoneCall()
	}
	return rec.FromPhone != nil
}

func rawDigits(evt *model.CallEvent, rec *model.CallRecord) string {
	if evt.RawFromPhone != "" {
		return evt.RawFromPhone
	}
	if rec.FromPhone != nil {
		return strings.TrimPrefix(*rec.FromPhone, "+")
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefIntent(i *model.Intent) model.Intent {
	if i == nil {
		return model.IntentOther
	}
	return *i
}

package usecase

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/intent"
	"github.com/denkuservices/denku-mvp-sub000/internal/lease"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
	"github.com/denkuservices/denku-mvp-sub000/pkg/utils"
)

// handleLive reconciles a non-terminal event. The delivery that creates the
// record acquires the call's lease.
func (s *CallService) handleLive(ctx context.Context, evt *model.CallEvent, ref *model.TenantRef, out *model.Outcome) error {
	wsID, callID := ref.Workspace.WorkspaceID, evt.ExternalCallID

	rec, created, err := s.reconciler.Reconcile(ctx, wsID, callID, eventPatch(evt, ref))
	if err != nil {
		return apperrors.NewStepError(apperrors.StepUpsertCall, err)
	}
	out.Created = created

	if created && s.rejectedMeanwhile(ctx, wsID, callID, out) {
		return nil
	}
	if created && !s.admit(ctx, evt, ref, out) {
		return nil
	}

	s.classify(ctx, evt, ref, rec, out)
	return nil
}

// eventPatch is the event's reconcile patch attributed to the resolved agent.
func eventPatch(evt *model.CallEvent, ref *model.TenantRef) model.CallPatch {
	patch := evt.ToPatch()
	if ref.Agent.AgentID != "" {
		agentID := ref.Agent.AgentID
		patch.AgentID = &agentID
	}
	return patch
}

// admit acquires the lease for a newly observed live call. It returns false
// when admission control rejected the call.
func (s *CallService) admit(ctx context.Context, evt *model.CallEvent, ref *model.TenantRef, out *model.Outcome) bool {
	wsID, callID := ref.Workspace.WorkspaceID, evt.ExternalCallID
	ttl := s.cfg.LeaseTTLFor(ref.Workspace.Demo)

	decision, err := s.leases.Acquire(ctx, wsID, ref.Agent.AgentID, callID, ttl)
	if err != nil {
		s.swallow(ctx, out, apperrors.StepAcquireLease, err)
		return true
	}
	if !decision.Granted {
		s.reject(ctx, evt, ref, decision, out)
		return false
	}

	leaseID := decision.LeaseID
	if _, _, err := s.reconciler.Reconcile(ctx, wsID, callID, model.CallPatch{LeaseID: &leaseID}); err != nil {
		s.swallow(ctx, out, apperrors.StepAcquireLease, err)
	}
	logger.FromContext(ctx).Info("Call admitted",
		zap.String("lease_id", decision.LeaseID),
		zap.Int64("live", decision.Live),
		zap.Duration("ttl", ttl),
	)
	return true
}

// reject replaces the record the delivery created with an audit row. When
// a terminal delivery for the same call got to the record first, that
// delivery owns the call and nothing is removed.
func (s *CallService) reject(ctx context.Context, evt *model.CallEvent, ref *model.TenantRef, decision lease.Decision, out *model.Outcome) {
	wsID, callID := ref.Workspace.WorkspaceID, evt.ExternalCallID
	reason := string(decision.Reason)
	log := logger.FromContext(ctx)
	out.Created = false

	recorded, err := s.rejections.Reject(ctx, model.CallRejection{
		WorkspaceID:    wsID,
		ExternalCallID: callID,
		AgentID:        ref.Agent.AgentID,
		Reason:         reason,
		Payload:        datatypes.JSON(utils.MustMarshalJSON(evt.Raw)),
	})
	if err != nil {
		s.swallow(ctx, out, apperrors.StepRecordRejection, err)
	} else if !recorded {
		out.Status = model.OutcomeIgnored
		out.Reason = ReasonEndedConcurrently
		log.Info("Call ended while awaiting admission, keeping its record", zap.String("reason", reason))
		return
	}

	out.Status = model.OutcomeRejected
	out.Reason = reason
	log.Warn("Call rejected by admission control",
		zap.String("reason", reason),
		zap.Int64("live", decision.Live),
		zap.Int("limit", ref.Workspace.ConcurrencyLimit),
	)
}

// rejectedMeanwhile catches a delivery that recreated the record of a call
// admission control refused after this delivery passed its rejection check.
// The recreated record is removed again.
func (s *CallService) rejectedMeanwhile(ctx context.Context, workspaceID, callID string, out *model.Outcome) bool {
	rejected, err := s.rejections.IsRejected(ctx, workspaceID, callID)
	if err != nil {
		s.swallow(ctx, out, apperrors.StepRecordRejection, err)
		return false
	}
	if !rejected {
		return false
	}
	if err := s.calls.Delete(ctx, workspaceID, callID); err != nil {
		s.swallow(ctx, out, apperrors.StepRecordRejection, err)
	}
	out.Status = model.OutcomeRejected
	out.Reason = ReasonPreviouslyRejected
	out.Created = false
	logger.FromContext(ctx).Info("Call was rejected concurrently, dropping recreated record")
	return true
}

// classify sets intent and persona once, the first time an inbound call has
// a transcript to classify.
func (s *CallService) classify(ctx context.Context, evt *model.CallEvent, ref *model.TenantRef, rec *model.CallRecord, out *model.Outcome) *model.CallRecord {
	if !needsIntent(rec) {
		return rec
	}

	in, confidence := intent.SelectIntent(*rec.Transcript)
	persona := s.personas.Select(ctx, ref.Agent, in, evt.Language)
	next, created, err := s.reconciler.Reconcile(ctx, rec.WorkspaceID, rec.ExternalCallID, model.CallPatch{
		Intent:           &in,
		IntentConfidence: &confidence,
		PersonaKey:       &persona,
	})
	if err != nil {
		s.swallow(ctx, out, apperrors.StepSelectPersona, err)
		return rec
	}
	if created && s.rejectedMeanwhile(ctx, rec.WorkspaceID, rec.ExternalCallID, out) {
		return rec
	}
	logger.FromContext(ctx).Info("Intent selected",
		zap.String("intent", string(in)),
		zap.Float64("confidence", confidence),
		zap.String("persona_key", persona),
	)
	return next
}

func needsIntent(rec *model.CallRecord) bool {
	return rec.Intent == nil &&
		rec.Direction == model.DirectionInbound &&
		rec.Transcript != nil && strings.TrimSpace(*rec.Transcript) != ""
}

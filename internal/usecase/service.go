package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/artifact"
	"github.com/denkuservices/denku-mvp-sub000/internal/config"
	"github.com/denkuservices/denku-mvp-sub000/internal/intent"
	"github.com/denkuservices/denku-mvp-sub000/internal/lease"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/normalizer"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
	"github.com/denkuservices/denku-mvp-sub000/internal/reconciler"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
	"github.com/denkuservices/denku-mvp-sub000/internal/tenant"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

// Reasons reported for acknowledged but unprocessed deliveries.
const (
	ReasonMalformed          = "malformed"
	ReasonUnroutable         = "unroutable"
	ReasonTenantNotFound     = "tenant_not_found"
	ReasonWorkspaceInactive  = "workspace_inactive"
	ReasonTenantLookup       = "tenant_lookup_failed"
	ReasonPreviouslyRejected = "previously_rejected"
	ReasonEndedConcurrently  = "ended_concurrently"
)

// FinalizedPublisher emits an event once a call is finalized.
type FinalizedPublisher interface {
	PublishFinalized(ctx context.Context, evt model.CallFinalized) error
}

// Dependencies are the collaborators of a CallService. Publisher and
// Anomaly are optional.
type Dependencies struct {
	Normalizer *normalizer.Normalizer
	Calls      storage.CallRepo
	Directory  storage.DirectoryRepo
	Artifacts  storage.ArtifactRepo
	Rejections storage.RejectionRepo
	Leases     lease.Manager
	Guarantee  *artifact.Guarantee
	Personas   *intent.Selector
	Publisher  FinalizedPublisher
	Anomaly    IAnomalyWorker
}

// CallService runs the webhook pipeline: normalize, resolve the tenant,
// reconcile, admit live calls and finalize ended ones.
type CallService struct {
	cfg        *config.Config
	normalizer *normalizer.Normalizer
	calls      storage.CallRepo
	directory  storage.DirectoryRepo
	artifacts  storage.ArtifactRepo
	rejections storage.RejectionRepo
	reconciler *reconciler.Reconciler
	leases     lease.Manager
	sweeper    *lease.Sweeper
	guarantee  *artifact.Guarantee
	personas   *intent.Selector
	publisher  FinalizedPublisher
	anomaly    IAnomalyWorker
	router     *Router
}

// NewCallService creates a new call service
func NewCallService(cfg *config.Config, deps Dependencies) *CallService {
	s := &CallService{
		cfg:        cfg,
		normalizer: deps.Normalizer,
		calls:      deps.Calls,
		directory:  deps.Directory,
		artifacts:  deps.Artifacts,
		rejections: deps.Rejections,
		reconciler: reconciler.New(deps.Calls),
		leases:     deps.Leases,
		sweeper:    lease.NewSweeper(deps.Leases, cfg.Lease.SweepInterval),
		guarantee:  deps.Guarantee,
		personas:   deps.Personas,
		publisher:  deps.Publisher,
		anomaly:    deps.Anomaly,
	}
	if s.normalizer == nil {
		s.normalizer = normalizer.New(cfg.Phone.DefaultRegion)
	}
	if s.guarantee == nil {
		s.guarantee = artifact.NewGuarantee(deps.Artifacts, nil)
	}
	if s.personas == nil {
		s.personas = intent.NewSelector(intent.NewDirectoryCatalog(deps.Directory), cfg.Persona.Fallback)
	}

	s.router = NewRouter()
	s.router.Register(model.KindEnded, s.handleTerminal)
	s.router.Register(model.KindEndOfCallReport, s.handleTerminal)
	s.router.RegisterDefault(s.handleLive)
	return s
}

// HandleWebhook processes one raw delivery. Only a failure to record the
// call itself is returned as an error; every other problem is acknowledged
// or collected on the outcome.
func (s *CallService) HandleWebhook(ctx context.Context, raw []byte) (model.Outcome, error) {
	start := time.Now()
	out := model.Outcome{Status: model.OutcomeProcessed, Kind: model.KindUnknown}
	defer func() {
		observer.ObserveWebhookDuration(string(out.Kind), out.WorkspaceID, time.Since(start))
	}()

	if _, _, err := s.sweeper.MaybeSweep(ctx); err != nil {
		s.swallow(ctx, &out, apperrors.StepSweepLeases, err)
	}

	evt, err := s.normalizer.Normalize(raw)
	if err != nil {
		return s.ack(ctx, out, model.OutcomeIgnored, ReasonMalformed, err), nil
	}
	out.Kind = evt.Kind
	observer.IncWebhookReceived(string(evt.Kind), "")

	if evt.Unroutable {
		return s.ack(ctx, out, model.OutcomeIgnored, ReasonUnroutable, nil), nil
	}
	out.CallID = evt.ExternalCallID
	ctx = tenant.WithCallID(ctx, evt.ExternalCallID)

	ref, err := s.resolveTenant(ctx, evt)
	if err != nil {
		return s.ack(ctx, out, model.OutcomeIgnored, tenantReason(err), err), nil
	}
	out.WorkspaceID = ref.Workspace.WorkspaceID
	ctx = tenant.WithWorkspaceID(ctx, ref.Workspace.WorkspaceID)

	rejected, err := s.rejections.IsRejected(ctx, out.WorkspaceID, out.CallID)
	if err != nil {
		s.swallow(ctx, &out, apperrors.StepRecordRejection, err)
	} else if rejected {
		return s.ack(ctx, out, model.OutcomeRejected, ReasonPreviouslyRejected, nil), nil
	}

	if err := s.router.Route(ctx, evt, ref, &out); err != nil {
		var stepErr *apperrors.StepError
		if !errors.As(err, &stepErr) {
			observer.IncWebhookHandled(string(out.Kind), out.WorkspaceID, "error", "unknown")
			logger.FromContext(ctx).Error("Webhook processing failed", zap.Error(err))
			return out, err
		}

		switch stepErr.Disposition() {
		case apperrors.Swallow:
			s.swallow(ctx, &out, stepErr.Step, stepErr.Err)
		case apperrors.Ack:
			observer.IncStepError(string(stepErr.Step), apperrors.Ack.String(), stepErr.Err)
			return s.ack(ctx, out, model.OutcomeIgnored, string(stepErr.Step), stepErr.Err), nil
		default:
			observer.IncStepError(string(stepErr.Step), apperrors.Propagate.String(), stepErr.Err)
			observer.IncWebhookHandled(string(out.Kind), out.WorkspaceID, "error", string(stepErr.Step))
			logger.FromContext(ctx).Error("Webhook processing failed", zap.Error(err))
			return out, err
		}
	}

	s.record(ctx, out)
	return out, nil
}

// resolveTenant finds the agent by assistant id, then by number id, and
// loads its workspace.
func (s *CallService) resolveTenant(ctx context.Context, evt *model.CallEvent) (*model.TenantRef, error) {
	agent, err := s.findAgent(ctx, evt)
	if err != nil {
		return nil, err
	}

	ws, err := s.directory.FindWorkspace(ctx, agent.WorkspaceID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: workspace %s", apperrors.ErrTenantNotFound, agent.WorkspaceID)
		}
		return nil, err
	}
	if !ws.Active {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrWorkspaceInactive, ws.WorkspaceID)
	}
	return &model.TenantRef{Agent: *agent, Workspace: *ws}, nil
}

func (s *CallService) findAgent(ctx context.Context, evt *model.CallEvent) (*model.Agent, error) {
	if evt.AssistantID != "" {
		agent, err := s.directory.FindAgentByAssistantID(ctx, evt.AssistantID)
		if err == nil {
			return agent, nil
		}
		if !apperrors.IsNotFoundError(err) {
			return nil, err
		}
	}
	if evt.PhoneNumberID != "" {
		agent, err := s.directory.FindAgentByPhoneNumberID(ctx, evt.PhoneNumberID)
		if err == nil {
			return agent, nil
		}
		if !apperrors.IsNotFoundError(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: assistant=%q number=%q", apperrors.ErrTenantNotFound, evt.AssistantID, evt.PhoneNumberID)
}

func tenantReason(err error) string {
	switch {
	case apperrors.IsTenantNotFoundError(err):
		return ReasonTenantNotFound
	case apperrors.IsWorkspaceInactiveError(err):
		return ReasonWorkspaceInactive
	default:
		return ReasonTenantLookup
	}
}

// ack ends processing with a 200 answer that did not process the call.
func (s *CallService) ack(ctx context.Context, out model.Outcome, status model.OutcomeStatus, reason string, cause error) model.Outcome {
	out.Status = status
	out.Reason = reason

	log := logger.FromContext(ctx).With(zap.String("reason", reason))
	switch {
	case reason == ReasonTenantLookup:
		log.Error("Tenant lookup failed, acknowledging delivery", zap.Error(cause))
	case cause != nil:
		log.Info("Webhook acknowledged without processing", zap.Error(cause))
	default:
		log.Info("Webhook acknowledged without processing")
	}
	s.record(ctx, out)
	return out
}

// swallow keeps a failed step visible without failing the delivery.
func (s *CallService) swallow(ctx context.Context, out *model.Outcome, step apperrors.Step, err error) {
	if err == nil {
		return
	}
	out.AddStepError(step, err)
	disposition := apperrors.PolicyFor(step, err)
	observer.IncStepError(string(step), disposition.String(), err)

	log := logger.FromContext(ctx).With(zap.String("step", string(step)))
	if step == apperrors.StepAcquireLease {
		log.Error("Lease acquisition failed, continuing unleased", zap.Error(err))
		return
	}
	log.Warn("Step failed, continuing", zap.Error(err))
}

func (s *CallService) record(ctx context.Context, out model.Outcome) {
	observer.IncWebhookHandled(string(out.Kind), out.WorkspaceID, string(out.Status), out.Reason)
	if out.Status != model.OutcomeProcessed {
		return
	}
	fields := []zap.Field{
		zap.String("event_kind", string(out.Kind)),
		zap.Bool("created", out.Created),
		zap.Int("step_errors", len(out.StepErrors)),
	}
	if out.Completion != nil {
		fields = append(fields, zap.String("completion_state", string(*out.Completion)))
	}
	logger.FromContext(ctx).Debug("Webhook processed", fields...)
}

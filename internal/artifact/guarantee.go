// Package artifact guarantees that a finalized call ends up with exactly one
// follow-up ticket or appointment.
package artifact

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
	"github.com/denkuservices/denku-mvp-sub000/internal/validator"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

// Path records how an ensure call was satisfied.
type Path string

const (
	PathExisting Path = "existing"
	PathTool     Path = "tool"
	PathDirect   Path = "direct"
)

// TicketRequest describes the ticket a call should produce.
type TicketRequest struct {
	WorkspaceID  string  `json:"workspace_id" validate:"required"`
	AgentID      string  `json:"agent_id"`
	CallID       string  `json:"call_id" validate:"required,call_id"`
	FromPhone    *string `json:"from_phone"`
	RawFromPhone string  `json:"raw_from_phone"`
	ToPhone      *string `json:"to_phone"`
	PhoneCall    bool    `json:"phone_call"`
	Subject      string  `json:"subject" validate:"max=255"`
	Description  string  `json:"description"`
}

// AppointmentRequest describes the appointment a call should produce.
type AppointmentRequest struct {
	WorkspaceID  string  `json:"workspace_id" validate:"required"`
	AgentID      string  `json:"agent_id"`
	CallID       string  `json:"call_id" validate:"required,call_id"`
	FromPhone    *string `json:"from_phone"`
	Subject      string  `json:"subject" validate:"max=255"`
	Description  string  `json:"description"`
	RequestedFor string  `json:"requested_for"`
}

// Result is the artifact linked to the call after an ensure. ToolErr holds
// the last tool failure when the direct write had to step in.
type Result struct {
	Artifact model.ArtifactRef
	Created  bool
	Path     Path
	ToolErr  error
}

// Guarantee creates artifacts at most once per call.
type Guarantee struct {
	repo storage.ArtifactRepo
	tool ToolInvoker // nil disables the tool path
}

func NewGuarantee(repo storage.ArtifactRepo, tool ToolInvoker) *Guarantee {
	return &Guarantee{repo: repo, tool: tool}
}

// EnsureTicket links a ticket to the call unless any artifact already is.
// The tool is tried first for phone calls with a caller number, with the
// E.164 number and then the raw digits; otherwise, or when both shots fail,
// the ticket is written directly.
func (g *Guarantee) EnsureTicket(ctx context.Context, req TicketRequest) (Result, error) {
	if err := validator.Validate(req); err != nil {
		return Result{}, err
	}
	log := logger.FromContext(ctx)

	if res, ok, err := g.existing(ctx, req.WorkspaceID, req.CallID, model.ArtifactTicket); err != nil || ok {
		return res, err
	}

	ticket := model.Ticket{
		WorkspaceID:    req.WorkspaceID,
		ExternalCallID: req.CallID,
		AgentID:        req.AgentID,
		Subject:        req.Subject,
		Description:    req.Description,
		ContactPhone:   req.FromPhone,
		CreatedBy:      model.CreatedBySystem,
	}

	// A ticket opened through the tool is still the guarantee's own doing, so
	// it stays created_by=system and only carries the tool's reference.
	var toolErr error
	if g.tool != nil && req.PhoneCall && req.FromPhone != nil {
		var ref string
		ref, toolErr = g.invokeTool(ctx, req)
		if toolErr == nil {
			ticket.ExternalRef = ref
		} else {
			log.Warn("Ticket tool failed, writing directly", zap.Error(toolErr))
		}
	}

	stored, created, err := g.repo.CreateTicket(ctx, ticket)
	if err != nil {
		return Result{ToolErr: toolErr}, fmt.Errorf("create ticket: %w", err)
	}

	path := PathDirect
	switch {
	case !created:
		path = PathExisting
	case stored.ExternalRef != "":
		path = PathTool
	}
	observer.IncArtifactEnsured(string(model.ArtifactTicket), string(path))
	log.Info("Ticket ensured",
		zap.String("ticket_id", stored.ID),
		zap.String("path", string(path)),
		zap.Bool("created", created),
	)
	return Result{Artifact: stored.Ref(), Created: created, Path: path, ToolErr: toolErr}, nil
}

// EnsureAppointment links an appointment to the call unless any artifact
// already is. There is no tool path for appointments.
func (g *Guarantee) EnsureAppointment(ctx context.Context, req AppointmentRequest) (Result, error) {
	if err := validator.Validate(req); err != nil {
		return Result{}, err
	}

	if res, ok, err := g.existing(ctx, req.WorkspaceID, req.CallID, model.ArtifactAppointment); err != nil || ok {
		return res, err
	}

	stored, created, err := g.repo.CreateAppointment(ctx, model.Appointment{
		WorkspaceID:    req.WorkspaceID,
		ExternalCallID: req.CallID,
		AgentID:        req.AgentID,
		Subject:        req.Subject,
		Description:    req.Description,
		ContactPhone:   req.FromPhone,
		RequestedFor:   req.RequestedFor,
		CreatedBy:      model.CreatedBySystem,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create appointment: %w", err)
	}

	path := PathDirect
	if !created {
		path = PathExisting
	}
	observer.IncArtifactEnsured(string(model.ArtifactAppointment), string(path))
	logger.FromContext(ctx).Info("Appointment ensured",
		zap.String("appointment_id", stored.ID),
		zap.String("path", string(path)),
		zap.Bool("created", created),
	)
	return Result{Artifact: stored.Ref(), Created: created, Path: path}, nil
}

// existing returns the call's artifact when one is already linked,
// preferring the wanted type.
func (g *Guarantee) existing(ctx context.Context, workspaceID, callID string, want model.ArtifactType) (Result, bool, error) {
	found, err := g.repo.FindArtifacts(ctx, workspaceID, callID)
	if err != nil {
		return Result{}, false, fmt.Errorf("find artifacts: %w", err)
	}
	if !found.Any() {
		return Result{}, false, nil
	}

	refs := found.Refs()
	ref := refs[0]
	for _, r := range refs {
		if r.Type == want {
			ref = r
			break
		}
	}
	observer.IncArtifactEnsured(string(want), string(PathExisting))
	logger.FromContext(ctx).Info("Artifact already linked to call",
		zap.String("artifact_type", string(ref.Type)),
		zap.String("artifact_id", ref.ID),
		zap.String("created_by", string(ref.CreatedBy)),
	)
	return Result{Artifact: ref, Path: PathExisting}, true, nil
}

// invokeTool makes at most two attempts, one per phone representation.
func (g *Guarantee) invokeTool(ctx context.Context, req TicketRequest) (string, error) {
	body := ToolTicketRequest{
		WorkspaceID: req.WorkspaceID,
		CallID:      req.CallID,
		Subject:     req.Subject,
		Description: req.Description,
	}
	if req.ToPhone != nil {
		body.ToPhone = *req.ToPhone
	}

	shots := []string{*req.FromPhone}
	if req.RawFromPhone != "" && req.RawFromPhone != *req.FromPhone {
		shots = append(shots, req.RawFromPhone)
	}

	var lastErr error
	for i, phone := range shots {
		body.FromPhone = phone
		id, err := g.tool.CreateTicket(ctx, body)
		if err == nil {
			return id, nil
		}
		lastErr = err
		logger.FromContext(ctx).Debug("Ticket tool attempt failed",
			zap.Int("attempt", i+1),
			zap.String("from_phone", logger.MaskPhone(phone)),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
)

// FindArtifacts returns the ticket and appointment linked to a call, if any.
func (r *PostgresRepo) FindArtifacts(ctx context.Context, workspaceID, callID string) (model.CallArtifacts, error) {
	start := time.Now()
	var out model.CallArtifacts
	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "FindArtifacts", func() error {
		out = model.CallArtifacts{}
		db := r.db.WithContext(ctx)

		var t model.Ticket
		err := db.Where("workspace_id = ? AND external_call_id = ?", workspaceID, callID).Take(&t).Error
		switch {
		case err == nil:
			out.Ticket = &t
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		var a model.Appointment
		err = db.Where("workspace_id = ? AND external_call_id = ?", workspaceID, callID).Take(&a).Error
		switch {
		case err == nil:
			out.Appointment = &a
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return nil
	})
	observer.ObserveDbOperationDuration("find", "artifact", workspaceID, time.Since(start), err)
	if err != nil {
		return model.CallArtifacts{}, checkConstraintViolation(err)
	}
	return out, nil
}

// CreateTicket inserts t unless the call already has a ticket, in which case
// the existing row is returned with created=false.
func (r *PostgresRepo) CreateTicket(ctx context.Context, t model.Ticket) (*model.Ticket, bool, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	start := time.Now()
	var (
		stored  model.Ticket
		created bool
	)
	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "CreateTicket", func() error {
		row := t
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{Columns: callKeyColumns, DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			stored, created = row, true
			return nil
		}
		created = false
		return r.db.WithContext(ctx).
			Where("workspace_id = ? AND external_call_id = ?", t.WorkspaceID, t.ExternalCallID).
			Take(&stored).Error
	})
	observer.ObserveDbOperationDuration("create", "ticket", t.WorkspaceID, time.Since(start), err)
	if err != nil {
		return nil, false, checkConstraintViolation(err)
	}
	return &stored, created, nil
}

// CreateAppointment inserts a unless the call already has an appointment.
func (r *PostgresRepo) CreateAppointment(ctx context.Context, a model.Appointment) (*model.Appointment, bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	start := time.Now()
	var (
		stored  model.Appointment
		created bool
	)
	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "CreateAppointment", func() error {
		row := a
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{Columns: callKeyColumns, DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			stored, created = row, true
			return nil
		}
		created = false
		return r.db.WithContext(ctx).
			Where("workspace_id = ? AND external_call_id = ?", a.WorkspaceID, a.ExternalCallID).
			Take(&stored).Error
	})
	observer.ObserveDbOperationDuration("create", "appointment", a.WorkspaceID, time.Since(start), err)
	if err != nil {
		return nil, false, checkConstraintViolation(err)
	}
	return &stored, created, nil
}

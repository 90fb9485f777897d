package storage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

// SaveRejection records a call refused by admission control. A second
// rejection for the same call is ignored.
func (r *PostgresRepo) SaveRejection(ctx context.Context, rejection model.CallRejection) error {
	log := logger.FromContext(ctx).With(
		zap.String("workspace_id", rejection.WorkspaceID),
		zap.String("external_call_id", rejection.ExternalCallID),
		zap.String("reason", rejection.Reason),
	)
	start := time.Now()
	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "SaveRejection", func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{Columns: callKeyColumns, DoNothing: true}).
			Create(&rejection).Error
	})
	observer.ObserveDbOperationDuration("create", "rejection", rejection.WorkspaceID, time.Since(start), err)
	if err != nil {
		log.Error("Failed to save call rejection", zap.Error(err))
		return checkConstraintViolation(err)
	}
	log.Debug("Call rejection saved")
	return nil
}

// RejectCall removes the call record and stores rejection in one
// transaction, holding the record's row lock. A record already claimed by a
// terminal delivery is left alone and nothing is stored; rejected is false
// in that case.
func (r *PostgresRepo) RejectCall(ctx context.Context, rejection model.CallRejection) (bool, error) {
	log := logger.FromContext(ctx).With(
		zap.String("workspace_id", rejection.WorkspaceID),
		zap.String("external_call_id", rejection.ExternalCallID),
		zap.String("reason", rejection.Reason),
	)
	start := time.Now()
	var rejected bool

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "RejectCall", func() error {
		rejected = false
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var current model.CallRecord
			err := lockCall(tx, rejection.WorkspaceID, rejection.ExternalCallID, &current)
			switch {
			case err == nil:
				if current.TerminalObserved() {
					return nil
				}
				if err := tx.Delete(&current).Error; err != nil {
					return err
				}
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}

			row := rejection
			if err := tx.Clauses(clause.OnConflict{Columns: callKeyColumns, DoNothing: true}).Create(&row).Error; err != nil {
				return err
			}
			rejected = true
			return nil
		})
	})
	observer.ObserveDbOperationDuration("reject", "call", rejection.WorkspaceID, time.Since(start), err)
	if err != nil {
		log.Error("Failed to reject call", zap.Error(err))
		return false, checkConstraintViolation(err)
	}
	if !rejected {
		log.Info("Call already claimed by a terminal delivery, rejection skipped")
	}
	return rejected, nil
}

// IsRejected reports whether admission control refused the call earlier.
func (r *PostgresRepo) IsRejected(ctx context.Context, workspaceID, callID string) (bool, error) {
	var count int64
	start := time.Now()
	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "IsRejected", func() error {
		return r.db.WithContext(ctx).Model(&model.CallRejection{}).
			Where("workspace_id = ? AND external_call_id = ?", workspaceID, callID).
			Count(&count).Error
	})
	observer.ObserveDbOperationDuration("count", "rejection", workspaceID, time.Since(start), err)
	if err != nil {
		return false, checkConstraintViolation(err)
	}
	return count > 0, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

var callKeyColumns = []clause.Column{{Name: "workspace_id"}, {Name: "external_call_id"}}

// UpsertCall creates or merges the call record keyed by (workspaceID, callID)
// inside one transaction. Concurrent first deliveries are serialized by the
// unique index: the loser re-reads the winner's row under FOR UPDATE and
// applies its merge as an update.
func (r *PostgresRepo) UpsertCall(ctx context.Context, workspaceID, callID string, merge CallMergeFunc) (*model.CallRecord, bool, error) {
	start := time.Now()
	var (
		result  *model.CallRecord
		created bool
	)

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "UpsertCall", func() error {
		rec, c, err := r.upsertCallOnce(ctx, workspaceID, callID, merge)
		if err != nil && isUniqueViolation(err) {
			logger.FromContext(ctx).Debug("Call insert lost a race, retrying as update",
				zap.String("external_call_id", callID))
			rec, c, err = r.upsertCallOnce(ctx, workspaceID, callID, merge)
		}
		if err != nil {
			return err
		}
		result, created = rec, c
		return nil
	})
	observer.ObserveDbOperationDuration("upsert", "call", workspaceID, time.Since(start), err)
	if err != nil {
		return nil, false, checkConstraintViolation(err)
	}
	return result, created, nil
}

func (r *PostgresRepo) upsertCallOnce(ctx context.Context, workspaceID, callID string, merge CallMergeFunc) (*model.CallRecord, bool, error) {
	var (
		result  *model.CallRecord
		created bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current model.CallRecord
		err := lockCall(tx, workspaceID, callID, &current)
		if err == nil {
			next, err := updateCall(tx, &current, merge)
			result = next
			return err
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		next := merge(nil)
		if next.ID == "" {
			next.ID = uuid.NewString()
		}
		next.WorkspaceID, next.ExternalCallID = workspaceID, callID
		res := tx.Clauses(clause.OnConflict{Columns: callKeyColumns, DoNothing: true}).Create(next)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			result, created = next, true
			return nil
		}

		// Another delivery inserted between our read and write.
		if err := lockCall(tx, workspaceID, callID, &current); err != nil {
			return err
		}
		next, err = updateCall(tx, &current, merge)
		result = next
		return err
	})
	return result, created, err
}

func lockCall(tx *gorm.DB, workspaceID, callID string, dest *model.CallRecord) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("workspace_id = ? AND external_call_id = ?", workspaceID, callID).
		Take(dest).Error
}

func updateCall(tx *gorm.DB, current *model.CallRecord, merge CallMergeFunc) (*model.CallRecord, error) {
	next := merge(current)
	next.ID = current.ID
	next.WorkspaceID, next.ExternalCallID = current.WorkspaceID, current.ExternalCallID
	next.CreatedAt = current.CreatedAt
	if err := tx.Model(next).Select(model.CallUpdatableFields()).Updates(next).Error; err != nil {
		return nil, err
	}
	return next, nil
}

// FindCall retrieves a call record by its key.
func (r *PostgresRepo) FindCall(ctx context.Context, workspaceID, callID string) (*model.CallRecord, error) {
	start := time.Now()
	var rec model.CallRecord
	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "FindCall", func() error {
		return r.db.WithContext(ctx).
			Where("workspace_id = ? AND external_call_id = ?", workspaceID, callID).
			Take(&rec).Error
	})
	observer.ObserveDbOperationDuration("find", "call", workspaceID, time.Since(start), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &rec, nil
}

// DeleteCall removes a call record. Deleting a missing record is not an error.
func (r *PostgresRepo) DeleteCall(ctx context.Context, workspaceID, callID string) error {
	start := time.Now()
	policy := newRetryPolicy(ctx, defaultRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "DeleteCall", func() error {
		return r.db.WithContext(ctx).
			Where("workspace_id = ? AND external_call_id = ?", workspaceID, callID).
			Delete(&model.CallRecord{}).Error
	})
	observer.ObserveDbOperationDuration("delete", "call", workspaceID, time.Since(start), err)
	if err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}

// CountRecentByCaller counts calls from one number created at or after since.
func (r *PostgresRepo) CountRecentByCaller(ctx context.Context, workspaceID, fromPhone string, since time.Time) (int64, error) {
	if fromPhone == "" {
		return 0, fmt.Errorf("%w: from phone is required", apperrors.ErrBadRequest)
	}
	start := time.Now()
	var n int64
	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "CountRecentByCaller", func() error {
		return r.db.WithContext(ctx).Model(&model.CallRecord{}).
			Where("workspace_id = ? AND from_phone = ? AND created_at >= ?", workspaceID, fromPhone, since).
			Count(&n).Error
	})
	observer.ObserveDbOperationDuration("count", "call", workspaceID, time.Since(start), err)
	if err != nil {
		return 0, checkConstraintViolation(err)
	}
	return n, nil
}

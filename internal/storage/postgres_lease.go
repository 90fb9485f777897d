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

// TryAcquireLease admits lease if the workspace is active and its live lease
// count is under the concurrency limit. The decision runs under a
// transaction-scoped advisory lock on the workspace, so concurrent acquires
// for one workspace are serialized and the limit cannot be overshot.
func (r *PostgresRepo) TryAcquireLease(ctx context.Context, lease model.ConcurrencyLease) (LeaseAcquireResult, error) {
	if lease.WorkspaceID == "" || lease.ExternalCallID == "" {
		return LeaseAcquireResult{}, fmt.Errorf("%w: lease requires workspace and call id", apperrors.ErrBadRequest)
	}
	if lease.ID == "" {
		lease.ID = uuid.NewString()
	}
	if lease.IssuedAt.IsZero() {
		lease.IssuedAt = time.Now().UTC()
	}
	if lease.ExpiresAt.IsZero() {
		lease.ExpiresAt = lease.IssuedAt.Add(time.Duration(lease.TTLSeconds) * time.Second)
	}

	start := time.Now()
	var result LeaseAcquireResult
	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "TryAcquireLease", func() error {
		res, err := r.tryAcquireOnce(ctx, lease)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	observer.ObserveDbOperationDuration("acquire", "lease", lease.WorkspaceID, time.Since(start), err)
	if err != nil {
		return LeaseAcquireResult{}, checkConstraintViolation(err)
	}
	return result, nil
}

func (r *PostgresRepo) tryAcquireOnce(ctx context.Context, lease model.ConcurrencyLease) (LeaseAcquireResult, error) {
	var result LeaseAcquireResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", lease.WorkspaceID).Error; err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		var ws model.Workspace
		if err := tx.Where("workspace_id = ?", lease.WorkspaceID).Take(&ws).Error; err != nil {
			return err
		}
		if !ws.Active {
			result = LeaseAcquireResult{Reason: LeaseReasonWorkspaceInactive}
			return nil
		}

		now := lease.IssuedAt
		if err := tx.Where("workspace_id = ? AND expires_at <= ?", lease.WorkspaceID, now).
			Delete(&model.ConcurrencyLease{}).Error; err != nil {
			return err
		}

		var existing model.ConcurrencyLease
		err := tx.Where("workspace_id = ? AND external_call_id = ?", lease.WorkspaceID, lease.ExternalCallID).
			Take(&existing).Error
		switch {
		case err == nil:
			// Redelivery for a call that already holds a slot.
			existing.IssuedAt, existing.TTLSeconds, existing.ExpiresAt = lease.IssuedAt, lease.TTLSeconds, lease.ExpiresAt
			if err := tx.Model(&existing).Select("issued_at", "ttl_seconds", "expires_at").Updates(&existing).Error; err != nil {
				return err
			}
			live, err := countLive(tx, lease.WorkspaceID, now)
			if err != nil {
				return err
			}
			result = LeaseAcquireResult{Granted: true, Lease: &existing, Live: live}
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		live, err := countLive(tx, lease.WorkspaceID, now)
		if err != nil {
			return err
		}
		if live >= int64(ws.ConcurrencyLimit) {
			result = LeaseAcquireResult{Reason: LeaseReasonLimitReached, Live: live}
			return nil
		}

		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "workspace_id"}, {Name: "external_call_id"}}, DoNothing: true}).
			Create(&lease)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Where("workspace_id = ? AND external_call_id = ?", lease.WorkspaceID, lease.ExternalCallID).
				Take(&existing).Error; err != nil {
				return err
			}
			result = LeaseAcquireResult{Granted: true, Lease: &existing, Live: live}
			return nil
		}
		result = LeaseAcquireResult{Granted: true, Lease: &lease, Live: live + 1}
		return nil
	})
	if err != nil {
		return LeaseAcquireResult{}, err
	}

	logger.FromContext(ctx).Debug("Lease decision",
		zap.String("workspace_id", lease.WorkspaceID),
		zap.String("external_call_id", lease.ExternalCallID),
		zap.Bool("granted", result.Granted),
		zap.String("reason", result.Reason),
		zap.Int64("live", result.Live),
	)
	return result, nil
}

func countLive(tx *gorm.DB, workspaceID string, now time.Time) (int64, error) {
	var n int64
	err := tx.Model(&model.ConcurrencyLease{}).
		Where("workspace_id = ? AND expires_at > ?", workspaceID, now).
		Count(&n).Error
	return n, err
}

// ReleaseLease deletes the lease for a call and reports whether one existed.
func (r *PostgresRepo) ReleaseLease(ctx context.Context, workspaceID, callID string) (bool, error) {
	start := time.Now()
	var removed bool
	policy := newRetryPolicy(ctx, defaultRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "ReleaseLease", func() error {
		res := r.db.WithContext(ctx).
			Where("workspace_id = ? AND external_call_id = ?", workspaceID, callID).
			Delete(&model.ConcurrencyLease{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected > 0
		return nil
	})
	observer.ObserveDbOperationDuration("release", "lease", workspaceID, time.Since(start), err)
	if err != nil {
		return false, checkConstraintViolation(err)
	}
	return removed, nil
}

// DeleteExpiredLeases removes every lease whose TTL has elapsed at now.
func (r *PostgresRepo) DeleteExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	start := time.Now()
	var n int64
	policy := newRetryPolicy(ctx, defaultRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "DeleteExpiredLeases", func() error {
		res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&model.ConcurrencyLease{})
		if res.Error != nil {
			return res.Error
		}
		n = res.RowsAffected
		return nil
	})
	observer.ObserveDbOperationDuration("sweep", "lease", "", time.Since(start), err)
	if err != nil {
		return 0, checkConstraintViolation(err)
	}
	return n, nil
}

// CountLiveLeases counts unexpired leases for a workspace.
func (r *PostgresRepo) CountLiveLeases(ctx context.Context, workspaceID string, now time.Time) (int64, error) {
	var n int64
	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "CountLiveLeases", func() error {
		var err error
		n, err = countLive(r.db.WithContext(ctx), workspaceID, now)
		return err
	})
	if err != nil {
		return 0, checkConstraintViolation(err)
	}
	return n, nil
}

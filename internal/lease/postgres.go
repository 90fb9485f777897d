package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

const backendPostgres = "postgres"

// PostgresManager keeps leases as rows and relies on the repository to
// decide admission atomically per workspace.
type PostgresManager struct {
	repo storage.LeaseRepo
	now  func() time.Time
}

func NewPostgresManager(repo storage.LeaseRepo) *PostgresManager {
	return &PostgresManager{repo: repo, now: time.Now}
}

func (m *PostgresManager) Backend() string { return backendPostgres }

func (m *PostgresManager) Acquire(ctx context.Context, workspaceID, agentID, callID string, ttl time.Duration) (Decision, error) {
	ttl = effectiveTTL(ttl)
	issued := m.now().UTC()
	res, err := m.repo.TryAcquire(ctx, model.ConcurrencyLease{
		ID:             uuid.NewString(),
		WorkspaceID:    workspaceID,
		ExternalCallID: callID,
		AgentID:        agentID,
		IssuedAt:       issued,
		TTLSeconds:     int(ttl / time.Second),
		ExpiresAt:      issued.Add(ttl),
	})
	if err != nil {
		d := Decision{Reason: ReasonInternalError}
		observer.IncLeaseDecision(workspaceID, backendPostgres, d.Result())
		return d, fmt.Errorf("%w: %w", apperrors.ErrLeaseInternal, err)
	}

	d := Decision{Granted: res.Granted, Reason: Reason(res.Reason), Live: res.Live}
	if res.Granted && res.Lease != nil {
		d.LeaseID = res.Lease.ID
	}
	observer.IncLeaseDecision(workspaceID, backendPostgres, d.Result())
	logger.FromContext(ctx).Debug("Lease acquire",
		zap.Bool("granted", d.Granted),
		zap.String("reason", string(d.Reason)),
		zap.Int64("live", d.Live),
	)
	return d, nil
}

func (m *PostgresManager) Release(ctx context.Context, workspaceID, callID string) error {
	removed, err := m.repo.Release(ctx, workspaceID, callID)
	if err != nil {
		return fmt.Errorf("%w: release: %w", apperrors.ErrLeaseInternal, err)
	}
	observer.IncLeaseRelease(backendPostgres, removed)
	return nil
}

func (m *PostgresManager) SweepExpired(ctx context.Context) (int, error) {
	n, err := m.repo.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: sweep: %w", apperrors.ErrLeaseInternal, err)
	}
	return int(n), nil
}

var _ Manager = (*PostgresManager)(nil)

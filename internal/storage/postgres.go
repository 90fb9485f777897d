package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

// --- Retry Logic Configuration ---
const (
	defaultRetryInitialInterval = 50 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second
	defaultRetryMaxElapsedTime  = 10 * time.Second
	readRetryMaxElapsedTime     = 5 * time.Second  // More aggressive for reads
	commitRetryMaxElapsedTime   = 15 * time.Second // More tolerant for commits
)

func newRetryPolicy(ctx context.Context, maxElapsedTime time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitialInterval
	b.MaxInterval = defaultRetryMaxInterval
	b.MaxElapsedTime = maxElapsedTime
	b.Reset()
	return backoff.WithContext(b, ctx)
}

func retryableOperation(ctx context.Context, policy backoff.BackOffContext, opName string, operation func() error) error {
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying DB operation",
			zap.String("operation", opName),
			zap.Error(err),
			zap.Duration("after", d),
		)
	}

	return backoff.RetryNotify(func() error {
		err := operation()
		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) ||
			errors.Is(err, gorm.ErrInvalidTransaction) ||
			errors.Is(err, gorm.ErrDuplicatedKey) ||
			errors.Is(err, gorm.ErrForeignKeyViolated) {
			return backoff.Permanent(err)
		}
		if isTransientError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, notify)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 connection exception, class 53 insufficient resources,
		// deadlock and serialization failure.
		if strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			pgErr.Code == "40P01" ||
			pgErr.Code == "40001" {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	transientIndicators := []string{
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"broken pipe",
		"connection reset by peer",
		"could not translate host name",
		"no route to host",
		"database system is starting up",
		"connection timed out",
		"connection reset",
	}
	for _, indicator := range transientIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// isUniqueViolation reports whether err carries pg code 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// PostgresRepo implements every repository interface on one gorm connection.
type PostgresRepo struct {
	db    *gorm.DB
	namer tenantNamer
}

// tenantNamer qualifies table names with an optional schema.
type tenantNamer struct {
	schema.NamingStrategy
	schemaName string
}

// TableName implements the schema.Namer interface, overriding the default.
func (tn tenantNamer) TableName(table string) string {
	if tn.schemaName == "" {
		return table
	}
	return fmt.Sprintf("%q.%s", tn.schemaName, table)
}

// NewPostgresRepo connects, ensures the schema exists and optionally migrates.
// An empty schemaName leaves tables on the connection's search_path.
func NewPostgresRepo(dsn string, autoMigrate bool, schemaName string) (*PostgresRepo, error) {
	namer := tenantNamer{schemaName: schemaName}

	operationConnect := func() (*gorm.DB, error) {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			NamingStrategy: namer,
			Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			if isTransientError(err) {
				logger.Log.Warn("Failed to connect to postgres (transient), retrying...", zap.Error(err))
				return nil, err
			}
			return nil, backoff.Permanent(fmt.Errorf("failed to connect to postgres: %w", err))
		}
		return db, nil
	}

	notify := func(err error, d time.Duration) {
		logger.Log.Warn("Retrying DB connection", zap.Error(err), zap.Duration("after", d))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 1 * time.Minute

	db, err := backoff.RetryNotifyWithData(operationConnect, b, notify)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres after retries: %w", err)
	}

	closeOnErr := func() {
		if sqlDB, _ := db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
	}

	if schemaName != "" {
		logger.Log.Info("Ensuring PostgreSQL schema exists", zap.String("schema", schemaName))
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schemaName)).Error; err != nil {
			closeOnErr()
			return nil, fmt.Errorf("failed to create schema %s: %w", schemaName, err)
		}
	}

	repo := &PostgresRepo{db: db, namer: namer}

	if autoMigrate {
		logger.Log.Info("Running auto-migration", zap.String("schema", schemaName))
		if err := repo.AutoMigrate(); err != nil {
			closeOnErr()
			return nil, err
		}
	} else {
		logger.Log.Info("Auto-migration disabled")
	}

	return repo, nil
}

// NewPostgresRepoWithDB wraps an existing gorm handle. The handle's naming
// strategy decides table qualification.
func NewPostgresRepoWithDB(db *gorm.DB) *PostgresRepo {
	namer := tenantNamer{}
	if tn, ok := db.Config.NamingStrategy.(tenantNamer); ok {
		namer = tn
	}
	return &PostgresRepo{db: db, namer: namer}
}

// AutoMigrate creates or updates every table the pipeline uses.
func (r *PostgresRepo) AutoMigrate() error {
	err := r.db.AutoMigrate(
		&model.Workspace{},
		&model.Agent{},
		&model.Persona{},
		&model.CallRecord{},
		&model.ConcurrencyLease{},
		&model.Ticket{},
		&model.Appointment{},
		&model.CallRejection{},
	)
	if err != nil {
		logger.Log.Error("Auto-migration failed", zap.Error(err), zap.String("schema", r.namer.schemaName))
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *PostgresRepo) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}

	if closeErr := sqlDB.Close(); closeErr != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(closeErr))
		return fmt.Errorf("failed to close SQL DB: %w", closeErr)
	}

	logger.FromContext(ctx).Info("Database connection closed successfully")
	return nil
}

func checkConstraintViolation(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", apperrors.ErrDuplicate, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		// Class 23 — Integrity Constraint Violation
		case "23505": // unique_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrDuplicate, pgErr.ConstraintName, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: null value in column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "23514": // check_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)

		// Class 22 — Data Exception
		case "22001": // string_data_right_truncation
			return fmt.Errorf("%w: value too long for column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "22P02": // invalid_text_representation
			return fmt.Errorf("%w: invalid input syntax for type %s: %w", apperrors.ErrBadRequest, pgErr.DataTypeName, err)

		// Class 40 — Transaction Rollback
		case "40001", "40P01":
			return fmt.Errorf("%w: transaction rollback (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)

		default:
			if strings.HasPrefix(pgErr.Code, "53") {
				return fmt.Errorf("%w: insufficient resources (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			if strings.HasPrefix(pgErr.Code, "08") {
				return fmt.Errorf("%w: connection error (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			return fmt.Errorf("%w: unhandled pgcode %s: %w", apperrors.ErrDatabase, pgErr.Code, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
}

package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
)

// Queries are matched with sqlmock.QueryMatcherRegexp against short,
// quoted fragments. GORM adds LIMIT and ordering clauses whose rendering
// varies between versions, so full-statement matches are brittle.

const (
	testWorkspaceID = "ws-test-123"
	testCallID      = "call-abc-456"
)

// AnyTime matches any time.Time argument.
type AnyTime struct{}

// Match satisfies sqlmock.Argument interface
func (a AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

// --- Test Helpers ---

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		NamingStrategy:         tenantNamer{},
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	teardown := func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	}

	return gormDB, mock, teardown
}

func newMockRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	gormDB, mock, teardown := newMockDB(t)
	t.Cleanup(teardown)
	return NewPostgresRepoWithDB(gormDB), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func setStatus(status string) CallMergeFunc {
	return func(current *model.CallRecord) *model.CallRecord {
		next := &model.CallRecord{WorkspaceID: testWorkspaceID, ExternalCallID: testCallID}
		if current != nil {
			c := *current
			next = &c
		}
		next.Status = status
		return next
	}
}

// --- Test Cases ---

func TestIsTransientError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "Nil error", err: nil, expected: false},
		{name: "Context deadline exceeded", err: context.DeadlineExceeded, expected: true},
		{name: "Wrapped Context deadline exceeded", err: fmt.Errorf("operation failed: %w", context.DeadlineExceeded), expected: true},
		{name: "GORM Record Not Found", err: gorm.ErrRecordNotFound, expected: false},
		{name: "GORM Invalid Transaction", err: gorm.ErrInvalidTransaction, expected: false},
		{name: "PG Error - Connection Exception (08000)", err: &pgconn.PgError{Code: "08000"}, expected: true},
		{name: "PG Error - Insufficient Resources (53100)", err: &pgconn.PgError{Code: "53100"}, expected: true},
		{name: "PG Error - Deadlock Detected (40P01)", err: &pgconn.PgError{Code: "40P01"}, expected: true},
		{name: "PG Error - Serialization Failure (40001)", err: &pgconn.PgError{Code: "40001"}, expected: true},
		{name: "PG Error - Unique Violation (23505)", err: &pgconn.PgError{Code: "23505"}, expected: false},
		{name: "PG Error - Syntax Error (42601)", err: &pgconn.PgError{Code: "42601"}, expected: false},
		{name: "Network Error - Connection Refused", err: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), expected: true},
		{name: "Network Error - I/O Timeout", err: errors.New("read tcp 10.0.0.1:1234->10.0.0.2:5432: i/o timeout"), expected: true},
		{name: "Network Error - Broken Pipe", err: errors.New("write: broken pipe"), expected: true},
		{name: "Network Error - DB Starting Up", err: errors.New("FATAL: the database system is starting up"), expected: true},
		{name: "Generic Non-Transient Error", err: errors.New("some other database error"), expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isTransientError(tc.err))
		})
	}
}

func TestCheckConstraintViolation(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		target error
	}{
		{name: "record not found", err: gorm.ErrRecordNotFound, target: apperrors.ErrNotFound},
		{name: "gorm duplicated key", err: gorm.ErrDuplicatedKey, target: apperrors.ErrDuplicate},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505", ConstraintName: "idx_call_ws_ext"}, target: apperrors.ErrDuplicate},
		{name: "foreign key violation", err: &pgconn.PgError{Code: "23503"}, target: apperrors.ErrBadRequest},
		{name: "not null violation", err: &pgconn.PgError{Code: "23502", ColumnName: "workspace_id"}, target: apperrors.ErrBadRequest},
		{name: "value too long", err: &pgconn.PgError{Code: "22001"}, target: apperrors.ErrBadRequest},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, target: apperrors.ErrDatabase},
		{name: "connection class", err: &pgconn.PgError{Code: "08006"}, target: apperrors.ErrDatabase},
		{name: "deadline exceeded", err: context.DeadlineExceeded, target: apperrors.ErrTimeout},
		{name: "anything else", err: errors.New("boom"), target: apperrors.ErrDatabase},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := checkConstraintViolation(tc.err)
			assert.ErrorIs(t, got, tc.target)
			assert.ErrorIs(t, got, tc.err)
		})
	}

	assert.NoError(t, checkConstraintViolation(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("other")))
}

func TestTenantNamer(t *testing.T) {
	assert.Equal(t, "call_records", tenantNamer{}.TableName("call_records"))
	assert.Equal(t, `"calls_eu".call_records`, tenantNamer{schemaName: "calls_eu"}.TableName("call_records"))
	assert.Equal(t, "call_records", model.CallRecord{}.TableName(tenantNamer{}))
}

func TestUpsertCall(t *testing.T) {
	ctx := context.Background()
	selectCall := q(`SELECT * FROM "call_records" WHERE workspace_id = $1 AND external_call_id = $2`)
	callCols := []string{"id", "workspace_id", "external_call_id", "status", "user_turns", "tool_invoked"}

	t.Run("first delivery inserts", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(selectCall + ".*FOR UPDATE").WillReturnRows(sqlmock.NewRows(callCols))
		mock.ExpectExec(q(`INSERT INTO "call_records"`) + ".*" + q(`ON CONFLICT ("workspace_id","external_call_id") DO NOTHING`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		rec, created, err := repo.UpsertCall(ctx, testWorkspaceID, testCallID, setStatus("in-progress"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, testWorkspaceID, rec.WorkspaceID)
		assert.Equal(t, testCallID, rec.ExternalCallID)
		assert.Equal(t, "in-progress", rec.Status)
	})

	t.Run("existing row merges as update", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(selectCall + ".*FOR UPDATE").
			WillReturnRows(sqlmock.NewRows(callCols).AddRow("rec-1", testWorkspaceID, testCallID, "in-progress", 2, true))
		mock.ExpectExec(q(`UPDATE "call_records" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		rec, created, err := repo.UpsertCall(ctx, testWorkspaceID, testCallID, setStatus("ended"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "rec-1", rec.ID)
		assert.Equal(t, "ended", rec.Status)
		assert.Equal(t, 2, rec.UserTurns)
		assert.True(t, rec.ToolInvoked)
	})

	t.Run("concurrent insert falls back to update", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(selectCall + ".*FOR UPDATE").WillReturnRows(sqlmock.NewRows(callCols))
		mock.ExpectExec(q(`INSERT INTO "call_records"`)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(selectCall + ".*FOR UPDATE").
			WillReturnRows(sqlmock.NewRows(callCols).AddRow("rec-winner", testWorkspaceID, testCallID, "ringing", 0, false))
		mock.ExpectExec(q(`UPDATE "call_records" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		rec, created, err := repo.UpsertCall(ctx, testWorkspaceID, testCallID, setStatus("in-progress"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "rec-winner", rec.ID)
		assert.Equal(t, "in-progress", rec.Status)
	})

	t.Run("unique violation retried once as update", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(selectCall).WillReturnRows(sqlmock.NewRows(callCols))
		mock.ExpectExec(q(`INSERT INTO "call_records"`)).WillReturnError(&pgconn.PgError{Code: "23505"})
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectQuery(selectCall).
			WillReturnRows(sqlmock.NewRows(callCols).AddRow("rec-2", testWorkspaceID, testCallID, "ringing", 0, false))
		mock.ExpectExec(q(`UPDATE "call_records" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		rec, created, err := repo.UpsertCall(ctx, testWorkspaceID, testCallID, setStatus("in-progress"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "rec-2", rec.ID)
	})

	t.Run("permanent error is mapped", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(selectCall).WillReturnError(&pgconn.PgError{Code: "42601"})
		mock.ExpectRollback()

		_, _, err := repo.UpsertCall(ctx, testWorkspaceID, testCallID, setStatus("x"))
		require.Error(t, err)
		assert.True(t, apperrors.IsDatabaseError(err))
	})
}

func TestFindCall(t *testing.T) {
	ctx := context.Background()
	selectCall := q(`SELECT * FROM "call_records" WHERE workspace_id = $1 AND external_call_id = $2`)

	t.Run("found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(selectCall).
			WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "external_call_id", "status"}).
				AddRow("rec-1", testWorkspaceID, testCallID, "ended"))

		rec, err := repo.FindCall(ctx, testWorkspaceID, testCallID)
		require.NoError(t, err)
		assert.Equal(t, "ended", rec.Status)
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(selectCall).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		rec, err := repo.FindCall(ctx, testWorkspaceID, testCallID)
		assert.Nil(t, rec)
		assert.True(t, apperrors.IsNotFoundError(err))
	})
}

func TestDeleteCall(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(q(`DELETE FROM "call_records" WHERE workspace_id = $1 AND external_call_id = $2`)).
		WithArgs(testWorkspaceID, testCallID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteCall(context.Background(), testWorkspaceID, testCallID))
}

func TestCountRecentByCaller(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(q(`SELECT count(*) FROM "call_records" WHERE workspace_id = $1 AND from_phone = $2 AND created_at >= $3`)).
		WithArgs(testWorkspaceID, "+14155550100", AnyTime{}).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := repo.CountRecentByCaller(context.Background(), testWorkspaceID, "+14155550100", time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, err = repo.CountRecentByCaller(context.Background(), testWorkspaceID, "", time.Now())
	assert.True(t, apperrors.IsBadRequestError(err))
}

func TestTryAcquireLease(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	lease := model.ConcurrencyLease{
		WorkspaceID:    testWorkspaceID,
		ExternalCallID: testCallID,
		AgentID:        "agent-1",
		IssuedAt:       now,
		TTLSeconds:     900,
	}
	wsCols := []string{"workspace_id", "active", "concurrency_limit"}
	leaseCols := []string{"id", "workspace_id", "external_call_id", "issued_at", "ttl_seconds", "expires_at"}

	expectPrelude := func(mock sqlmock.Sqlmock, active bool, limit int) {
		mock.ExpectBegin()
		mock.ExpectExec(q(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
			WithArgs(testWorkspaceID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q(`SELECT * FROM "workspaces" WHERE workspace_id = $1`)).
			WillReturnRows(sqlmock.NewRows(wsCols).AddRow(testWorkspaceID, active, limit))
	}
	expectSweepAndLookup := func(mock sqlmock.Sqlmock, existing bool) {
		mock.ExpectExec(q(`DELETE FROM "concurrency_leases" WHERE workspace_id = $1 AND expires_at <= $2`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		rows := sqlmock.NewRows(leaseCols)
		if existing {
			rows.AddRow("lease-old", testWorkspaceID, testCallID, now.Add(-time.Minute), 900, now.Add(14*time.Minute))
		}
		mock.ExpectQuery(q(`SELECT * FROM "concurrency_leases" WHERE workspace_id = $1 AND external_call_id = $2`)).
			WillReturnRows(rows)
	}
	expectCount := func(mock sqlmock.Sqlmock, n int) {
		mock.ExpectQuery(q(`SELECT count(*) FROM "concurrency_leases" WHERE workspace_id = $1 AND expires_at > $2`)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
	}

	t.Run("granted under limit", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		expectPrelude(mock, true, 2)
		expectSweepAndLookup(mock, false)
		expectCount(mock, 1)
		mock.ExpectExec(q(`INSERT INTO "concurrency_leases"`)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := repo.TryAcquireLease(ctx, lease)
		require.NoError(t, err)
		assert.True(t, res.Granted)
		require.NotNil(t, res.Lease)
		assert.NotEmpty(t, res.Lease.ID)
		assert.Equal(t, now.Add(900*time.Second), res.Lease.ExpiresAt)
		assert.Equal(t, int64(2), res.Live)
	})

	t.Run("rejected at limit", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		expectPrelude(mock, true, 1)
		expectSweepAndLookup(mock, false)
		expectCount(mock, 1)
		mock.ExpectCommit()

		res, err := repo.TryAcquireLease(ctx, lease)
		require.NoError(t, err)
		assert.False(t, res.Granted)
		assert.Equal(t, LeaseReasonLimitReached, res.Reason)
		assert.Equal(t, int64(1), res.Live)
	})

	t.Run("existing lease is granted again", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		expectPrelude(mock, true, 1)
		expectSweepAndLookup(mock, true)
		mock.ExpectExec(q(`UPDATE "concurrency_leases" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
		expectCount(mock, 1)
		mock.ExpectCommit()

		res, err := repo.TryAcquireLease(ctx, lease)
		require.NoError(t, err)
		assert.True(t, res.Granted)
		assert.Equal(t, "lease-old", res.Lease.ID)
	})

	t.Run("inactive workspace", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		expectPrelude(mock, false, 5)
		mock.ExpectCommit()

		res, err := repo.TryAcquireLease(ctx, lease)
		require.NoError(t, err)
		assert.False(t, res.Granted)
		assert.Equal(t, LeaseReasonWorkspaceInactive, res.Reason)
	})

	t.Run("missing workspace", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(q(`SELECT pg_advisory_xact_lock`)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q(`SELECT * FROM "workspaces"`)).WillReturnRows(sqlmock.NewRows(wsCols))
		mock.ExpectRollback()

		_, err := repo.TryAcquireLease(ctx, lease)
		assert.True(t, apperrors.IsNotFoundError(err))
	})

	t.Run("missing key", func(t *testing.T) {
		repo, _ := newMockRepo(t)
		_, err := repo.TryAcquireLease(ctx, model.ConcurrencyLease{WorkspaceID: testWorkspaceID})
		assert.True(t, apperrors.IsBadRequestError(err))
	})
}

func TestReleaseLease(t *testing.T) {
	ctx := context.Background()
	del := q(`DELETE FROM "concurrency_leases" WHERE workspace_id = $1 AND external_call_id = $2`)

	t.Run("removes live lease", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(del).WithArgs(testWorkspaceID, testCallID).WillReturnResult(sqlmock.NewResult(0, 1))
		removed, err := repo.ReleaseLease(ctx, testWorkspaceID, testCallID)
		require.NoError(t, err)
		assert.True(t, removed)
	})

	t.Run("missing lease is a no-op", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(del).WithArgs(testWorkspaceID, testCallID).WillReturnResult(sqlmock.NewResult(0, 0))
		removed, err := repo.ReleaseLease(ctx, testWorkspaceID, testCallID)
		require.NoError(t, err)
		assert.False(t, removed)
	})
}

func TestDeleteExpiredLeases(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(q(`DELETE FROM "concurrency_leases" WHERE expires_at <= $1`)).
		WithArgs(AnyTime{}).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteExpiredLeases(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCreateTicket(t *testing.T) {
	ctx := context.Background()
	ticket := model.Ticket{
		WorkspaceID:    testWorkspaceID,
		ExternalCallID: testCallID,
		Subject:        "Support request",
		CreatedBy:      model.CreatedBySystem,
	}

	t.Run("inserted", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(q(`INSERT INTO "tickets"`) + ".*" + q(`DO NOTHING`)).WillReturnResult(sqlmock.NewResult(0, 1))

		stored, created, err := repo.CreateTicket(ctx, ticket)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, stored.ID)
		assert.Equal(t, model.CreatedBySystem, stored.CreatedBy)
	})

	t.Run("conflict returns existing", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(q(`INSERT INTO "tickets"`)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q(`SELECT * FROM "tickets" WHERE workspace_id = $1 AND external_call_id = $2`)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "external_call_id", "created_by", "external_ref"}).
				AddRow("tkt-1", testWorkspaceID, testCallID, "model", "EXT-9"))

		stored, created, err := repo.CreateTicket(ctx, ticket)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "tkt-1", stored.ID)
		assert.Equal(t, model.CreatedByModel, stored.CreatedBy)
		assert.Equal(t, "EXT-9", stored.ExternalRef)
	})
}

func TestFindArtifacts(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(q(`SELECT * FROM "tickets"`)).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(q(`SELECT * FROM "appointments"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "external_call_id", "created_by"}).
			AddRow("appt-1", testWorkspaceID, testCallID, "system"))

	arts, err := repo.FindArtifacts(context.Background(), testWorkspaceID, testCallID)
	require.NoError(t, err)
	assert.Nil(t, arts.Ticket)
	require.NotNil(t, arts.Appointment)
	assert.True(t, arts.Any())
	assert.True(t, arts.HasCreatedBy(model.CreatedBySystem))
}

func TestFindAgentByAssistantID(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(q(`SELECT * FROM "agents" WHERE assistant_id = $1`)).
			WillReturnRows(sqlmock.NewRows([]string{"agent_id", "workspace_id", "domain"}).AddRow("agent-1", testWorkspaceID, "support"))

		agent, err := repo.FindAgentByAssistantID(ctx, "asst-1")
		require.NoError(t, err)
		assert.Equal(t, "agent-1", agent.AgentID)
	})

	t.Run("empty id never queries", func(t *testing.T) {
		repo, _ := newMockRepo(t)
		_, err := repo.FindAgentByAssistantID(ctx, "")
		assert.True(t, apperrors.IsNotFoundError(err))
	})
}

func TestSaveRejection(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(q(`INSERT INTO "call_rejections"`) + ".*" + q(`DO NOTHING`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	err := repo.SaveRejection(context.Background(), model.CallRejection{
		WorkspaceID:    testWorkspaceID,
		ExternalCallID: testCallID,
		Reason:         LeaseReasonLimitReached,
	})
	require.NoError(t, err)
}

func TestRejectCall(t *testing.T) {
	ctx := context.Background()
	selectCall := q(`SELECT * FROM "call_records" WHERE workspace_id = $1 AND external_call_id = $2`)
	callCols := []string{"id", "workspace_id", "external_call_id", "status", "terminal_at", "completion_state"}
	rejection := model.CallRejection{
		WorkspaceID:    testWorkspaceID,
		ExternalCallID: testCallID,
		Reason:         LeaseReasonLimitReached,
	}

	t.Run("live record is replaced by the rejection", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(selectCall + ".*FOR UPDATE").
			WillReturnRows(sqlmock.NewRows(callCols).AddRow("rec-1", testWorkspaceID, testCallID, "in-progress", nil, nil))
		mock.ExpectExec(q(`DELETE FROM "call_records"`)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(q(`INSERT INTO "call_rejections"`) + ".*" + q(`DO NOTHING`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		rejected, err := repo.RejectCall(ctx, rejection)
		require.NoError(t, err)
		assert.True(t, rejected)
	})

	t.Run("record claimed by a terminal delivery is kept", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(selectCall + ".*FOR UPDATE").
			WillReturnRows(sqlmock.NewRows(callCols).AddRow("rec-1", testWorkspaceID, testCallID, "ended", time.Now(), nil))
		mock.ExpectCommit()

		rejected, err := repo.RejectCall(ctx, rejection)
		require.NoError(t, err)
		assert.False(t, rejected)
	})

	t.Run("missing record still records the rejection", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(selectCall + ".*FOR UPDATE").WillReturnRows(sqlmock.NewRows(callCols))
		mock.ExpectQuery(q(`INSERT INTO "call_rejections"`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		rejected, err := repo.RejectCall(ctx, rejection)
		require.NoError(t, err)
		assert.True(t, rejected)
	})
}

func TestIsRejected(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(q(`SELECT count(*) FROM "call_rejections"`)).
		WithArgs(testWorkspaceID, testCallID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rejected, err := repo.IsRejected(context.Background(), testWorkspaceID, testCallID)
	require.NoError(t, err)
	assert.True(t, rejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

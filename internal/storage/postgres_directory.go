package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
)

// FindAgentByAssistantID resolves the agent owning a provider assistant.
func (r *PostgresRepo) FindAgentByAssistantID(ctx context.Context, assistantID string) (*model.Agent, error) {
	return r.findAgent(ctx, "assistant_id", assistantID)
}

// FindAgentByPhoneNumberID resolves the agent owning a provider phone number.
func (r *PostgresRepo) FindAgentByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.Agent, error) {
	return r.findAgent(ctx, "phone_number_id", phoneNumberID)
}

func (r *PostgresRepo) findAgent(ctx context.Context, column, value string) (*model.Agent, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: empty %s", apperrors.ErrNotFound, column)
	}
	start := time.Now()
	var agent model.Agent
	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "FindAgent", func() error {
		return r.db.WithContext(ctx).Where(column+" = ?", value).Take(&agent).Error
	})
	observer.ObserveDbOperationDuration("find", "agent", "", time.Since(start), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &agent, nil
}

// FindWorkspace retrieves a workspace by id.
func (r *PostgresRepo) FindWorkspace(ctx context.Context, workspaceID string) (*model.Workspace, error) {
	start := time.Now()
	var ws model.Workspace
	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "FindWorkspace", func() error {
		return r.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Take(&ws).Error
	})
	observer.ObserveDbOperationDuration("find", "workspace", workspaceID, time.Since(start), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &ws, nil
}

// FindPersona retrieves a catalog persona by key.
func (r *PostgresRepo) FindPersona(ctx context.Context, key string) (*model.Persona, error) {
	var p model.Persona
	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "FindPersona", func() error {
		return r.db.WithContext(ctx).Where("key = ?", key).Take(&p).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &p, nil
}

// SaveWorkspace upserts a workspace.
func (r *PostgresRepo) SaveWorkspace(ctx context.Context, ws model.Workspace) error {
	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "SaveWorkspace", func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workspace_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "active", "concurrency_limit", "demo", "updated_at"}),
		}).Create(&ws).Error
	})
	return checkConstraintViolation(err)
}

// SaveAgent upserts an agent.
func (r *PostgresRepo) SaveAgent(ctx context.Context, agent model.Agent) error {
	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "SaveAgent", func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "agent_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"workspace_id", "assistant_id", "phone_number_id", "default_persona_key",
				"domain", "language", "active", "updated_at",
			}),
		}).Create(&agent).Error
	})
	return checkConstraintViolation(err)
}

// SavePersona upserts a persona catalog entry.
func (r *PostgresRepo) SavePersona(ctx context.Context, persona model.Persona) error {
	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	err := retryableOperation(ctx, policy, "SavePersona", func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"active", "updated_at"}),
		}).Create(&persona).Error
	})
	return checkConstraintViolation(err)
}

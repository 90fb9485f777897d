package storage

import (
	"context"
	"time"

	"github.com/denkuservices/denku-mvp-sub000/internal/model"
)

// CallRepoAdapter adapts the PostgresRepo to the CallRepo interface
type CallRepoAdapter struct {
	postgres *PostgresRepo
}

// NewCallRepoAdapter creates a new call repository adapter
func NewCallRepoAdapter(postgres *PostgresRepo) CallRepo {
	return &CallRepoAdapter{postgres: postgres}
}

func (a *CallRepoAdapter) Upsert(ctx context.Context, workspaceID, callID string, merge CallMergeFunc) (*model.CallRecord, bool, error) {
	return a.postgres.UpsertCall(ctx, workspaceID, callID, merge)
}

func (a *CallRepoAdapter) Find(ctx context.Context, workspaceID, callID string) (*model.CallRecord, error) {
	return a.postgres.FindCall(ctx, workspaceID, callID)
}

func (a *CallRepoAdapter) Delete(ctx context.Context, workspaceID, callID string) error {
	return a.postgres.DeleteCall(ctx, workspaceID, callID)
}

func (a *CallRepoAdapter) CountRecentByCaller(ctx context.Context, workspaceID, fromPhone string, since time.Time) (int64, error) {
	return a.postgres.CountRecentByCaller(ctx, workspaceID, fromPhone, since)
}

func (a *CallRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// LeaseRepoAdapter adapts the PostgresRepo to the LeaseRepo interface
type LeaseRepoAdapter struct {
	postgres *PostgresRepo
}

// NewLeaseRepoAdapter creates a new lease repository adapter
func NewLeaseRepoAdapter(postgres *PostgresRepo) LeaseRepo {
	return &LeaseRepoAdapter{postgres: postgres}
}

func (a *LeaseRepoAdapter) TryAcquire(ctx context.Context, lease model.ConcurrencyLease) (LeaseAcquireResult, error) {
	return a.postgres.TryAcquireLease(ctx, lease)
}

func (a *LeaseRepoAdapter) Release(ctx context.Context, workspaceID, callID string) (bool, error) {
	return a.postgres.ReleaseLease(ctx, workspaceID, callID)
}

func (a *LeaseRepoAdapter) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return a.postgres.DeleteExpiredLeases(ctx, now)
}

func (a *LeaseRepoAdapter) CountLive(ctx context.Context, workspaceID string, now time.Time) (int64, error) {
	return a.postgres.CountLiveLeases(ctx, workspaceID, now)
}

// ArtifactRepoAdapter adapts the PostgresRepo to the ArtifactRepo interface
type ArtifactRepoAdapter struct {
	postgres *PostgresRepo
}

// NewArtifactRepoAdapter creates a new artifact repository adapter
func NewArtifactRepoAdapter(postgres *PostgresRepo) ArtifactRepo {
	return &ArtifactRepoAdapter{postgres: postgres}
}

func (a *ArtifactRepoAdapter) FindArtifacts(ctx context.Context, workspaceID, callID string) (model.CallArtifacts, error) {
	return a.postgres.FindArtifacts(ctx, workspaceID, callID)
}

func (a *ArtifactRepoAdapter) CreateTicket(ctx context.Context, t model.Ticket) (*model.Ticket, bool, error) {
	return a.postgres.CreateTicket(ctx, t)
}

func (a *ArtifactRepoAdapter) CreateAppointment(ctx context.Context, appt model.Appointment) (*model.Appointment, bool, error) {
	return a.postgres.CreateAppointment(ctx, appt)
}

// DirectoryRepoAdapter adapts the PostgresRepo to the DirectoryRepo interface
type DirectoryRepoAdapter struct {
	postgres *PostgresRepo
}

// NewDirectoryRepoAdapter creates a new directory repository adapter
func NewDirectoryRepoAdapter(postgres *PostgresRepo) DirectoryRepo {
	return &DirectoryRepoAdapter{postgres: postgres}
}

func (a *DirectoryRepoAdapter) FindAgentByAssistantID(ctx context.Context, assistantID string) (*model.Agent, error) {
	return a.postgres.FindAgentByAssistantID(ctx, assistantID)
}

func (a *DirectoryRepoAdapter) FindAgentByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.Agent, error) {
	return a.postgres.FindAgentByPhoneNumberID(ctx, phoneNumberID)
}

func (a *DirectoryRepoAdapter) FindWorkspace(ctx context.Context, workspaceID string) (*model.Workspace, error) {
	return a.postgres.FindWorkspace(ctx, workspaceID)
}

func (a *DirectoryRepoAdapter) FindPersona(ctx context.Context, key string) (*model.Persona, error) {
	return a.postgres.FindPersona(ctx, key)
}

func (a *DirectoryRepoAdapter) SaveWorkspace(ctx context.Context, ws model.Workspace) error {
	return a.postgres.SaveWorkspace(ctx, ws)
}

func (a *DirectoryRepoAdapter) SaveAgent(ctx context.Context, agent model.Agent) error {
	return a.postgres.SaveAgent(ctx, agent)
}

func (a *DirectoryRepoAdapter) SavePersona(ctx context.Context, persona model.Persona) error {
	return a.postgres.SavePersona(ctx, persona)
}

// RejectionRepoAdapter adapts the PostgresRepo to the RejectionRepo interface
type RejectionRepoAdapter struct {
	postgres *PostgresRepo
}

// NewRejectionRepoAdapter creates a new rejection repository adapter
func NewRejectionRepoAdapter(postgres *PostgresRepo) RejectionRepo {
	return &RejectionRepoAdapter{postgres: postgres}
}

func (a *RejectionRepoAdapter) Save(ctx context.Context, rejection model.CallRejection) error {
	return a.postgres.SaveRejection(ctx, rejection)
}

func (a *RejectionRepoAdapter) Reject(ctx context.Context, rejection model.CallRejection) (bool, error) {
	return a.postgres.RejectCall(ctx, rejection)
}

func (a *RejectionRepoAdapter) IsRejected(ctx context.Context, workspaceID, callID string) (bool, error) {
	return a.postgres.IsRejected(ctx, workspaceID, callID)
}

// Ensure adapters implement the interfaces
var _ CallRepo = (*CallRepoAdapter)(nil)
var _ LeaseRepo = (*LeaseRepoAdapter)(nil)
var _ ArtifactRepo = (*ArtifactRepoAdapter)(nil)
var _ DirectoryRepo = (*DirectoryRepoAdapter)(nil)
var _ RejectionRepo = (*RejectionRepoAdapter)(nil)
var _ Pinger = (*PostgresRepo)(nil)

package storage

import (
	"context"
	"time"

	"github.com/denkuservices/denku-mvp-sub000/internal/model"
)

// CallMergeFunc computes the next state of a call record. current is nil when
// no row exists yet. The returned record must keep the (workspace, call) key.
type CallMergeFunc func(current *model.CallRecord) *model.CallRecord

// CallRepo defines call record storage operations
type CallRepo interface {
	// Upsert atomically creates or merges the record keyed by (workspaceID, callID).
	// created is true only for the delivery that inserted the row.
	Upsert(ctx context.Context, workspaceID, callID string, merge CallMergeFunc) (rec *model.CallRecord, created bool, err error)
	Find(ctx context.Context, workspaceID, callID string) (*model.CallRecord, error)
	Delete(ctx context.Context, workspaceID, callID string) error
	CountRecentByCaller(ctx context.Context, workspaceID, fromPhone string, since time.Time) (int64, error)
	Close(ctx context.Context) error
}

// Lease decision reasons shared by the lease backends.
const (
	LeaseReasonLimitReached      = "limit_reached"
	LeaseReasonWorkspaceInactive = "workspace_inactive"
)

// LeaseAcquireResult is the outcome of one admission decision.
type LeaseAcquireResult struct {
	Granted bool
	Reason  string
	Lease   *model.ConcurrencyLease
	Live    int64 // live leases for the workspace after the decision
}

// LeaseRepo defines concurrency lease storage operations
type LeaseRepo interface {
	// TryAcquire admits lease under the workspace concurrency limit.
	// An existing lease for the same call is refreshed and granted again.
	TryAcquire(ctx context.Context, lease model.ConcurrencyLease) (LeaseAcquireResult, error)
	// Release deletes the lease for the call. A missing lease is not an error.
	Release(ctx context.Context, workspaceID, callID string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	CountLive(ctx context.Context, workspaceID string, now time.Time) (int64, error)
}

// ArtifactRepo defines ticket and appointment storage operations
type ArtifactRepo interface {
	FindArtifacts(ctx context.Context, workspaceID, callID string) (model.CallArtifacts, error)
	// CreateTicket inserts t unless a ticket for the call exists. It returns
	// the stored row and whether this call inserted it.
	CreateTicket(ctx context.Context, t model.Ticket) (*model.Ticket, bool, error)
	CreateAppointment(ctx context.Context, a model.Appointment) (*model.Appointment, bool, error)
}

// DirectoryRepo defines agent, workspace and persona lookups
type DirectoryRepo interface {
	FindAgentByAssistantID(ctx context.Context, assistantID string) (*model.Agent, error)
	FindAgentByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.Agent, error)
	FindWorkspace(ctx context.Context, workspaceID string) (*model.Workspace, error)
	FindPersona(ctx context.Context, key string) (*model.Persona, error)
	SaveWorkspace(ctx context.Context, ws model.Workspace) error
	SaveAgent(ctx context.Context, agent model.Agent) error
	SavePersona(ctx context.Context, persona model.Persona) error
}

// RejectionRepo defines call rejection storage operations
type RejectionRepo interface {
	Save(ctx context.Context, rejection model.CallRejection) error
	// Reject deletes the call record and saves rejection atomically, unless a
	// terminal delivery already claimed the call. It reports whether the
	// rejection was recorded.
	Reject(ctx context.Context, rejection model.CallRejection) (bool, error)
	IsRejected(ctx context.Context, workspaceID, callID string) (bool, error)
}

// Pinger is implemented by stores that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

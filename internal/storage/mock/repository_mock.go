package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
)

// --- CallRepo Mock ---

// CallRepoMock mocks the CallRepo interface
type CallRepoMock struct {
	mock.Mock
}

// Upsert mocks the Upsert method. The merge function is not invoked; the
// record to return is configured on the expectation.
func (m *CallRepoMock) Upsert(ctx context.Context, workspaceID, callID string, merge storage.CallMergeFunc) (*model.CallRecord, bool, error) {
	args := m.Called(ctx, workspaceID, callID, merge)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.CallRecord), args.Bool(1), args.Error(2)
}

func (m *CallRepoMock) Find(ctx context.Context, workspaceID, callID string) (*model.CallRecord, error) {
	args := m.Called(ctx, workspaceID, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CallRecord), args.Error(1)
}

func (m *CallRepoMock) Delete(ctx context.Context, workspaceID, callID string) error {
	args := m.Called(ctx, workspaceID, callID)
	return args.Error(0)
}

func (m *CallRepoMock) CountRecentByCaller(ctx context.Context, workspaceID, fromPhone string, since time.Time) (int64, error) {
	args := m.Called(ctx, workspaceID, fromPhone, since)
	return args.Get(0).(int64), args.Error(1)
}

func (m *CallRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- LeaseRepo Mock ---

// LeaseRepoMock mocks the LeaseRepo interface
type LeaseRepoMock struct {
	mock.Mock
}

func (m *LeaseRepoMock) TryAcquire(ctx context.Context, lease model.ConcurrencyLease) (storage.LeaseAcquireResult, error) {
	args := m.Called(ctx, lease)
	return args.Get(0).(storage.LeaseAcquireResult), args.Error(1)
}

func (m *LeaseRepoMock) Release(ctx context.Context, workspaceID, callID string) (bool, error) {
	args := m.Called(ctx, workspaceID, callID)
	return args.Bool(0), args.Error(1)
}

func (m *LeaseRepoMock) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *LeaseRepoMock) CountLive(ctx context.Context, workspaceID string, now time.Time) (int64, error) {
	args := m.Called(ctx, workspaceID, now)
	return args.Get(0).(int64), args.Error(1)
}

// --- ArtifactRepo Mock ---

// ArtifactRepoMock mocks the ArtifactRepo interface
type ArtifactRepoMock struct {
	mock.Mock
}

func (m *ArtifactRepoMock) FindArtifacts(ctx context.Context, workspaceID, callID string) (model.CallArtifacts, error) {
	args := m.Called(ctx, workspaceID, callID)
	return args.Get(0).(model.CallArtifacts), args.Error(1)
}

func (m *ArtifactRepoMock) CreateTicket(ctx context.Context, t model.Ticket) (*model.Ticket, bool, error) {
	args := m.Called(ctx, t)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Ticket), args.Bool(1), args.Error(2)
}

func (m *ArtifactRepoMock) CreateAppointment(ctx context.Context, a model.Appointment) (*model.Appointment, bool, error) {
	args := m.Called(ctx, a)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Appointment), args.Bool(1), args.Error(2)
}

// --- DirectoryRepo Mock ---

// DirectoryRepoMock mocks the DirectoryRepo interface
type DirectoryRepoMock struct {
	mock.Mock
}

func (m *DirectoryRepoMock) FindAgentByAssistantID(ctx context.Context, assistantID string) (*model.Agent, error) {
	args := m.Called(ctx, assistantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Agent), args.Error(1)
}

func (m *DirectoryRepoMock) FindAgentByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.Agent, error) {
	args := m.Called(ctx, phoneNumberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Agent), args.Error(1)
}

func (m *DirectoryRepoMock) FindWorkspace(ctx context.Context, workspaceID string) (*model.Workspace, error) {
	args := m.Called(ctx, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Workspace), args.Error(1)
}

func (m *DirectoryRepoMock) FindPersona(ctx context.Context, key string) (*model.Persona, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Persona), args.Error(1)
}

func (m *DirectoryRepoMock) SaveWorkspace(ctx context.Context, ws model.Workspace) error {
	args := m.Called(ctx, ws)
	return args.Error(0)
}

func (m *DirectoryRepoMock) SaveAgent(ctx context.Context, agent model.Agent) error {
	args := m.Called(ctx, agent)
	return args.Error(0)
}

func (m *DirectoryRepoMock) SavePersona(ctx context.Context, persona model.Persona) error {
	args := m.Called(ctx, persona)
	return args.Error(0)
}

// --- RejectionRepo Mock ---

// RejectionRepoMock mocks the RejectionRepo interface
type RejectionRepoMock struct {
	mock.Mock
}

func (m *RejectionRepoMock) Save(ctx context.Context, rejection model.CallRejection) error {
	args := m.Called(ctx, rejection)
	return args.Error(0)
}

func (m *RejectionRepoMock) Reject(ctx context.Context, rejection model.CallRejection) (bool, error) {
	args := m.Called(ctx, rejection)
	return args.Bool(0), args.Error(1)
}

func (m *RejectionRepoMock) IsRejected(ctx context.Context, workspaceID, callID string) (bool, error) {
	args := m.Called(ctx, workspaceID, callID)
	return args.Bool(0), args.Error(1)
}

var (
	_ storage.CallRepo      = (*CallRepoMock)(nil)
	_ storage.LeaseRepo     = (*LeaseRepoMock)(nil)
	_ storage.ArtifactRepo  = (*ArtifactRepoMock)(nil)
	_ storage.DirectoryRepo = (*DirectoryRepoMock)(nil)
	_ storage.RejectionRepo = (*RejectionRepoMock)(nil)
)

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
)

// Store is an in-memory implementation of every storage interface for tests
// and local development. A single mutex gives it the same atomicity the
// Postgres repository gets from transactions and unique indexes.
type Store struct {
	mu sync.Mutex

	calls        map[string]model.CallRecord
	leases       map[string]model.ConcurrencyLease
	tickets      map[string]model.Ticket
	appointments map[string]model.Appointment
	rejections   map[string]model.CallRejection

	workspaces map[string]model.Workspace
	agents     map[string]model.Agent
	personas   map[string]model.Persona

	artifactErr error
	now         func() time.Time
}

func NewStore() *Store {
	return &Store{
		calls:        map[string]model.CallRecord{},
		leases:       map[string]model.ConcurrencyLease{},
		tickets:      map[string]model.Ticket{},
		appointments: map[string]model.Appointment{},
		rejections:   map[string]model.CallRejection{},
		workspaces:   map[string]model.Workspace{},
		agents:       map[string]model.Agent{},
		personas:     map[string]model.Persona{},
		now:          time.Now,
	}
}

func key(workspaceID, callID string) string { return workspaceID + "|" + callID }

// FailArtifacts makes every artifact operation return err until reset with nil.
func (s *Store) FailArtifacts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifactErr = err
}

// --- CallRepo ---

func (s *Store) Upsert(ctx context.Context, workspaceID, callID string, merge storage.CallMergeFunc) (*model.CallRecord, bool, error) {
	if workspaceID == "" || callID == "" {
		return nil, false, fmt.Errorf("%w: workspace and call id required", apperrors.ErrBadRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(workspaceID, callID)
	now := s.now().UTC()
	if cur, ok := s.calls[k]; ok {
		next := merge(&cur)
		next.ID, next.WorkspaceID, next.ExternalCallID = cur.ID, cur.WorkspaceID, cur.ExternalCallID
		next.CreatedAt, next.UpdatedAt = cur.CreatedAt, now
		s.calls[k] = *next
		out := *next
		return &out, false, nil
	}

	next := merge(nil)
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	next.WorkspaceID, next.ExternalCallID = workspaceID, callID
	next.CreatedAt, next.UpdatedAt = now, now
	s.calls[k] = *next
	out := *next
	return &out, true, nil
}

func (s *Store) Find(ctx context.Context, workspaceID, callID string) (*model.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[key(workspaceID, callID)]
	if !ok {
		return nil, fmt.Errorf("%w: call %s", apperrors.ErrNotFound, callID)
	}
	return &rec, nil
}

func (s *Store) Delete(ctx context.Context, workspaceID, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, key(workspaceID, callID))
	return nil
}

func (s *Store) CountRecentByCaller(ctx context.Context, workspaceID, fromPhone string, since time.Time) (int64, error) {
	if fromPhone == "" {
		return 0, fmt.Errorf("%w: from phone is required", apperrors.ErrBadRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.calls {
		if c.WorkspaceID != workspaceID || c.FromPhone == nil || *c.FromPhone != fromPhone {
			continue
		}
		if c.CreatedAt.Before(since) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *Store) Close(ctx context.Context) error { return nil }

// Calls returns a snapshot of all call records ordered by creation.
func (s *Store) Calls() []model.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CallRecord, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// --- LeaseRepo ---

func (s *Store) TryAcquire(ctx context.Context, lease model.ConcurrencyLease) (storage.LeaseAcquireResult, error) {
	if lease.WorkspaceID == "" || lease.ExternalCallID == "" {
		return storage.LeaseAcquireResult{}, fmt.Errorf("%w: lease requires workspace and call id", apperrors.ErrBadRequest)
	}
	if lease.ID == "" {
		lease.ID = uuid.NewString()
	}
	if lease.IssuedAt.IsZero() {
		lease.IssuedAt = s.now().UTC()
	}
	if lease.ExpiresAt.IsZero() {
		lease.ExpiresAt = lease.IssuedAt.Add(time.Duration(lease.TTLSeconds) * time.Second)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workspaces[lease.WorkspaceID]
	if !ok {
		return storage.LeaseAcquireResult{}, fmt.Errorf("%w: workspace %s", apperrors.ErrNotFound, lease.WorkspaceID)
	}
	if !ws.Active {
		return storage.LeaseAcquireResult{Reason: storage.LeaseReasonWorkspaceInactive}, nil
	}

	now := lease.IssuedAt
	for k, l := range s.leases {
		if l.WorkspaceID == lease.WorkspaceID && l.Expired(now) {
			delete(s.leases, k)
		}
	}

	k := key(lease.WorkspaceID, lease.ExternalCallID)
	if existing, ok := s.leases[k]; ok {
		existing.IssuedAt, existing.TTLSeconds, existing.ExpiresAt = lease.IssuedAt, lease.TTLSeconds, lease.ExpiresAt
		s.leases[k] = existing
		return storage.LeaseAcquireResult{Granted: true, Lease: &existing, Live: s.countLiveLocked(lease.WorkspaceID, now)}, nil
	}

	live := s.countLiveLocked(lease.WorkspaceID, now)
	if live >= int64(ws.ConcurrencyLimit) {
		return storage.LeaseAcquireResult{Reason: storage.LeaseReasonLimitReached, Live: live}, nil
	}
	s.leases[k] = lease
	return storage.LeaseAcquireResult{Granted: true, Lease: &lease, Live: live + 1}, nil
}

func (s *Store) countLiveLocked(workspaceID string, now time.Time) int64 {
	var n int64
	for _, l := range s.leases {
		if l.WorkspaceID == workspaceID && !l.Expired(now) {
			n++
		}
	}
	return n
}

func (s *Store) Release(ctx context.Context, workspaceID, callID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(workspaceID, callID)
	_, ok := s.leases[k]
	delete(s.leases, k)
	return ok, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, l := range s.leases {
		if l.Expired(now) {
			delete(s.leases, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) CountLive(ctx context.Context, workspaceID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLiveLocked(workspaceID, now), nil
}

// --- ArtifactRepo ---

func (s *Store) FindArtifacts(ctx context.Context, workspaceID, callID string) (model.CallArtifacts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifactErr != nil {
		return model.CallArtifacts{}, s.artifactErr
	}
	var out model.CallArtifacts
	k := key(workspaceID, callID)
	if t, ok := s.tickets[k]; ok {
		out.Ticket = &t
	}
	if a, ok := s.appointments[k]; ok {
		out.Appointment = &a
	}
	return out, nil
}

func (s *Store) CreateTicket(ctx context.Context, t model.Ticket) (*model.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifactErr != nil {
		return nil, false, s.artifactErr
	}
	k := key(t.WorkspaceID, t.ExternalCallID)
	if existing, ok := s.tickets[k]; ok {
		return &existing, false, nil
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = "open"
	}
	t.CreatedAt = s.now().UTC()
	s.tickets[k] = t
	return &t, true, nil
}

func (s *Store) CreateAppointment(ctx context.Context, a model.Appointment) (*model.Appointment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifactErr != nil {
		return nil, false, s.artifactErr
	}
	k := key(a.WorkspaceID, a.ExternalCallID)
	if existing, ok := s.appointments[k]; ok {
		return &existing, false, nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now().UTC()
	s.appointments[k] = a
	return &a, true, nil
}

// Tickets returns a snapshot of stored tickets.
func (s *Store) Tickets() []model.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}
	return out
}

// Appointments returns a snapshot of stored appointments.
func (s *Store) Appointments() []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Appointment, 0, len(s.appointments))
	for _, a := range s.appointments {
		out = append(out, a)
	}
	return out
}

// --- DirectoryRepo ---

func (s *Store) FindAgentByAssistantID(ctx context.Context, assistantID string) (*model.Agent, error) {
	return s.findAgent(func(a model.Agent) bool { return a.AssistantID != nil && *a.AssistantID == assistantID }, assistantID)
}

func (s *Store) FindAgentByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.Agent, error) {
	return s.findAgent(func(a model.Agent) bool { return a.PhoneNumberID != nil && *a.PhoneNumberID == phoneNumberID }, phoneNumberID)
}

func (s *Store) findAgent(match func(model.Agent) bool, id string) (*model.Agent, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty agent lookup key", apperrors.ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if match(a) {
			out := a
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: agent for %s", apperrors.ErrNotFound, id)
}

func (s *Store) FindWorkspace(ctx context.Context, workspaceID string) (*model.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return nil, fmt.Errorf("%w: workspace %s", apperrors.ErrNotFound, workspaceID)
	}
	return &ws, nil
}

func (s *Store) FindPersona(ctx context.Context, k string) (*model.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[k]
	if !ok {
		return nil, fmt.Errorf("%w: persona %s", apperrors.ErrNotFound, k)
	}
	return &p, nil
}

func (s *Store) SaveWorkspace(ctx context.Context, ws model.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[ws.WorkspaceID] = ws
	return nil
}

func (s *Store) SaveAgent(ctx context.Context, agent model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.AgentID] = agent
	return nil
}

func (s *Store) SavePersona(ctx context.Context, persona model.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[persona.Key] = persona
	return nil
}

// --- RejectionRepo ---

func (s *Store) Save(ctx context.Context, rejection model.CallRejection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveRejectionLocked(rejection)
	return nil
}

func (s *Store) Reject(ctx context.Context, rejection model.CallRejection) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(rejection.WorkspaceID, rejection.ExternalCallID)
	if cur, ok := s.calls[k]; ok && cur.TerminalObserved() {
		return false, nil
	}
	delete(s.calls, k)
	s.saveRejectionLocked(rejection)
	return true, nil
}

func (s *Store) saveRejectionLocked(rejection model.CallRejection) {
	k := key(rejection.WorkspaceID, rejection.ExternalCallID)
	if _, ok := s.rejections[k]; ok {
		return
	}
	rejection.ID = uint(len(s.rejections) + 1)
	rejection.CreatedAt = s.now().UTC()
	s.rejections[k] = rejection
}

func (s *Store) IsRejected(ctx context.Context, workspaceID, callID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rejections[key(workspaceID, callID)]
	return ok, nil
}

// Rejections returns a snapshot of recorded rejections.
func (s *Store) Rejections() []model.CallRejection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CallRejection, 0, len(s.rejections))
	for _, r := range s.rejections {
		out = append(out, r)
	}
	return out
}

func (s *Store) Ping(ctx context.Context) error { return nil }

var (
	_ storage.CallRepo      = (*Store)(nil)
	_ storage.LeaseRepo     = (*Store)(nil)
	_ storage.ArtifactRepo  = (*Store)(nil)
	_ storage.DirectoryRepo = (*Store)(nil)
	_ storage.RejectionRepo = (*Store)(nil)
	_ storage.Pinger        = (*Store)(nil)
)

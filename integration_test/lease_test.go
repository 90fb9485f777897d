//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/denkuservices/denku-mvp-sub000/internal/lease"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
)

type LeaseIntegrationSuite struct {
	BaseIntegrationSuite
}

func (s *LeaseIntegrationSuite) seedWorkspace(limit int) *model.Workspace {
	ws := model.NewWorkspace(&model.Workspace{ConcurrencyLimit: limit, Active: true})
	s.Require().NoError(s.Repo.SaveWorkspace(s.Ctx, *ws))
	return ws
}

// raceAcquire starts limit+1 acquisitions for distinct calls at once and
// returns how many were granted.
func (s *LeaseIntegrationSuite) raceAcquire(m lease.Manager, workspaceID string, attempts int) int64 {
	var (
		wg      sync.WaitGroup
		granted atomic.Int64
		start   = make(chan struct{})
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			d, err := m.Acquire(context.Background(), workspaceID, "agent_1", fmt.Sprintf("call_%d", i), time.Minute)
			s.NoError(err)
			if d.Granted {
				granted.Add(1)
			} else {
				s.Equal(lease.ReasonLimitReached, d.Reason)
			}
		}(i)
	}
	close(start)
	wg.Wait()
	return granted.Load()
}

func (s *LeaseIntegrationSuite) TestPostgres_LimitHoldsUnderRace() {
	const limit = 3
	ws := s.seedWorkspace(limit)
	m := lease.NewPostgresManager(storage.NewLeaseRepoAdapter(s.Repo))

	s.EqualValues(limit, s.raceAcquire(m, ws.WorkspaceID, limit+1))

	live, err := s.Repo.CountLiveLeases(s.Ctx, ws.WorkspaceID, time.Now())
	s.Require().NoError(err)
	s.EqualValues(limit, live)
}

func (s *LeaseIntegrationSuite) TestPostgres_ReacquireAndRelease() {
	ws := s.seedWorkspace(1)
	m := lease.NewPostgresManager(storage.NewLeaseRepoAdapter(s.Repo))

	first, err := m.Acquire(s.Ctx, ws.WorkspaceID, "agent_1", "call_a", time.Minute)
	s.Require().NoError(err)
	s.True(first.Granted)

	again, err := m.Acquire(s.Ctx, ws.WorkspaceID, "agent_1", "call_a", time.Minute)
	s.Require().NoError(err)
	s.True(again.Granted, "the same call does not consume a second slot")

	other, err := m.Acquire(s.Ctx, ws.WorkspaceID, "agent_1", "call_b", time.Minute)
	s.Require().NoError(err)
	s.False(other.Granted)

	s.Require().NoError(m.Release(s.Ctx, ws.WorkspaceID, "call_a"))
	s.Require().NoError(m.Release(s.Ctx, ws.WorkspaceID, "call_a"), "releasing twice is a no-op")

	other, err = m.Acquire(s.Ctx, ws.WorkspaceID, "agent_1", "call_b", time.Minute)
	s.Require().NoError(err)
	s.True(other.Granted)
}

func (s *LeaseIntegrationSuite) TestPostgres_InactiveWorkspace() {
	ws := model.NewWorkspace(&model.Workspace{ConcurrencyLimit: 5, Active: false})
	s.Require().NoError(s.Repo.SaveWorkspace(s.Ctx, *ws))
	m := lease.NewPostgresManager(storage.NewLeaseRepoAdapter(s.Repo))

	d, err := m.Acquire(s.Ctx, ws.WorkspaceID, "agent_1", "call_a", time.Minute)
	s.Require().NoError(err)
	s.False(d.Granted)
	s.Equal(lease.ReasonWorkspaceInactive, d.Reason)
}

func (s *LeaseIntegrationSuite) TestPostgres_SweepExpired() {
	ws := s.seedWorkspace(1)
	m := lease.NewPostgresManager(storage.NewLeaseRepoAdapter(s.Repo))

	d, err := m.Acquire(s.Ctx, ws.WorkspaceID, "agent_1", "call_a", time.Second)
	s.Require().NoError(err)
	s.Require().True(d.Granted)

	s.Eventually(func() bool {
		n, err := m.SweepExpired(s.Ctx)
		return err == nil && n == 1
	}, 10*time.Second, 500*time.Millisecond)

	d, err = m.Acquire(s.Ctx, ws.WorkspaceID, "agent_1", "call_b", time.Minute)
	s.Require().NoError(err)
	s.True(d.Granted)
}

func (s *LeaseIntegrationSuite) TestRedis_LimitHoldsUnderRace() {
	const limit = 4
	ws := s.seedWorkspace(limit)
	m := lease.NewRedisManager(s.Redis, storage.NewDirectoryRepoAdapter(s.Repo))

	s.EqualValues(limit, s.raceAcquire(m, ws.WorkspaceID, limit+1))

	live, err := m.Live(s.Ctx, ws.WorkspaceID)
	s.Require().NoError(err)
	s.EqualValues(limit, live)

	for i := 0; i <= limit; i++ {
		s.Require().NoError(m.Release(s.Ctx, ws.WorkspaceID, fmt.Sprintf("call_%d", i)))
	}
	live, err = m.Live(s.Ctx, ws.WorkspaceID)
	s.Require().NoError(err)
	s.Zero(live)
}

//go:build integration

package integration_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/artifact"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
)

type StorageIntegrationSuite struct {
	BaseIntegrationSuite
}

func (s *StorageIntegrationSuite) TestDirectoryRoundTrip() {
	ws := model.NewWorkspace()
	s.Require().NoError(s.Repo.SaveWorkspace(s.Ctx, *ws))
	agent := model.NewAgent(ws.WorkspaceID)
	s.Require().NoError(s.Repo.SaveAgent(s.Ctx, *agent))
	s.Require().NoError(s.Repo.SavePersona(s.Ctx, model.Persona{Key: "support_en", Active: true}))

	found, err := s.Repo.FindAgentByAssistantID(s.Ctx, *agent.AssistantID)
	s.Require().NoError(err)
	s.Equal(agent.AgentID, found.AgentID)

	found, err = s.Repo.FindAgentByPhoneNumberID(s.Ctx, *agent.PhoneNumberID)
	s.Require().NoError(err)
	s.Equal(ws.WorkspaceID, found.WorkspaceID)

	gotWS, err := s.Repo.FindWorkspace(s.Ctx, ws.WorkspaceID)
	s.Require().NoError(err)
	s.Equal(ws.ConcurrencyLimit, gotWS.ConcurrencyLimit)

	persona, err := s.Repo.FindPersona(s.Ctx, "support_en")
	s.Require().NoError(err)
	s.True(persona.Active)

	_, err = s.Repo.FindAgentByAssistantID(s.Ctx, "asst_missing")
	s.ErrorIs(err, apperrors.ErrNotFound)
}

func (s *StorageIntegrationSuite) TestUpsertCall_ConcurrentDeliveriesSerialize() {
	const deliveries = 20
	wsID := "ws_" + gofakeit.LetterN(8)
	callID := "call_" + gofakeit.LetterN(12)

	// Every delivery bumps the turn count so lost updates show up.
	bump := func(current *model.CallRecord) *model.CallRecord {
		if current == nil {
			return &model.CallRecord{Direction: model.DirectionInbound, UserTurns: 1}
		}
		next := *current
		next.UserTurns++
		return &next
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, c, err := s.Repo.UpsertCall(s.Ctx, wsID, callID, bump)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if c {
				created++
			}
		}()
	}
	wg.Wait()

	s.Empty(errs)
	s.Equal(1, created, "exactly one delivery creates the record")
	rec, err := s.Repo.FindCall(s.Ctx, wsID, callID)
	s.Require().NoError(err)
	s.Equal(deliveries, rec.UserTurns)
}

func (s *StorageIntegrationSuite) TestDeleteAndCountRecentByCaller() {
	ws := model.NewWorkspace()
	from := model.FakeE164()
	for i := 0; i < 3; i++ {
		rec := model.NewCallRecord(ws.WorkspaceID)
		rec.FromPhone = &from
		_, _, err := s.Repo.UpsertCall(s.Ctx, ws.WorkspaceID, rec.ExternalCallID, func(*model.CallRecord) *model.CallRecord { return rec })
		s.Require().NoError(err)
	}

	n, err := s.Repo.CountRecentByCaller(s.Ctx, ws.WorkspaceID, from, time.Now().Add(-time.Hour))
	s.Require().NoError(err)
	s.EqualValues(3, n)

	s.NoError(s.Repo.DeleteCall(s.Ctx, ws.WorkspaceID, "call_missing"))
}

func (s *StorageIntegrationSuite) TestRejections() {
	rejection := model.CallRejection{WorkspaceID: "ws_1", ExternalCallID: "call_1", Reason: storage.LeaseReasonLimitReached}
	s.Require().NoError(s.Repo.SaveRejection(s.Ctx, rejection))
	s.Require().NoError(s.Repo.SaveRejection(s.Ctx, rejection), "saving twice is a no-op")

	rejected, err := s.Repo.IsRejected(s.Ctx, "ws_1", "call_1")
	s.Require().NoError(err)
	s.True(rejected)

	rejected, err = s.Repo.IsRejected(s.Ctx, "ws_1", "call_2")
	s.Require().NoError(err)
	s.False(rejected)
}

func (s *StorageIntegrationSuite) TestEnsureTicket_ExactlyOnceUnderConcurrency() {
	const callers = 10
	guarantee := artifact.NewGuarantee(storage.NewArtifactRepoAdapter(s.Repo), nil)
	from := model.FakeE164()
	req := artifact.TicketRequest{
		WorkspaceID: "ws_" + gofakeit.LetterN(8),
		AgentID:     "agent_1",
		CallID:      "call_" + gofakeit.LetterN(12),
		FromPhone:   &from,
		PhoneCall:   true,
		Subject:     "Follow-up for support call",
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]struct{}{}
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := guarantee.EnsureTicket(context.Background(), req)
			s.NoError(err)
			mu.Lock()
			defer mu.Unlock()
			ids[res.Artifact.ID] = struct{}{}
			if res.Created {
				created++
			}
		}()
	}
	wg.Wait()

	s.Len(ids, 1, "every caller sees the same ticket")
	s.Equal(1, created)

	arts, err := s.Repo.FindArtifacts(s.Ctx, req.WorkspaceID, req.CallID)
	s.Require().NoError(err)
	s.Require().NotNil(arts.Ticket)
	s.Equal(model.CreatedBySystem, arts.Ticket.CreatedBy)
	s.Nil(arts.Appointment)
}

func (s *StorageIntegrationSuite) TestFindCall_Missing() {
	_, err := s.Repo.FindCall(s.Ctx, "ws_none", "call_none")
	s.True(errors.Is(err, apperrors.ErrNotFound))
}

//go:build integration

package integration_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/denkuservices/denku-mvp-sub000/internal/config"
	"github.com/denkuservices/denku-mvp-sub000/internal/lease"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
	"github.com/denkuservices/denku-mvp-sub000/internal/usecase"
)

type PipelineIntegrationSuite struct {
	BaseIntegrationSuite

	assistantID string
	ws          *model.Workspace
}

func (s *PipelineIntegrationSuite) SetupTest() {
	s.BaseIntegrationSuite.SetupTest()

	s.assistantID = "asst_" + gofakeit.LetterN(10)
	s.ws = model.NewWorkspace(&model.Workspace{ConcurrencyLimit: 2, Active: true})
	s.Require().NoError(s.Repo.SaveWorkspace(s.Ctx, *s.ws))
	s.Require().NoError(s.Repo.SaveAgent(s.Ctx, *model.NewAgent(s.ws.WorkspaceID, &model.Agent{AssistantID: &s.assistantID, Language: "en"})))
	s.Require().NoError(s.Repo.SavePersona(s.Ctx, model.Persona{Key: "booking_en", Active: true}))
}

func (s *PipelineIntegrationSuite) newService(leases lease.Manager) *usecase.CallService {
	cfg := &config.Config{}
	cfg.Lease.TTL = 15 * time.Minute
	cfg.Lease.SweepInterval = time.Minute
	cfg.Phone.DefaultRegion = "US"
	cfg.Persona.Fallback = "support_en"

	return usecase.NewCallService(cfg, usecase.Dependencies{
		Calls:      storage.NewCallRepoAdapter(s.Repo),
		Directory:  storage.NewDirectoryRepoAdapter(s.Repo),
		Artifacts:  storage.NewArtifactRepoAdapter(s.Repo),
		Rejections: storage.NewRejectionRepoAdapter(s.Repo),
		Leases:     leases,
	})
}

func (s *PipelineIntegrationSuite) postgresLeases() lease.Manager {
	return lease.NewPostgresManager(storage.NewLeaseRepoAdapter(s.Repo))
}

func (s *PipelineIntegrationSuite) send(svc *usecase.CallService, spec model.WebhookSpec) model.Outcome {
	spec.AssistantID = s.assistantID
	if spec.From == "" {
		spec.From = "+16502530000"
	}
	raw, err := json.Marshal(model.NewWebhookPayload(spec))
	s.Require().NoError(err)
	out, err := svc.HandleWebhook(s.Ctx, raw)
	s.Require().NoError(err)
	return out
}

func (s *PipelineIntegrationSuite) TestSupportCallLifecycle() {
	svc := s.newService(s.postgresLeases())

	out := s.send(svc, model.WebhookSpec{CallID: "call-1", Type: "status-update", Status: "in-progress"})
	s.Equal(model.OutcomeProcessed, out.Status)
	s.True(out.Created)

	rec, err := s.Repo.FindCall(s.Ctx, s.ws.WorkspaceID, "call-1")
	s.Require().NoError(err)
	s.NotNil(rec.LeaseID)

	out = s.send(svc, model.WebhookSpec{
		CallID: "call-1", Type: "end-of-call-report",
		Transcript: "My internet is not working and the router is broken",
		UserTurns:  4, Duration: 2 * time.Minute, Cost: 0.42,
	})
	s.Require().NotNil(out.Completion)
	s.Equal(model.CompletionCompleted, *out.Completion)
	s.Require().NotNil(out.Artifact)
	s.Equal(model.ArtifactTicket, out.Artifact.Type)

	rec, err = s.Repo.FindCall(s.Ctx, s.ws.WorkspaceID, "call-1")
	s.Require().NoError(err)
	s.Nil(rec.LeaseID)
	s.Require().NotNil(rec.Intent)
	s.Equal(model.IntentSupport, *rec.Intent)
	s.Equal(4, rec.UserTurns)

	live, err := s.Repo.CountLiveLeases(s.Ctx, s.ws.WorkspaceID, time.Now())
	s.Require().NoError(err)
	s.Zero(live)
}

func (s *PipelineIntegrationSuite) TestDuplicateReportsCreateOneArtifact() {
	svc := s.newService(s.postgresLeases())
	report := model.WebhookSpec{
		CallID: "call-dup", Type: "end-of-call-report",
		Transcript: "I'd like to book an appointment for tomorrow",
		UserTurns:  3, Duration: time.Minute,
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.send(svc, report)
		}()
	}
	wg.Wait()

	arts, err := s.Repo.FindArtifacts(s.Ctx, s.ws.WorkspaceID, "call-dup")
	s.Require().NoError(err)
	s.NotNil(arts.Appointment)
	s.Nil(arts.Ticket)
}

func (s *PipelineIntegrationSuite) TestAdmissionAcrossBackends() {
	backends := map[string]lease.Manager{
		"postgres": s.postgresLeases(),
		"redis":    lease.NewRedisManager(s.Redis, storage.NewDirectoryRepoAdapter(s.Repo)),
	}
	for name, leases := range backends {
		s.Run(name, func() {
			svc := s.newService(leases)
			prefix := name + "-"

			for i := 0; i < s.ws.ConcurrencyLimit; i++ {
				out := s.send(svc, model.WebhookSpec{CallID: fmt.Sprintf("%scall-%d", prefix, i), Type: "status-update", Status: "in-progress"})
				s.Equal(model.OutcomeProcessed, out.Status)
			}

			rejectedID := prefix + "call-over"
			out := s.send(svc, model.WebhookSpec{CallID: rejectedID, Type: "status-update", Status: "in-progress"})
			s.Equal(model.OutcomeRejected, out.Status)
			s.Equal(string(lease.ReasonLimitReached), out.Reason)

			_, err := s.Repo.FindCall(s.Ctx, s.ws.WorkspaceID, rejectedID)
			s.Error(err, "a rejected call leaves no record")

			out = s.send(svc, model.WebhookSpec{CallID: rejectedID, Type: "end-of-call-report", Duration: time.Minute})
			s.Equal(usecase.ReasonPreviouslyRejected, out.Reason)

			for i := 0; i < s.ws.ConcurrencyLimit; i++ {
				s.send(svc, model.WebhookSpec{CallID: fmt.Sprintf("%scall-%d", prefix, i), Type: "end-of-call-report", Duration: 5 * time.Second})
			}
			out = s.send(svc, model.WebhookSpec{CallID: prefix + "call-next", Type: "status-update", Status: "in-progress"})
			s.Equal(model.OutcomeProcessed, out.Status, "ended calls free their slots")
		})
	}
}

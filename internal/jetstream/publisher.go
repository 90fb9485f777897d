package jetstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
)

// dedupWindow lets JetStream drop a re-published finalize for the same call.
const dedupWindow = 10 * time.Minute

// FinalizedStreamConfig returns the stream holding finalized-call events.
func FinalizedStreamConfig(name, subject string) *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:       name,
		Subjects:   []string{subject},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: dedupWindow,
	}
}

// FinalizedPublisher emits model.CallFinalized events.
type FinalizedPublisher struct {
	client  ClientInterface
	subject string
}

func NewFinalizedPublisher(client ClientInterface, subject string) *FinalizedPublisher {
	return &FinalizedPublisher{client: client, subject: subject}
}

// PublishFinalized sends evt with a message id derived from the call, so
// duplicate finalizes collapse into one stream entry.
func (p *FinalizedPublisher) PublishFinalized(ctx context.Context, evt model.CallFinalized) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal finalized event: %w", err)
	}
	err = p.client.Publish(ctx, p.subject, data, map[string]string{
		nats.MsgIdHdr:  MsgID(evt.WorkspaceID, evt.ExternalCallID),
		"Workspace-Id": evt.WorkspaceID,
	})
	observer.IncEventPublished(err)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrNATS, err)
	}
	return nil
}

// MsgID is the JetStream dedup id for a call's finalized event.
func MsgID(workspaceID, callID string) string {
	return "finalized:" + workspaceID + ":" + callID
}

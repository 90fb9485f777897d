package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
	"github.com/denkuservices/denku-mvp-sub000/pkg/utils"
)

const (
	publishMaxRetries      = 3
	publishInitialInterval = 100 * time.Millisecond
	publishMaxInterval     = time.Second
)

// Client wraps NATS JetStream functionality
type Client struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new NATS JetStream client
func NewClient(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("denku-call-events"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, s *nats.Subscription, err error) {
			logger.Log.Error("NATS error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Client{
		nc: nc,
		js: js,
	}, nil
}

// SetupStream ensures the stream exists with the given configuration
func (c *Client) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	log := logger.FromContext(ctx)

	stream, err := c.js.StreamInfo(streamConfig.Name, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info for '%s': %w", streamConfig.Name, err)
	}

	switch {
	case stream == nil:
		if _, err = c.js.AddStream(streamConfig, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to add stream '%s': %w", streamConfig.Name, err)
		}
		log.Info("Created stream", zap.String("name", streamConfig.Name), zap.Strings("subjects", streamConfig.Subjects))
	case !utils.StreamConfigEqual(stream.Config, *streamConfig):
		if _, err = c.js.UpdateStream(streamConfig, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to update stream '%s': %w", streamConfig.Name, err)
		}
		log.Info("Updated stream", zap.String("name", streamConfig.Name), zap.Strings("subjects", streamConfig.Subjects))
	default:
		log.Debug("Stream up to date", zap.String("name", streamConfig.Name))
	}
	return nil
}

// Publish publishes a message to a subject with optional headers, retrying a
// few times with backoff while ctx allows.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = publishInitialInterval
	b.MaxInterval = publishMaxInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, publishMaxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		_, err := c.js.PublishMsg(msg, nats.Context(ctx))
		if err != nil && attempt <= publishMaxRetries {
			logger.FromContext(ctx).Debug("Publish failed, retrying",
				zap.String("subject", subject),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}, policy)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// NatsConn returns the underlying *nats.Conn
func (c *Client) NatsConn() *nats.Conn {
	return c.nc
}

// Close drains and closes the NATS connection
func (c *Client) Close() {
	if c.nc == nil {
		return
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
}

package utils

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestStreamConfigEqual(t *testing.T) {
	base := nats.StreamConfig{
		Name:       "CALLS",
		Subjects:   []string{"v1.calls.finalized"},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 2 * time.Minute,
	}

	tests := []struct {
		name   string
		mutate func(c *nats.StreamConfig)
		want   bool
	}{
		{"identical", func(c *nats.StreamConfig) {}, true},
		{"server-managed fields ignored", func(c *nats.StreamConfig) { c.Replicas = 3 }, true},
		{"extra subject", func(c *nats.StreamConfig) { c.Subjects = append(c.Subjects, "v1.calls.other") }, false},
		{"renamed", func(c *nats.StreamConfig) { c.Name = "CALLS_V2" }, false},
		{"memory storage", func(c *nats.StreamConfig) { c.Storage = nats.MemoryStorage }, false},
		{"work queue", func(c *nats.StreamConfig) { c.Retention = nats.WorkQueuePolicy }, false},
		{"shorter retention", func(c *nats.StreamConfig) { c.MaxAge = time.Hour }, false},
		{"dedup window", func(c *nats.StreamConfig) { c.Duplicates = 0 }, false},
		{"message cap", func(c *nats.StreamConfig) { c.MaxMsgs = 1000 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			other.Subjects = append([]string(nil), base.Subjects...)
			tt.mutate(&other)
			assert.Equal(t, tt.want, StreamConfigEqual(base, other))
		})
	}
}

package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// ConcurrencyLease is one counted live-call slot for a workspace.
type ConcurrencyLease struct {
	ID             string    `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	WorkspaceID    string    `json:"workspace_id" gorm:"column:workspace_id;not null;uniqueIndex:idx_lease_ws_call,priority:1;index:idx_lease_ws_exp,priority:1"`
	ExternalCallID string    `json:"external_call_id" gorm:"column:external_call_id;not null;uniqueIndex:idx_lease_ws_call,priority:2"`
	AgentID        string    `json:"agent_id,omitempty" gorm:"column:agent_id"`
	IssuedAt       time.Time `json:"issued_at" gorm:"column:issued_at;not null"`
	TTLSeconds     int       `json:"ttl_seconds" gorm:"column:ttl_seconds;not null"`
	ExpiresAt      time.Time `json:"expires_at" gorm:"column:expires_at;not null;index:idx_lease_ws_exp,priority:2"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (ConcurrencyLease) TableName(namer schema.Namer) string {
	return namer.TableName("concurrency_leases")
}

// Expired reports whether the lease TTL has elapsed at now.
func (l ConcurrencyLease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

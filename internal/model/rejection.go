package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// CallRejection records a call refused by admission control. It stands in
// for the call record, which is never created for a rejected call.
type CallRejection struct {
	ID             uint           `gorm:"primaryKey"`
	CreatedAt      time.Time      // Automatically set by GORM
	WorkspaceID    string         `gorm:"column:workspace_id;not null;uniqueIndex:idx_reject_ws_call,priority:1"`
	ExternalCallID string         `gorm:"column:external_call_id;not null;uniqueIndex:idx_reject_ws_call,priority:2"`
	AgentID        string         `gorm:"column:agent_id"`
	Reason         string         `gorm:"column:reason;index;not null"`
	Payload        datatypes.JSON `gorm:"column:payload;type:jsonb"`
}

// TableName specifies the table name for the CallRejection model, respecting the Namer.
func (CallRejection) TableName(namer schema.Namer) string {
	return namer.TableName("call_rejections")
}

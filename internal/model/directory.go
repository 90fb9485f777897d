package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Workspace is a tenant. Active=false means paused.
type Workspace struct {
	WorkspaceID      string    `json:"workspace_id" gorm:"column:workspace_id;primaryKey"`
	Name             string    `json:"name" gorm:"column:name"`
	Active           bool      `json:"active" gorm:"column:active;not null"`
	ConcurrencyLimit int       `json:"concurrency_limit" gorm:"column:concurrency_limit;default:1"`
	Demo             bool      `json:"demo" gorm:"column:demo;default:false"`
	CreatedAt        time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Workspace) TableName(namer schema.Namer) string {
	return namer.TableName("workspaces")
}

// Agent is the logical voice agent that owns provider assistants and numbers.
type Agent struct {
	AgentID           string    `json:"agent_id" gorm:"column:agent_id;primaryKey"`
	WorkspaceID       string    `json:"workspace_id" gorm:"column:workspace_id;not null;index"`
	AssistantID       *string   `json:"assistant_id,omitempty" gorm:"column:assistant_id;uniqueIndex"`
	PhoneNumberID     *string   `json:"phone_number_id,omitempty" gorm:"column:phone_number_id;uniqueIndex"`
	DefaultPersonaKey string    `json:"default_persona_key,omitempty" gorm:"column:default_persona_key"`
	Domain            string    `json:"domain,omitempty" gorm:"column:domain"`
	Language          string    `json:"language,omitempty" gorm:"column:language;default:en"`
	Active            bool      `json:"active" gorm:"column:active;not null"`
	CreatedAt         time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Agent) TableName(namer schema.Namer) string {
	return namer.TableName("agents")
}

// Persona is a catalog entry a model-facing prompt can be selected from.
type Persona struct {
	Key       string    `json:"key" gorm:"column:key;primaryKey"`
	Active    bool      `json:"active" gorm:"column:active;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Persona) TableName(namer schema.Namer) string {
	return namer.TableName("personas")
}

// TenantRef is the result of resolving an event to its owner.
type TenantRef struct {
	Agent     Agent
	Workspace Workspace
}

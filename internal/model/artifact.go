package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// CreatedBy distinguishes artifacts this pipeline guaranteed from ones the
// conversational model produced through its own tool call.
type CreatedBy string

const (
	CreatedBySystem CreatedBy = "system"
	CreatedByModel  CreatedBy = "model"
)

// ArtifactType names the kind of follow-up record a call produced.
type ArtifactType string

const (
	ArtifactTicket      ArtifactType = "ticket"
	ArtifactAppointment ArtifactType = "appointment"
)

// Ticket is a support ticket linked to at most one call.
type Ticket struct {
	ID             string    `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	WorkspaceID    string    `json:"workspace_id" gorm:"column:workspace_id;not null;uniqueIndex:idx_ticket_ws_call,priority:1"`
	ExternalCallID string    `json:"external_call_id" gorm:"column:external_call_id;not null;uniqueIndex:idx_ticket_ws_call,priority:2"`
	AgentID        string    `json:"agent_id,omitempty" gorm:"column:agent_id"`
	Subject        string    `json:"subject" gorm:"column:subject"`
	Description    string    `json:"description" gorm:"column:description;type:text"`
	ContactPhone   *string   `json:"contact_phone,omitempty" gorm:"column:contact_phone"`
	Status         string    `json:"status" gorm:"column:status;default:open"`
	CreatedBy      CreatedBy `json:"created_by" gorm:"column:created_by;not null"`
	ExternalRef    string    `json:"external_ref,omitempty" gorm:"column:external_ref"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Ticket) TableName(namer schema.Namer) string {
	return namer.TableName("tickets")
}

// Appointment is a booking request linked to at most one call.
type Appointment struct {
	ID             string    `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	WorkspaceID    string    `json:"workspace_id" gorm:"column:workspace_id;not null;uniqueIndex:idx_appt_ws_call,priority:1"`
	ExternalCallID string    `json:"external_call_id" gorm:"column:external_call_id;not null;uniqueIndex:idx_appt_ws_call,priority:2"`
	AgentID        string    `json:"agent_id,omitempty" gorm:"column:agent_id"`
	Subject        string    `json:"subject" gorm:"column:subject"`
	Description    string    `json:"description" gorm:"column:description;type:text"`
	ContactPhone   *string   `json:"contact_phone,omitempty" gorm:"column:contact_phone"`
	RequestedFor   string    `json:"requested_for,omitempty" gorm:"column:requested_for"`
	CreatedBy      CreatedBy `json:"created_by" gorm:"column:created_by;not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Appointment) TableName(namer schema.Namer) string {
	return namer.TableName("appointments")
}

// ArtifactRef is the type-erased view of a ticket or appointment.
type ArtifactRef struct {
	Type           ArtifactType `json:"type"`
	ID             string       `json:"id"`
	WorkspaceID    string       `json:"workspace_id"`
	ExternalCallID string       `json:"external_call_id"`
	ContactPhone   *string      `json:"contact_phone,omitempty"`
	CreatedBy      CreatedBy    `json:"created_by"`
}

// Ref returns the ticket as an ArtifactRef.
func (t Ticket) Ref() ArtifactRef {
	return ArtifactRef{Type: ArtifactTicket, ID: t.ID, WorkspaceID: t.WorkspaceID, ExternalCallID: t.ExternalCallID, ContactPhone: t.ContactPhone, CreatedBy: t.CreatedBy}
}

// Ref returns the appointment as an ArtifactRef.
func (a Appointment) Ref() ArtifactRef {
	return ArtifactRef{Type: ArtifactAppointment, ID: a.ID, WorkspaceID: a.WorkspaceID, ExternalCallID: a.ExternalCallID, ContactPhone: a.ContactPhone, CreatedBy: a.CreatedBy}
}

// CallArtifacts summarises what exists for one call.
type CallArtifacts struct {
	Ticket      *Ticket
	Appointment *Appointment
}

// Any reports whether at least one artifact exists.
func (c CallArtifacts) Any() bool {
	return c.Ticket != nil || c.Appointment != nil
}

// HasCreatedBy reports whether any artifact carries the given marker.
func (c CallArtifacts) HasCreatedBy(by CreatedBy) bool {
	return (c.Ticket != nil && c.Ticket.CreatedBy == by) || (c.Appointment != nil && c.Appointment.CreatedBy == by)
}

// Refs lists the existing artifacts.
func (c CallArtifacts) Refs() []ArtifactRef {
	refs := make([]ArtifactRef, 0, 2)
	if c.Ticket != nil {
		refs = append(refs, c.Ticket.Ref())
	}
	if c.Appointment != nil {
		refs = append(refs, c.Appointment.Ref())
	}
	return refs
}

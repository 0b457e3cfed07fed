package models

import (
	"encoding/json"
	"time"
)

type AuditAction string

const (
	AuditActionEdit   AuditAction = "EDIT"
	AuditActionCancel AuditAction = "CANCEL"
)

// AuditEntry is an append-only record of an administrative mutation.
type AuditEntry struct {
	ID             int             `json:"id"`
	ActorID        int             `json:"actor_id"`
	RegistrationID int             `json:"registration_id"`
	Action         AuditAction     `json:"action"`
	Payload        json.RawMessage `json:"payload"`
	Notes          string          `json:"notes"`
	CreatedAt      time.Time       `json:"created_at"`
}

type AuditFilter struct {
	RegistrationID *int
	ActorID        *int
	From           *time.Time
	To             *time.Time
	Limit          int
}

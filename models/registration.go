package models

import "time"

type RegistrationStatus string

const (
	RegistrationStatusPending    RegistrationStatus = "pending"
	RegistrationStatusConfirmed  RegistrationStatus = "confirmed"
	RegistrationStatusWaitlisted RegistrationStatus = "waitlisted"
	RegistrationStatusCancelled  RegistrationStatus = "cancelled"
)

// ActiveRegistrationStatuses are the statuses that count against the
// one-active-registration-per-participant-per-season rule. Cancelled rows are
// kept forever and never count.
var ActiveRegistrationStatuses = []string{
	string(RegistrationStatusPending),
	string(RegistrationStatusConfirmed),
	string(RegistrationStatusWaitlisted),
}

func (s RegistrationStatus) Valid() bool {
	switch s {
	case RegistrationStatusPending, RegistrationStatusConfirmed,
		RegistrationStatusWaitlisted, RegistrationStatusCancelled:
		return true
	}
	return false
}

type Registration struct {
	ID            int                   `json:"id"`
	ParticipantID int                   `json:"participant_id"`
	Season        int                   `json:"season"`
	Status        RegistrationStatus    `json:"status"`
	NeedsReview   bool                  `json:"needs_review"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	Assignments   []*ResourceAssignment `json:"assignments,omitempty"`
}

func (r *Registration) Active() bool {
	return r.Status != RegistrationStatusCancelled
}

// RegistrationFilter narrows registration listings.
type RegistrationFilter struct {
	ParticipantID *int
	Season        *int
	Status        *RegistrationStatus
	Limit         int
	Offset        int
}

package models

import "time"

type ResourceKind string

const (
	ResourceKindJob           ResourceKind = "job"
	ResourceKindShift         ResourceKind = "shift"
	ResourceKindCampingOption ResourceKind = "camping_option"
)

func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceKindJob, ResourceKindShift, ResourceKindCampingOption:
		return true
	}
	return false
}

type AssignmentState string

const (
	// AssignmentReserved holds a slot and counts against the resource capacity.
	AssignmentReserved AssignmentState = "reserved"
	// AssignmentWaitlisted records interest in a full resource without holding
	// a slot; promotion flips it to reserved.
	AssignmentWaitlisted AssignmentState = "waitlisted"
)

// ResourceRef identifies a capacity-limited resource in the catalog.
type ResourceRef struct {
	Kind ResourceKind `json:"kind"`
	ID   int          `json:"id"`
}

// ResourceAssignment is a junction row owned by its registration. It is
// created and destroyed only inside the owning registration's transaction.
type ResourceAssignment struct {
	ID             int             `json:"id"`
	RegistrationID int             `json:"registration_id"`
	ResourceKind   ResourceKind    `json:"resource_kind"`
	ResourceID     int             `json:"resource_id"`
	State          AssignmentState `json:"state"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (a *ResourceAssignment) Ref() ResourceRef {
	return ResourceRef{Kind: a.ResourceKind, ID: a.ResourceID}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/burnweek/camp-registration-system/models"
	"github.com/burnweek/camp-registration-system/repositories"
)

// FullPolicy decides what happens to an admission when a requested resource
// has no free slots.
type FullPolicy string

const (
	// FullPolicyReject fails the whole admission with a conflict.
	FullPolicyReject FullPolicy = "reject"
	// FullPolicyWaitlist admits the registration as waitlisted; the full
	// resource gets a waitlisted assignment that holds no slot.
	FullPolicyWaitlist FullPolicy = "waitlist"
)

// CapacityAllocator reserves and frees slots on capacity-limited resources.
// Every method takes the caller's transaction executor: a reservation and the
// owning registration mutation must commit or roll back together.
type CapacityAllocator struct {
	registrationRepo repositories.RegistrationRepository
	assignmentRepo   repositories.AssignmentRepository
	catalogRepo      repositories.CatalogRepository
	autoPromote      bool
	logger           *slog.Logger
}

func NewCapacityAllocator(
	registrationRepo repositories.RegistrationRepository,
	assignmentRepo repositories.AssignmentRepository,
	catalogRepo repositories.CatalogRepository,
	autoPromote bool,
	logger *slog.Logger,
) *CapacityAllocator {
	return &CapacityAllocator{
		registrationRepo: registrationRepo,
		assignmentRepo:   assignmentRepo,
		catalogRepo:      catalogRepo,
		autoPromote:      autoPromote,
		logger:           logger,
	}
}

// ReservationResult reports how a reservation round went. Waitlisted is set
// when at least one resource was full under the waitlist policy.
type ReservationResult struct {
	Waitlisted    bool
	FullResources []models.ResourceRef
}

// Reserve locks each requested resource, compares its reserved count to the
// declared maximum and creates the assignment rows for the registration.
func (a *CapacityAllocator) Reserve(ctx context.Context, exec repositories.SQLExecutor, registrationID int, refs []models.ResourceRef, policy FullPolicy) (*ReservationResult, error) {
	result := &ReservationResult{}

	for _, ref := range refs {
		free, err := a.hasFreeSlot(ctx, exec, ref)
		if err != nil {
			return nil, err
		}

		state := models.AssignmentReserved
		if !free {
			if policy == FullPolicyReject {
				return nil, fmt.Errorf("%s %d: %w", ref.Kind, ref.ID, ErrResourceFull)
			}
			state = models.AssignmentWaitlisted
			result.Waitlisted = true
			result.FullResources = append(result.FullResources, ref)
		}

		assignment := &models.ResourceAssignment{
			RegistrationID: registrationID,
			ResourceKind:   ref.Kind,
			ResourceID:     ref.ID,
			State:          state,
		}
		if err := a.assignmentRepo.Create(ctx, exec, assignment); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// ValidateRequested checks every requested resource against the catalog
// before any reservation happens: it must exist and be enabled.
func (a *CapacityAllocator) ValidateRequested(ctx context.Context, exec repositories.SQLExecutor, refs []models.ResourceRef) error {
	for _, ref := range refs {
		res, err := a.catalogRepo.GetResource(ctx, exec, ref)
		if err != nil {
			if errors.Is(err, repositories.ErrResourceNotFound) {
				return fmt.Errorf("%s %d: %w", ref.Kind, ref.ID, ErrResourceNotFound)
			}
			return err
		}
		if !res.Enabled {
			return fmt.Errorf("%s %d: %w", ref.Kind, ref.ID, ErrResourceDisabled)
		}
	}
	return nil
}

// hasFreeSlot locks the catalog row and compares the reserved count against
// the maximum. The row lock serializes concurrent reservations against the
// same resource, so the count cannot go stale before the caller commits.
func (a *CapacityAllocator) hasFreeSlot(ctx context.Context, exec repositories.SQLExecutor, ref models.ResourceRef) (bool, error) {
	if err := a.assignmentRepo.LockResource(ctx, exec, ref); err != nil {
		if errors.Is(err, repositories.ErrResourceNotFound) {
			return false, fmt.Errorf("%s %d: %w", ref.Kind, ref.ID, ErrResourceNotFound)
		}
		return false, err
	}

	res, err := a.catalogRepo.GetResource(ctx, exec, ref)
	if err != nil {
		return false, err
	}
	if res.Unlimited() {
		return true, nil
	}

	count, err := a.assignmentRepo.CountReserved(ctx, exec, ref)
	if err != nil {
		return false, err
	}
	return count < res.MaxSlots, nil
}

// Release frees every assignment of a registration and returns the resource
// refs that were actually holding slots.
func (a *CapacityAllocator) Release(ctx context.Context, exec repositories.SQLExecutor, registrationID int) ([]models.ResourceRef, error) {
	assignments, err := a.assignmentRepo.ListByRegistration(ctx, exec, registrationID)
	if err != nil {
		return nil, err
	}

	freed := make([]models.ResourceRef, 0, len(assignments))
	for _, assignment := range assignments {
		if assignment.State == models.AssignmentReserved {
			freed = append(freed, assignment.Ref())
		}
	}

	if err := a.assignmentRepo.DeleteByRegistration(ctx, exec, registrationID); err != nil {
		return nil, err
	}
	return freed, nil
}

// TryPromote attempts to turn one waitlisted registration into a pending one:
// every waitlisted resource it holds must have a free slot. Returns false
// without side effects when some resource is still full.
func (a *CapacityAllocator) TryPromote(ctx context.Context, exec repositories.SQLExecutor, reg *models.Registration) (bool, error) {
	assignments, err := a.assignmentRepo.ListByRegistration(ctx, exec, reg.ID)
	if err != nil {
		return false, err
	}

	for _, assignment := range assignments {
		if assignment.State != models.AssignmentWaitlisted {
			continue
		}
		free, err := a.hasFreeSlot(ctx, exec, assignment.Ref())
		if err != nil {
			return false, err
		}
		if !free {
			return false, nil
		}
	}

	if err := a.assignmentRepo.PromoteWaitlisted(ctx, exec, reg.ID); err != nil {
		return false, err
	}
	if err := a.registrationRepo.UpdateStatus(ctx, exec, reg.ID,
		models.RegistrationStatusWaitlisted, models.RegistrationStatusPending); err != nil {
		return false, err
	}
	return true, nil
}

// PromoteFreed runs after slots on the given resources were freed: for each
// resource it scans waitlisted registrations in FIFO order by creation time
// and promotes the oldest one whose full requested set now fits. Disabled
// when automatic promotion is configured off.
func (a *CapacityAllocator) PromoteFreed(ctx context.Context, exec repositories.SQLExecutor, freed []models.ResourceRef) ([]*models.Registration, error) {
	if !a.autoPromote || len(freed) == 0 {
		return nil, nil
	}

	promoted := make([]*models.Registration, 0)
	for _, ref := range freed {
		candidates, err := a.registrationRepo.ListWaitlistedByResource(ctx, exec, ref)
		if err != nil {
			return nil, err
		}
		for _, candidate := range candidates {
			ok, err := a.TryPromote(ctx, exec, candidate)
			if err != nil {
				return nil, err
			}
			if ok {
				candidate.Status = models.RegistrationStatusPending
				promoted = append(promoted, candidate)
				a.logger.InfoContext(ctx, "waitlisted registration promoted",
					slog.Int("registration_id", candidate.ID),
					slog.String("resource_kind", string(ref.Kind)),
					slog.Int("resource_id", ref.ID),
				)
				// One freed slot promotes at most one registration.
				break
			}
		}
	}
	return promoted, nil
}

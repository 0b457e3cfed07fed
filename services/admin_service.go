package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/burnweek/camp-registration-system/live"
	"github.com/burnweek/camp-registration-system/models"
	"github.com/burnweek/camp-registration-system/payments"
	"github.com/burnweek/camp-registration-system/repositories"
)

// AdminService performs privileged edits and cancellations. Every successful
// mutation appends one audit entry in the same transaction; refunds and
// notifications are side channels that never roll the mutation back.
//
// The service is role-agnostic: the HTTP layer verifies the admin capability
// and hands over only the actor id.
type AdminService struct {
	runner           repositories.TxRunner
	registrationRepo repositories.RegistrationRepository
	assignmentRepo   repositories.AssignmentRepository
	paymentRepo      repositories.PaymentRepository
	auditRepo        repositories.AuditRepository
	allocator        *CapacityAllocator
	gateway          payments.Gateway
	notifier         Notifier
	broadcaster      Broadcaster
	logger           *slog.Logger
}

func NewAdminService(
	runner repositories.TxRunner,
	registrationRepo repositories.RegistrationRepository,
	assignmentRepo repositories.AssignmentRepository,
	paymentRepo repositories.PaymentRepository,
	auditRepo repositories.AuditRepository,
	allocator *CapacityAllocator,
	gateway payments.Gateway,
	notifier Notifier,
	broadcaster Broadcaster,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		runner:           runner,
		registrationRepo: registrationRepo,
		assignmentRepo:   assignmentRepo,
		paymentRepo:      paymentRepo,
		auditRepo:        auditRepo,
		allocator:        allocator,
		gateway:          gateway,
		notifier:         notifier,
		broadcaster:      broadcaster,
		logger:           logger,
	}
}

type EditRegistrationInput struct {
	// ExpectedStatus is the status the admin saw when deciding on the edit.
	// When set and stale, the edit fails with a conflict instead of silently
	// overwriting a concurrent change.
	ExpectedStatus   *models.RegistrationStatus `json:"expected_status,omitempty"`
	Status           *models.RegistrationStatus `json:"status,omitempty"`
	JobIDs           *[]int                     `json:"job_ids,omitempty"`
	ShiftIDs         *[]int                     `json:"shift_ids,omitempty"`
	CampingOptionIDs *[]int                     `json:"camping_option_ids,omitempty"`
	Notes            string                     `json:"notes"`
	SendNotification bool                       `json:"send_notification"`
}

type CancelRegistrationInput struct {
	Reason           string `json:"reason"`
	ProcessRefund    bool   `json:"process_refund"`
	SendNotification bool   `json:"send_notification"`
}

// CancelResult reports refund outcomes alongside the cancelled registration.
// A failed refund does not undo the cancellation; it is retried out of band.
type CancelResult struct {
	Registration *models.Registration `json:"registration"`
	RefundErrors []string             `json:"refund_errors,omitempty"`
}

type auditSnapshot struct {
	StatusBefore models.RegistrationStatus `json:"status_before"`
	StatusAfter  models.RegistrationStatus `json:"status_after"`
	Resources    []models.ResourceRef      `json:"resources"`
	Reason       string                    `json:"reason,omitempty"`
}

// Edit forces a status transition and/or replaces resource assignments.
// Editing a cancelled row's status is rejected: only a fresh admission
// produces a new row for that participant and season.
func (s *AdminService) Edit(ctx context.Context, actorID, registrationID int, input EditRegistrationInput) (*models.Registration, error) {
	var reg *models.Registration
	var promoted []*models.Registration
	forcedCancel := false

	err := s.runner.RunInTx(ctx, func(tx repositories.SQLExecutor) error {
		var err error
		reg, err = s.registrationRepo.FindByIDForUpdate(ctx, tx, registrationID)
		if err != nil {
			if errors.Is(err, repositories.ErrRegistrationNotFound) {
				return ErrRegistrationNotFound
			}
			return err
		}

		if input.ExpectedStatus != nil && *input.ExpectedStatus != reg.Status {
			return ErrStaleStatus
		}

		statusBefore := reg.Status

		if input.Status != nil && *input.Status != reg.Status {
			if err := ValidateTransition(reg.Status, *input.Status); err != nil {
				return err
			}
			if err := s.registrationRepo.UpdateStatus(ctx, tx, reg.ID, reg.Status, *input.Status); err != nil {
				return err
			}
			reg.Status = *input.Status
			forcedCancel = reg.Status == models.RegistrationStatusCancelled
		}

		var freed []models.ResourceRef
		if forcedCancel {
			// Forcing the terminal state frees slots the same way Cancel
			// does; resource changes in the same request are moot then.
			freed, err = s.allocator.Release(ctx, tx, reg.ID)
		} else {
			freed, err = s.replaceAssignments(ctx, tx, reg, input)
		}
		if err != nil {
			return err
		}
		promoted, err = s.allocator.PromoteFreed(ctx, tx, freed)
		if err != nil {
			return err
		}

		reg.Assignments, err = s.assignmentRepo.ListByRegistration(ctx, tx, reg.ID)
		if err != nil {
			return err
		}

		resources := assignmentRefs(reg.Assignments)
		if forcedCancel {
			resources = refsOf(freed)
		}
		return s.appendAudit(ctx, tx, actorID, reg, models.AuditActionEdit, auditSnapshot{
			StatusBefore: statusBefore,
			StatusAfter:  reg.Status,
			Resources:    resources,
		}, input.Notes)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "registration edited by admin",
		slog.Int("registration_id", reg.ID),
		slog.Int("actor_id", actorID),
		slog.String("status", string(reg.Status)),
	)
	event := live.EventRegistrationUpdated
	if forcedCancel {
		event = live.EventRegistrationCancelled
	}
	broadcast(s.broadcaster, event, reg)
	s.notifyPromoted(ctx, promoted)
	if input.SendNotification {
		notify(ctx, s.notifier, s.logger, reg.ParticipantID, NotificationRegistrationUpdated, map[string]string{
			"registration_id": strconv.Itoa(reg.ID),
			"season":          strconv.Itoa(reg.Season),
			"status":          string(reg.Status),
		})
	}
	return reg, nil
}

// replaceAssignments reconciles the registration's junction rows with the
// requested per-kind id sets. Newly added resources re-run capacity checks
// under the reject policy: an admin edit never waitlists. Returns the refs
// whose slots were freed by removals.
func (s *AdminService) replaceAssignments(ctx context.Context, tx repositories.SQLExecutor, reg *models.Registration, input EditRegistrationInput) ([]models.ResourceRef, error) {
	desired := map[models.ResourceKind]*[]int{
		models.ResourceKindJob:           input.JobIDs,
		models.ResourceKindShift:         input.ShiftIDs,
		models.ResourceKindCampingOption: input.CampingOptionIDs,
	}

	current, err := s.assignmentRepo.ListByRegistration(ctx, tx, reg.ID)
	if err != nil {
		return nil, err
	}

	var freed []models.ResourceRef
	var added []models.ResourceRef

	for kind, ids := range desired {
		if ids == nil {
			continue // kind not part of the edit
		}

		want := make(map[int]bool, len(*ids))
		for _, id := range *ids {
			if id <= 0 {
				return nil, ErrValidationFailed
			}
			want[id] = true
		}

		have := make(map[int]models.AssignmentState)
		for _, a := range current {
			if a.ResourceKind == kind {
				have[a.ResourceID] = a.State
			}
		}

		for id, state := range have {
			if want[id] {
				continue
			}
			ref := models.ResourceRef{Kind: kind, ID: id}
			if err := s.assignmentRepo.DeleteByRegistrationAndRef(ctx, tx, reg.ID, ref); err != nil {
				return nil, err
			}
			if state == models.AssignmentReserved {
				freed = append(freed, ref)
			}
		}
		for id := range want {
			if _, ok := have[id]; !ok {
				added = append(added, models.ResourceRef{Kind: kind, ID: id})
			}
		}
	}

	if len(added) > 0 {
		if err := s.allocator.ValidateRequested(ctx, tx, added); err != nil {
			return nil, err
		}
		if _, err := s.allocator.Reserve(ctx, tx, reg.ID, added, FullPolicyReject); err != nil {
			return nil, err
		}
	}
	return freed, nil
}

// Cancel moves the registration to its terminal state, frees its slots,
// promotes from the waitlist and optionally initiates refunds. Cancelling an
// already cancelled registration is a no-op.
func (s *AdminService) Cancel(ctx context.Context, actorID, registrationID int, input CancelRegistrationInput) (*CancelResult, error) {
	var reg *models.Registration
	var promoted []*models.Registration
	alreadyCancelled := false

	err := s.runner.RunInTx(ctx, func(tx repositories.SQLExecutor) error {
		var err error
		reg, err = s.registrationRepo.FindByIDForUpdate(ctx, tx, registrationID)
		if err != nil {
			if errors.Is(err, repositories.ErrRegistrationNotFound) {
				return ErrRegistrationNotFound
			}
			return err
		}
		if reg.Status == models.RegistrationStatusCancelled {
			alreadyCancelled = true
			return nil
		}

		statusBefore := reg.Status
		if err := s.registrationRepo.UpdateStatus(ctx, tx, reg.ID, reg.Status, models.RegistrationStatusCancelled); err != nil {
			return err
		}
		reg.Status = models.RegistrationStatusCancelled

		freed, err := s.allocator.Release(ctx, tx, reg.ID)
		if err != nil {
			return err
		}
		promoted, err = s.allocator.PromoteFreed(ctx, tx, freed)
		if err != nil {
			return err
		}

		return s.appendAudit(ctx, tx, actorID, reg, models.AuditActionCancel, auditSnapshot{
			StatusBefore: statusBefore,
			StatusAfter:  models.RegistrationStatusCancelled,
			Resources:    refsOf(freed),
			Reason:       input.Reason,
		}, input.Reason)
	})
	if err != nil {
		return nil, err
	}

	result := &CancelResult{Registration: reg}
	if alreadyCancelled {
		return result, nil
	}

	s.logger.InfoContext(ctx, "registration cancelled by admin",
		slog.Int("registration_id", reg.ID),
		slog.Int("actor_id", actorID),
		slog.String("reason", input.Reason),
	)
	broadcast(s.broadcaster, live.EventRegistrationCancelled, reg)
	s.notifyPromoted(ctx, promoted)

	if input.ProcessRefund {
		result.RefundErrors = s.refundCompleted(ctx, reg.ID)
	}
	if input.SendNotification {
		notify(ctx, s.notifier, s.logger, reg.ParticipantID, NotificationRegistrationCancelled, map[string]string{
			"registration_id": strconv.Itoa(reg.ID),
			"season":          strconv.Itoa(reg.Season),
			"reason":          input.Reason,
		})
	}
	return result, nil
}

// refundCompleted initiates refunds for every completed payment of the
// registration. Runs after the cancellation committed: a gateway failure is
// reported to the caller and retried later, never rolled into the
// transaction.
func (s *AdminService) refundCompleted(ctx context.Context, registrationID int) []string {
	paymentsList, err := s.paymentRepo.ListByRegistration(ctx, nil, registrationID)
	if err != nil {
		return []string{err.Error()}
	}

	var refundErrors []string
	for _, p := range paymentsList {
		if p.Status != models.PaymentStatusCompleted {
			continue
		}
		if _, err := s.gateway.Refund(ctx, p.ProviderRef); err != nil {
			s.logger.ErrorContext(ctx, "refund failed",
				slog.Int("payment_id", p.ID),
				slog.String("provider_ref", p.ProviderRef),
				slog.Any("error", err),
			)
			refundErrors = append(refundErrors, err.Error())
			continue
		}
		err := s.runner.RunInTx(ctx, func(tx repositories.SQLExecutor) error {
			return s.paymentRepo.UpdateStatus(ctx, tx, p.ID, models.PaymentStatusRefunded)
		})
		if err != nil {
			refundErrors = append(refundErrors, err.Error())
		}
	}
	return refundErrors
}

func (s *AdminService) QueryAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	return s.auditRepo.Query(ctx, filter)
}

func (s *AdminService) appendAudit(ctx context.Context, tx repositories.SQLExecutor, actorID int, reg *models.Registration, action models.AuditAction, snapshot auditSnapshot, notes string) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.auditRepo.Append(ctx, tx, &models.AuditEntry{
		ActorID:        actorID,
		RegistrationID: reg.ID,
		Action:         action,
		Payload:        payload,
		Notes:          notes,
	})
}

// notifyPromoted broadcasts and notifies every registration a freed slot
// promoted off the waitlist. Promoted participants are always told their spot
// opened, independent of the caller's notification flag.
func (s *AdminService) notifyPromoted(ctx context.Context, promoted []*models.Registration) {
	for _, p := range promoted {
		broadcast(s.broadcaster, live.EventWaitlistPromoted, p)
		notify(ctx, s.notifier, s.logger, p.ParticipantID, NotificationWaitlistPromoted, map[string]string{
			"registration_id": strconv.Itoa(p.ID),
			"season":          strconv.Itoa(p.Season),
		})
	}
}

func assignmentRefs(assignments []*models.ResourceAssignment) []models.ResourceRef {
	refs := make([]models.ResourceRef, 0, len(assignments))
	for _, a := range assignments {
		refs = append(refs, a.Ref())
	}
	return refs
}

func refsOf(refs []models.ResourceRef) []models.ResourceRef {
	if refs == nil {
		return []models.ResourceRef{}
	}
	return refs
}

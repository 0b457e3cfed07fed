package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/burnweek/camp-registration-system/live"
	"github.com/burnweek/camp-registration-system/models"
	"github.com/burnweek/camp-registration-system/repositories"
)

// seasons are plain years; anything outside this range is a typo, not a camp.
const (
	minSeason = 2000
	maxSeason = 2100
)

// AdmissionService enforces the one-active-registration-per-(participant,
// season) invariant and creates registrations with their capacity
// reservations in a single transaction.
type AdmissionService struct {
	runner           repositories.TxRunner
	registrationRepo repositories.RegistrationRepository
	assignmentRepo   repositories.AssignmentRepository
	allocator        *CapacityAllocator
	fullPolicy       FullPolicy
	pendingTTL       time.Duration
	notifier         Notifier
	broadcaster      Broadcaster
	logger           *slog.Logger
}

func NewAdmissionService(
	runner repositories.TxRunner,
	registrationRepo repositories.RegistrationRepository,
	assignmentRepo repositories.AssignmentRepository,
	allocator *CapacityAllocator,
	fullPolicy FullPolicy,
	pendingTTL time.Duration,
	notifier Notifier,
	broadcaster Broadcaster,
	logger *slog.Logger,
) *AdmissionService {
	return &AdmissionService{
		runner:           runner,
		registrationRepo: registrationRepo,
		assignmentRepo:   assignmentRepo,
		allocator:        allocator,
		fullPolicy:       fullPolicy,
		pendingTTL:       pendingTTL,
		notifier:         notifier,
		broadcaster:      broadcaster,
		logger:           logger,
	}
}

type CreateRegistrationInput struct {
	ParticipantID    int   `json:"-"`
	Season           int   `json:"season"`
	JobIDs           []int `json:"job_ids"`
	ShiftIDs         []int `json:"shift_ids"`
	CampingOptionIDs []int `json:"camping_option_ids"`
}

func (in *CreateRegistrationInput) resourceRefs() []models.ResourceRef {
	refs := make([]models.ResourceRef, 0, len(in.JobIDs)+len(in.ShiftIDs)+len(in.CampingOptionIDs))
	for _, id := range in.JobIDs {
		refs = append(refs, models.ResourceRef{Kind: models.ResourceKindJob, ID: id})
	}
	for _, id := range in.ShiftIDs {
		refs = append(refs, models.ResourceRef{Kind: models.ResourceKindShift, ID: id})
	}
	for _, id := range in.CampingOptionIDs {
		refs = append(refs, models.ResourceRef{Kind: models.ResourceKindCampingOption, ID: id})
	}
	return refs
}

// Create admits a participant into a season. Concurrent calls for the same
// (participant, season) key serialize on the admission lock: exactly one
// wins, the rest fail with ErrDuplicateRegistration.
func (s *AdmissionService) Create(ctx context.Context, input CreateRegistrationInput) (*models.Registration, error) {
	if input.ParticipantID <= 0 {
		return nil, ErrValidationFailed
	}
	if input.Season < minSeason || input.Season > maxSeason {
		return nil, ErrInvalidSeason
	}
	refs := input.resourceRefs()
	for _, ref := range refs {
		if ref.ID <= 0 {
			return nil, ErrValidationFailed
		}
	}

	reg := &models.Registration{
		ParticipantID: input.ParticipantID,
		Season:        input.Season,
		Status:        models.RegistrationStatusPending,
	}

	err := s.runner.RunInTx(ctx, func(tx repositories.SQLExecutor) error {
		// Serialize the existence-check-then-insert per key. Without this
		// lock two concurrent admissions could both pass the count below:
		// cancelled rows make a unique index impossible.
		if err := s.registrationRepo.AcquireAdmissionLock(ctx, tx, input.ParticipantID, input.Season); err != nil {
			return err
		}

		active, err := s.registrationRepo.CountActiveByKey(ctx, tx, input.ParticipantID, input.Season)
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrDuplicateRegistration
		}

		if err := s.allocator.ValidateRequested(ctx, tx, refs); err != nil {
			return err
		}

		if err := s.registrationRepo.Create(ctx, tx, reg); err != nil {
			return err
		}

		result, err := s.allocator.Reserve(ctx, tx, reg.ID, refs, s.fullPolicy)
		if err != nil {
			return err
		}
		if result.Waitlisted {
			if err := s.registrationRepo.UpdateStatus(ctx, tx, reg.ID,
				models.RegistrationStatusPending, models.RegistrationStatusWaitlisted); err != nil {
				return err
			}
			reg.Status = models.RegistrationStatusWaitlisted
		}

		reg.Assignments, err = s.assignmentRepo.ListByRegistration(ctx, tx, reg.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "registration admitted",
		slog.Int("registration_id", reg.ID),
		slog.Int("participant_id", reg.ParticipantID),
		slog.Int("season", reg.Season),
		slog.String("status", string(reg.Status)),
	)
	broadcast(s.broadcaster, live.EventRegistrationCreated, reg)
	notify(ctx, s.notifier, s.logger, reg.ParticipantID, NotificationRegistrationCreated, map[string]string{
		"registration_id": strconv.Itoa(reg.ID),
		"season":          strconv.Itoa(reg.Season),
		"status":          string(reg.Status),
	})

	return reg, nil
}

func (s *AdmissionService) GetByID(ctx context.Context, id int) (*models.Registration, error) {
	reg, err := s.registrationRepo.FindByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationNotFound) {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}
	reg.Assignments, err = s.assignmentRepo.ListByRegistration(ctx, nil, reg.ID)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *AdmissionService) List(ctx context.Context, filter models.RegistrationFilter) ([]*models.Registration, error) {
	return s.registrationRepo.List(ctx, filter)
}

// ExpireStalePending cancels pending registrations whose dues were never paid
// within the TTL, freeing their slots and promoting from the waitlist. Run
// periodically by the scheduler.
func (s *AdmissionService) ExpireStalePending(ctx context.Context) (int, error) {
	if s.pendingTTL <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.pendingTTL)

	expired, err := s.registrationRepo.ListExpiredPending(ctx, nil, cutoff)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, reg := range expired {
		var promoted []*models.Registration
		err := s.runner.RunInTx(ctx, func(tx repositories.SQLExecutor) error {
			if err := s.registrationRepo.UpdateStatus(ctx, tx, reg.ID,
				models.RegistrationStatusPending, models.RegistrationStatusCancelled); err != nil {
				return err
			}
			freed, err := s.allocator.Release(ctx, tx, reg.ID)
			if err != nil {
				return err
			}
			promoted, err = s.allocator.PromoteFreed(ctx, tx, freed)
			return err
		})
		if err != nil {
			// A paid-or-cancelled-in-the-meantime row is not an error, the
			// predicate simply no longer matched.
			if errors.Is(err, repositories.ErrRegistrationStale) {
				continue
			}
			return cancelled, err
		}
		cancelled++
		reg.Status = models.RegistrationStatusCancelled
		broadcast(s.broadcaster, live.EventRegistrationCancelled, reg)
		for _, p := range promoted {
			broadcast(s.broadcaster, live.EventWaitlistPromoted, p)
			notify(ctx, s.notifier, s.logger, p.ParticipantID, NotificationWaitlistPromoted, map[string]string{
				"registration_id": strconv.Itoa(p.ID),
				"season":          strconv.Itoa(p.Season),
			})
		}
	}

	if cancelled > 0 {
		s.logger.InfoContext(ctx, "expired stale pending registrations", slog.Int("count", cancelled))
	}
	return cancelled, nil
}

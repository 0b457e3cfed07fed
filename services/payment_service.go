package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/burnweek/camp-registration-system/live"
	"github.com/burnweek/camp-registration-system/models"
	"github.com/burnweek/camp-registration-system/payments"
	"github.com/burnweek/camp-registration-system/repositories"
)

// Provider event types as delivered on the webhook.
const (
	ProviderEventCompleted = "payment.completed"
	ProviderEventFailed    = "payment.failed"
)

type ProviderEvent struct {
	Type        string `json:"type"`
	ProviderRef string `json:"provider_ref"`
}

// PaymentService initiates checkouts and reconciles asynchronous provider
// events against registration state. Event application is idempotent: the
// payment row is locked by provider reference, so a redelivered event sees
// the already-applied status and does nothing.
type PaymentService struct {
	runner           repositories.TxRunner
	paymentRepo      repositories.PaymentRepository
	registrationRepo repositories.RegistrationRepository
	allocator        *CapacityAllocator
	gateway          payments.Gateway
	providerName     string
	notifier         Notifier
	broadcaster      Broadcaster
	logger           *slog.Logger
}

func NewPaymentService(
	runner repositories.TxRunner,
	paymentRepo repositories.PaymentRepository,
	registrationRepo repositories.RegistrationRepository,
	allocator *CapacityAllocator,
	gateway payments.Gateway,
	providerName string,
	notifier Notifier,
	broadcaster Broadcaster,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		runner:           runner,
		paymentRepo:      paymentRepo,
		registrationRepo: registrationRepo,
		allocator:        allocator,
		gateway:          gateway,
		providerName:     providerName,
		notifier:         notifier,
		broadcaster:      broadcaster,
		logger:           logger,
	}
}

type CheckoutInput struct {
	RegistrationID int    `json:"-"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
}

type CheckoutOutput struct {
	Payment     *models.Payment `json:"payment"`
	CheckoutURL string          `json:"checkout_url"`
}

// InitiateCheckout creates a provider checkout session and a pending payment
// bound to the registration. The session id becomes the provider reference
// the webhook events are keyed by.
func (s *PaymentService) InitiateCheckout(ctx context.Context, input CheckoutInput) (*CheckoutOutput, error) {
	if input.AmountMinor <= 0 || len(input.Currency) != 3 {
		return nil, ErrValidationFailed
	}

	reg, err := s.registrationRepo.FindByID(ctx, nil, input.RegistrationID)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationNotFound) {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}
	if !reg.Active() {
		return nil, ErrRegistrationCancelled
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutParams{
		AmountMinor: input.AmountMinor,
		Currency:    input.Currency,
		Metadata: map[string]string{
			"registration_id": strconv.Itoa(reg.ID),
			"participant_id":  strconv.Itoa(reg.ParticipantID),
			"season":          strconv.Itoa(reg.Season),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}

	payment := &models.Payment{
		ParticipantID:  reg.ParticipantID,
		RegistrationID: reg.ID,
		AmountMinor:    input.AmountMinor,
		Currency:       input.Currency,
		Status:         models.PaymentStatusPending,
		Provider:       s.providerName,
		ProviderRef:    session.SessionID,
	}
	err = s.runner.RunInTx(ctx, func(tx repositories.SQLExecutor) error {
		return s.paymentRepo.Create(ctx, tx, payment)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "checkout session created",
		slog.Int("payment_id", payment.ID),
		slog.Int("registration_id", reg.ID),
		slog.String("provider_ref", payment.ProviderRef),
	)
	return &CheckoutOutput{Payment: payment, CheckoutURL: session.URL}, nil
}

// HandleProviderEvent applies one asynchronous provider event. Safe to call
// any number of times with the same event: duplicates are no-ops. The error
// return is for logging; the webhook endpoint acknowledges regardless, and
// provider redelivery plus idempotency covers transient failures.
func (s *PaymentService) HandleProviderEvent(ctx context.Context, event ProviderEvent) error {
	if event.ProviderRef == "" {
		return ErrValidationFailed
	}

	var confirmed *models.Registration

	err := s.runner.RunInTx(ctx, func(tx repositories.SQLExecutor) error {
		payment, err := s.paymentRepo.FindByProviderRefForUpdate(ctx, tx, event.ProviderRef)
		if err != nil {
			if errors.Is(err, repositories.ErrPaymentNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}

		switch event.Type {
		case ProviderEventCompleted:
			confirmed, err = s.applyCompleted(ctx, tx, payment)
			return err
		case ProviderEventFailed:
			// The registration is untouched: a failed payment leaves it
			// eligible for a fresh checkout attempt.
			if payment.Status != models.PaymentStatusPending {
				return nil
			}
			return s.paymentRepo.UpdateStatus(ctx, tx, payment.ID, models.PaymentStatusFailed)
		default:
			return fmt.Errorf("%w: unknown provider event type %q", ErrValidationFailed, event.Type)
		}
	})
	if err != nil {
		return err
	}

	if confirmed != nil {
		broadcast(s.broadcaster, live.EventRegistrationConfirmed, confirmed)
		notify(ctx, s.notifier, s.logger, confirmed.ParticipantID, NotificationRegistrationConfirmed, map[string]string{
			"registration_id": strconv.Itoa(confirmed.ID),
			"season":          strconv.Itoa(confirmed.Season),
		})
	}
	return nil
}

func (s *PaymentService) applyCompleted(ctx context.Context, tx repositories.SQLExecutor, payment *models.Payment) (*models.Registration, error) {
	if payment.Status == models.PaymentStatusCompleted {
		// Duplicate delivery.
		return nil, nil
	}

	if err := s.paymentRepo.UpdateStatus(ctx, tx, payment.ID, models.PaymentStatusCompleted); err != nil {
		return nil, err
	}

	reg, err := s.registrationRepo.FindByIDForUpdate(ctx, tx, payment.RegistrationID)
	if err != nil {
		return nil, err
	}

	switch reg.Status {
	case models.RegistrationStatusPending:
		if err := s.registrationRepo.UpdateStatus(ctx, tx, reg.ID,
			models.RegistrationStatusPending, models.RegistrationStatusConfirmed); err != nil {
			return nil, err
		}
		reg.Status = models.RegistrationStatusConfirmed
		return reg, nil

	case models.RegistrationStatusWaitlisted:
		// Payment for a waitlisted registration: confirmation needs the
		// waitlisted resources to actually fit now.
		ok, err := s.allocator.TryPromote(ctx, tx, reg)
		if err != nil {
			return nil, err
		}
		if !ok {
			// The resource filled in the interim. The payment stays
			// completed; the registration is flagged for manual
			// reconciliation instead of silently dropping the money.
			if err := s.registrationRepo.SetNeedsReview(ctx, tx, reg.ID, true); err != nil {
				return nil, err
			}
			s.logger.WarnContext(ctx, "payment completed but capacity reconciliation failed",
				slog.Int("registration_id", reg.ID),
				slog.Int("payment_id", payment.ID),
			)
			return nil, nil
		}
		if err := s.registrationRepo.UpdateStatus(ctx, tx, reg.ID,
			models.RegistrationStatusPending, models.RegistrationStatusConfirmed); err != nil {
			return nil, err
		}
		reg.Status = models.RegistrationStatusConfirmed
		return reg, nil

	default:
		// Confirmed or cancelled: record the payment, touch nothing else.
		return nil, nil
	}
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burnweek/camp-registration-system/models"
	"github.com/burnweek/camp-registration-system/repositories"
	"github.com/burnweek/camp-registration-system/services"
)

// Minimal stubs for the single code path the webhook endpoint drives: one
// pending payment bound to one pending registration.

type stubTxRunner struct{}

func (stubTxRunner) RunInTx(ctx context.Context, fn func(tx repositories.SQLExecutor) error) error {
	return fn(nil)
}

type stubPaymentRepo struct {
	payment *models.Payment
}

func (s *stubPaymentRepo) Create(ctx context.Context, exec repositories.SQLExecutor, p *models.Payment) error {
	return errors.New("not implemented")
}

func (s *stubPaymentRepo) FindByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Payment, error) {
	return nil, repositories.ErrPaymentNotFound
}

func (s *stubPaymentRepo) FindByProviderRefForUpdate(ctx context.Context, exec repositories.SQLExecutor, providerRef string) (*models.Payment, error) {
	if s.payment != nil && s.payment.ProviderRef == providerRef {
		p := *s.payment
		return &p, nil
	}
	return nil, repositories.ErrPaymentNotFound
}

func (s *stubPaymentRepo) UpdateStatus(ctx context.Context, exec repositories.SQLExecutor, id int, status models.PaymentStatus) error {
	if s.payment == nil || s.payment.ID != id {
		return repositories.ErrPaymentNotFound
	}
	s.payment.Status = status
	return nil
}

func (s *stubPaymentRepo) ListByRegistration(ctx context.Context, exec repositories.SQLExecutor, registrationID int) ([]*models.Payment, error) {
	return nil, nil
}

type stubRegistrationRepo struct {
	registration *models.Registration
}

func (s *stubRegistrationRepo) AcquireAdmissionLock(ctx context.Context, exec repositories.SQLExecutor, participantID, season int) error {
	return nil
}

func (s *stubRegistrationRepo) Create(ctx context.Context, exec repositories.SQLExecutor, reg *models.Registration) error {
	return errors.New("not implemented")
}

func (s *stubRegistrationRepo) FindByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Registration, error) {
	return s.FindByIDForUpdate(ctx, exec, id)
}

func (s *stubRegistrationRepo) FindByIDForUpdate(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Registration, error) {
	if s.registration != nil && s.registration.ID == id {
		r := *s.registration
		return &r, nil
	}
	return nil, repositories.ErrRegistrationNotFound
}

func (s *stubRegistrationRepo) CountActiveByKey(ctx context.Context, exec repositories.SQLExecutor, participantID, season int) (int, error) {
	return 0, nil
}

func (s *stubRegistrationRepo) UpdateStatus(ctx context.Context, exec repositories.SQLExecutor, id int, expected, next models.RegistrationStatus) error {
	if s.registration == nil || s.registration.ID != id {
		return repositories.ErrRegistrationNotFound
	}
	if s.registration.Status != expected {
		return repositories.ErrRegistrationStale
	}
	s.registration.Status = next
	return nil
}

func (s *stubRegistrationRepo) SetNeedsReview(ctx context.Context, exec repositories.SQLExecutor, id int, needsReview bool) error {
	return nil
}

func (s *stubRegistrationRepo) List(ctx context.Context, filter models.RegistrationFilter) ([]*models.Registration, error) {
	return nil, nil
}

func (s *stubRegistrationRepo) ListBySeason(ctx context.Context, season int) ([]*models.Registration, error) {
	return nil, nil
}

func (s *stubRegistrationRepo) ListWaitlistedByResource(ctx context.Context, exec repositories.SQLExecutor, ref models.ResourceRef) ([]*models.Registration, error) {
	return nil, nil
}

func (s *stubRegistrationRepo) ListExpiredPending(ctx context.Context, exec repositories.SQLExecutor, cutoff time.Time) ([]*models.Registration, error) {
	return nil, nil
}

func newWebhookFixture() (*WebhookHandler, *stubPaymentRepo, *stubRegistrationRepo) {
	paymentRepo := &stubPaymentRepo{
		payment: &models.Payment{
			ID:             1,
			RegistrationID: 10,
			Status:         models.PaymentStatusPending,
			ProviderRef:    "sess_0001",
		},
	}
	registrationRepo := &stubRegistrationRepo{
		registration: &models.Registration{
			ID:            10,
			ParticipantID: 7,
			Season:        2026,
			Status:        models.RegistrationStatusPending,
		},
	}
	logger := testLogger()
	paymentService := services.NewPaymentService(
		stubTxRunner{}, paymentRepo, registrationRepo, nil, nil, "stripe", nil, nil, logger,
	)
	return NewWebhookHandler(paymentService, logger), paymentRepo, registrationRepo
}

func TestWebhookHandler(t *testing.T) {
	t.Run("completed event confirms and acknowledges", func(t *testing.T) {
		handler, paymentRepo, registrationRepo := newWebhookFixture()

		body := `{"type":"payment.completed","provider_ref":"sess_0001"}`
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.HandleProviderEvent(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, models.PaymentStatusCompleted, paymentRepo.payment.Status)
		assert.Equal(t, models.RegistrationStatusConfirmed, registrationRepo.registration.Status)
	})

	t.Run("unknown reference is still acknowledged", func(t *testing.T) {
		handler, _, _ := newWebhookFixture()

		body := `{"type":"payment.completed","provider_ref":"sess_other"}`
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.HandleProviderEvent(rec, req)

		// The provider must not retry forever over rows we will never have.
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		handler, _, _ := newWebhookFixture()

		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{"type":`))
		rec := httptest.NewRecorder()
		handler.HandleProviderEvent(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing fields are rejected", func(t *testing.T) {
		handler, _, _ := newWebhookFixture()

		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{"type":"payment.completed"}`))
		rec := httptest.NewRecorder()
		handler.HandleProviderEvent(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

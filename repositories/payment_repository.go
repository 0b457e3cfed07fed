package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/burnweek/camp-registration-system/models"
	"github.com/lib/pq"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentRefConflict fires on a duplicate provider reference; the
	// provider_ref column carries the only uniqueness guarantee in the payment
	// path.
	ErrPaymentRefConflict = errors.New("payment with this provider reference already exists")
)

type PaymentRepository interface {
	Create(ctx context.Context, exec SQLExecutor, p *models.Payment) error
	FindByID(ctx context.Context, exec SQLExecutor, id int) (*models.Payment, error)
	// FindByProviderRefForUpdate locks the payment row so duplicate provider
	// events for the same reference apply one at a time.
	FindByProviderRefForUpdate(ctx context.Context, exec SQLExecutor, providerRef string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.PaymentStatus) error
	ListByRegistration(ctx context.Context, exec SQLExecutor, registrationID int) ([]*models.Payment, error)
}

type postgresPaymentRepository struct {
	db *sql.DB
}

func NewPostgresPaymentRepository(db *sql.DB) PaymentRepository {
	return &postgresPaymentRepository{db: db}
}

func (r *postgresPaymentRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const paymentColumns = `id, participant_id, registration_id, amount_minor, currency, status, provider, provider_ref, created_at, updated_at`

func (r *postgresPaymentRepository) Create(ctx context.Context, exec SQLExecutor, p *models.Payment) error {
	query := `
		INSERT INTO payments (participant_id, registration_id, amount_minor, currency, status, provider, provider_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		p.ParticipantID,
		p.RegistrationID,
		p.AmountMinor,
		p.Currency,
		p.Status,
		p.Provider,
		p.ProviderRef,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrPaymentRefConflict
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *postgresPaymentRepository) scanPayment(rowScanner interface {
	Scan(dest ...interface{}) error
}, p *models.Payment) error {
	return rowScanner.Scan(
		&p.ID,
		&p.ParticipantID,
		&p.RegistrationID,
		&p.AmountMinor,
		&p.Currency,
		&p.Status,
		&p.Provider,
		&p.ProviderRef,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
}

func (r *postgresPaymentRepository) findOne(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) (*models.Payment, error) {
	p := &models.Payment{}
	row := r.getExecutor(exec).QueryRowContext(ctx, query, args...)
	if err := r.scanPayment(row, p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return p, nil
}

func (r *postgresPaymentRepository) FindByID(ctx context.Context, exec SQLExecutor, id int) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.findOne(ctx, exec, query, id)
}

func (r *postgresPaymentRepository) FindByProviderRefForUpdate(ctx context.Context, exec SQLExecutor, providerRef string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_ref = $1 FOR UPDATE`
	return r.findOne(ctx, exec, query, providerRef)
}

func (r *postgresPaymentRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.PaymentStatus) error {
	query := `UPDATE payments SET status = $1, updated_at = now() WHERE id = $2`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return checkAffectedRows(result, ErrPaymentNotFound)
}

func (r *postgresPaymentRepository) ListByRegistration(ctx context.Context, exec SQLExecutor, registrationID int) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE registration_id = $1 ORDER BY created_at ASC`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, registrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]*models.Payment, 0)
	for rows.Next() {
		var p models.Payment
		if err := r.scanPayment(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment rows: %w", err)
	}
	return payments, nil
}

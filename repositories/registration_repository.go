package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/burnweek/camp-registration-system/models"
	"github.com/lib/pq"
)

var (
	ErrRegistrationNotFound = errors.New("registration not found")
	// ErrRegistrationStale means the expected-status predicate matched no row:
	// another actor moved the registration first.
	ErrRegistrationStale = errors.New("registration status changed concurrently")
)

type RegistrationRepository interface {
	// AcquireAdmissionLock serializes admission for one (participant, season)
	// key. The lock is transaction-scoped and released at commit or rollback,
	// so it holds across stateless service instances.
	AcquireAdmissionLock(ctx context.Context, exec SQLExecutor, participantID, season int) error
	Create(ctx context.Context, exec SQLExecutor, reg *models.Registration) error
	FindByID(ctx context.Context, exec SQLExecutor, id int) (*models.Registration, error)
	FindByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Registration, error)
	CountActiveByKey(ctx context.Context, exec SQLExecutor, participantID, season int) (int, error)
	// UpdateStatus moves id from expected to next. Returns
	// ErrRegistrationStale when the row exists but no longer holds expected.
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, expected, next models.RegistrationStatus) error
	SetNeedsReview(ctx context.Context, exec SQLExecutor, id int, needsReview bool) error
	List(ctx context.Context, filter models.RegistrationFilter) ([]*models.Registration, error)
	ListBySeason(ctx context.Context, season int) ([]*models.Registration, error)
	// ListWaitlistedByResource returns waitlisted registrations holding a
	// waitlisted assignment on the resource, oldest first (FIFO promotion
	// order).
	ListWaitlistedByResource(ctx context.Context, exec SQLExecutor, ref models.ResourceRef) ([]*models.Registration, error)
	// ListExpiredPending returns pending registrations created before the
	// cutoff with no completed payment.
	ListExpiredPending(ctx context.Context, exec SQLExecutor, cutoff time.Time) ([]*models.Registration, error)
}

type postgresRegistrationRepository struct {
	db *sql.DB
}

func NewPostgresRegistrationRepository(db *sql.DB) RegistrationRepository {
	return &postgresRegistrationRepository{db: db}
}

func (r *postgresRegistrationRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresRegistrationRepository) AcquireAdmissionLock(ctx context.Context, exec SQLExecutor, participantID, season int) error {
	// Two-key advisory lock keyed on (participant, season). There is no row
	// to lock before the first insert and cancelled rows rule out a unique
	// index, so this is the per-key serialization point for admission.
	query := `SELECT pg_advisory_xact_lock($1::int, $2::int)`
	if _, err := r.getExecutor(exec).ExecContext(ctx, query, participantID, season); err != nil {
		return fmt.Errorf("failed to acquire admission lock: %w", err)
	}
	return nil
}

func (r *postgresRegistrationRepository) Create(ctx context.Context, exec SQLExecutor, reg *models.Registration) error {
	query := `
		INSERT INTO registrations (participant_id, season, status)
		VALUES ($1, $2, $3)
		RETURNING id, needs_review, created_at, updated_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		reg.ParticipantID,
		reg.Season,
		reg.Status,
	).Scan(&reg.ID, &reg.NeedsReview, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create registration: %w", err)
	}
	return nil
}

func (r *postgresRegistrationRepository) scanRegistration(rowScanner interface {
	Scan(dest ...interface{}) error
}, reg *models.Registration) error {
	return rowScanner.Scan(
		&reg.ID,
		&reg.ParticipantID,
		&reg.Season,
		&reg.Status,
		&reg.NeedsReview,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	)
}

const registrationColumns = `id, participant_id, season, status, needs_review, created_at, updated_at`

func (r *postgresRegistrationRepository) findOne(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) (*models.Registration, error) {
	reg := &models.Registration{}
	row := r.getExecutor(exec).QueryRowContext(ctx, query, args...)
	if err := r.scanRegistration(row, reg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to find registration: %w", err)
	}
	return reg, nil
}

func (r *postgresRegistrationRepository) FindByID(ctx context.Context, exec SQLExecutor, id int) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE id = $1`
	return r.findOne(ctx, exec, query, id)
}

func (r *postgresRegistrationRepository) FindByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE id = $1 FOR UPDATE`
	return r.findOne(ctx, exec, query, id)
}

func (r *postgresRegistrationRepository) CountActiveByKey(ctx context.Context, exec SQLExecutor, participantID, season int) (int, error) {
	query := `
		SELECT COUNT(*) FROM registrations
		WHERE participant_id = $1 AND season = $2 AND status = ANY($3)`

	var count int
	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		participantID, season, pq.Array(models.ActiveRegistrationStatuses),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active registrations: %w", err)
	}
	return count, nil
}

func (r *postgresRegistrationRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, expected, next models.RegistrationStatus) error {
	e := r.getExecutor(exec)
	query := `UPDATE registrations SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`
	result, err := e.ExecContext(ctx, query, next, id, expected)
	if err != nil {
		return fmt.Errorf("failed to update registration status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows for status update: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish a missing row from a stale expected status.
		var exists bool
		checkQuery := `SELECT EXISTS (SELECT 1 FROM registrations WHERE id = $1)`
		if scanErr := e.QueryRowContext(ctx, checkQuery, id).Scan(&exists); scanErr != nil {
			return fmt.Errorf("failed to check registration existence: %w", scanErr)
		}
		if !exists {
			return ErrRegistrationNotFound
		}
		return ErrRegistrationStale
	}
	return nil
}

func (r *postgresRegistrationRepository) SetNeedsReview(ctx context.Context, exec SQLExecutor, id int, needsReview bool) error {
	query := `UPDATE registrations SET needs_review = $1, updated_at = now() WHERE id = $2`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, needsReview, id)
	if err != nil {
		return fmt.Errorf("failed to set needs_review: %w", err)
	}
	return checkAffectedRows(result, ErrRegistrationNotFound)
}

func (r *postgresRegistrationRepository) List(ctx context.Context, filter models.RegistrationFilter) ([]*models.Registration, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT ` + registrationColumns + ` FROM registrations WHERE 1=1`)

	args := make([]interface{}, 0, 3)
	argCounter := 1

	if filter.ParticipantID != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND participant_id = $%d", argCounter))
		args = append(args, *filter.ParticipantID)
		argCounter++
	}
	if filter.Season != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND season = $%d", argCounter))
		args = append(args, *filter.Season)
		argCounter++
	}
	if filter.Status != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND status = $%d", argCounter))
		args = append(args, *filter.Status)
		argCounter++
	}
	queryBuilder.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d", argCounter))
		args = append(args, filter.Limit)
		argCounter++
	}
	if filter.Offset > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" OFFSET $%d", argCounter))
		args = append(args, filter.Offset)
	}

	return r.queryMany(ctx, nil, queryBuilder.String(), args...)
}

func (r *postgresRegistrationRepository) ListBySeason(ctx context.Context, season int) ([]*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE season = $1 ORDER BY created_at ASC`
	return r.queryMany(ctx, nil, query, season)
}

func (r *postgresRegistrationRepository) ListWaitlistedByResource(ctx context.Context, exec SQLExecutor, ref models.ResourceRef) ([]*models.Registration, error) {
	query := `
		SELECT r.id, r.participant_id, r.season, r.status, r.needs_review, r.created_at, r.updated_at
		FROM registrations r
		JOIN resource_assignments a ON a.registration_id = r.id
		WHERE r.status = $1
		  AND a.state = $2
		  AND a.resource_kind = $3
		  AND a.resource_id = $4
		ORDER BY r.created_at ASC`

	return r.queryMany(ctx, exec, query,
		models.RegistrationStatusWaitlisted,
		models.AssignmentWaitlisted,
		ref.Kind,
		ref.ID,
	)
}

func (r *postgresRegistrationRepository) ListExpiredPending(ctx context.Context, exec SQLExecutor, cutoff time.Time) ([]*models.Registration, error) {
	query := `
		SELECT ` + registrationColumns + `
		FROM registrations reg
		WHERE reg.status = $1
		  AND reg.created_at < $2
		  AND NOT EXISTS (
			SELECT 1 FROM payments p
			WHERE p.registration_id = reg.id AND p.status = $3
		  )
		ORDER BY reg.created_at ASC`

	return r.queryMany(ctx, exec, query,
		models.RegistrationStatusPending,
		cutoff,
		models.PaymentStatusCompleted,
	)
}

func (r *postgresRegistrationRepository) queryMany(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) ([]*models.Registration, error) {
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	registrations := make([]*models.Registration, 0)
	for rows.Next() {
		var reg models.Registration
		if err := r.scanRegistration(rows, &reg); err != nil {
			return nil, fmt.Errorf("failed to scan registration row: %w", err)
		}
		registrations = append(registrations, &reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registration rows: %w", err)
	}
	return registrations, nil
}

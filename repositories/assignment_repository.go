package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/burnweek/camp-registration-system/models"
)

var (
	ErrAssignmentNotFound = errors.New("resource assignment not found")
	ErrResourceNotFound   = errors.New("resource not found")
)

// kindTable maps a resource kind to the catalog table holding its slot limit.
func kindTable(kind models.ResourceKind) (string, error) {
	switch kind {
	case models.ResourceKindJob:
		return "jobs", nil
	case models.ResourceKindShift:
		return "shifts", nil
	case models.ResourceKindCampingOption:
		return "camping_options", nil
	}
	return "", fmt.Errorf("unknown resource kind %q", kind)
}

type AssignmentRepository interface {
	// LockResource pins the catalog row for the duration of the transaction so
	// concurrent reservations against the same resource serialize.
	LockResource(ctx context.Context, exec SQLExecutor, ref models.ResourceRef) error
	// CountReserved counts slot-holding assignments on the resource.
	// Waitlisted assignments do not hold slots and are excluded.
	CountReserved(ctx context.Context, exec SQLExecutor, ref models.ResourceRef) (int, error)
	Create(ctx context.Context, exec SQLExecutor, a *models.ResourceAssignment) error
	ListByRegistration(ctx context.Context, exec SQLExecutor, registrationID int) ([]*models.ResourceAssignment, error)
	DeleteByRegistration(ctx context.Context, exec SQLExecutor, registrationID int) error
	DeleteByRegistrationAndRef(ctx context.Context, exec SQLExecutor, registrationID int, ref models.ResourceRef) error
	// PromoteWaitlisted flips every waitlisted assignment of the registration
	// to reserved.
	PromoteWaitlisted(ctx context.Context, exec SQLExecutor, registrationID int) error
}

type postgresAssignmentRepository struct {
	db *sql.DB
}

func NewPostgresAssignmentRepository(db *sql.DB) AssignmentRepository {
	return &postgresAssignmentRepository{db: db}
}

func (r *postgresAssignmentRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresAssignmentRepository) LockResource(ctx context.Context, exec SQLExecutor, ref models.ResourceRef) error {
	table, err := kindTable(ref.Kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, table)

	var id int
	if err := r.getExecutor(exec).QueryRowContext(ctx, query, ref.ID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrResourceNotFound
		}
		return fmt.Errorf("failed to lock %s %d: %w", ref.Kind, ref.ID, err)
	}
	return nil
}

func (r *postgresAssignmentRepository) CountReserved(ctx context.Context, exec SQLExecutor, ref models.ResourceRef) (int, error) {
	query := `
		SELECT COUNT(*) FROM resource_assignments
		WHERE resource_kind = $1 AND resource_id = $2 AND state = $3`

	var count int
	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		ref.Kind, ref.ID, models.AssignmentReserved,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count reservations for %s %d: %w", ref.Kind, ref.ID, err)
	}
	return count, nil
}

func (r *postgresAssignmentRepository) Create(ctx context.Context, exec SQLExecutor, a *models.ResourceAssignment) error {
	query := `
		INSERT INTO resource_assignments (registration_id, resource_kind, resource_id, state)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		a.RegistrationID,
		a.ResourceKind,
		a.ResourceID,
		a.State,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create resource assignment: %w", err)
	}
	return nil
}

func (r *postgresAssignmentRepository) ListByRegistration(ctx context.Context, exec SQLExecutor, registrationID int) ([]*models.ResourceAssignment, error) {
	query := `
		SELECT id, registration_id, resource_kind, resource_id, state, created_at
		FROM resource_assignments
		WHERE registration_id = $1
		ORDER BY created_at ASC`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, registrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	assignments := make([]*models.ResourceAssignment, 0)
	for rows.Next() {
		var a models.ResourceAssignment
		if err := rows.Scan(&a.ID, &a.RegistrationID, &a.ResourceKind, &a.ResourceID, &a.State, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment row: %w", err)
		}
		assignments = append(assignments, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignment rows: %w", err)
	}
	return assignments, nil
}

func (r *postgresAssignmentRepository) DeleteByRegistration(ctx context.Context, exec SQLExecutor, registrationID int) error {
	query := `DELETE FROM resource_assignments WHERE registration_id = $1`
	if _, err := r.getExecutor(exec).ExecContext(ctx, query, registrationID); err != nil {
		return fmt.Errorf("failed to delete assignments: %w", err)
	}
	return nil
}

func (r *postgresAssignmentRepository) DeleteByRegistrationAndRef(ctx context.Context, exec SQLExecutor, registrationID int, ref models.ResourceRef) error {
	query := `
		DELETE FROM resource_assignments
		WHERE registration_id = $1 AND resource_kind = $2 AND resource_id = $3`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, registrationID, ref.Kind, ref.ID)
	if err != nil {
		return fmt.Errorf("failed to delete assignment for %s %d: %w", ref.Kind, ref.ID, err)
	}
	return checkAffectedRows(result, ErrAssignmentNotFound)
}

func (r *postgresAssignmentRepository) PromoteWaitlisted(ctx context.Context, exec SQLExecutor, registrationID int) error {
	query := `UPDATE resource_assignments SET state = $1 WHERE registration_id = $2 AND state = $3`
	_, err := r.getExecutor(exec).ExecContext(ctx, query,
		models.AssignmentReserved, registrationID, models.AssignmentWaitlisted,
	)
	if err != nil {
		return fmt.Errorf("failed to promote waitlisted assignments: %w", err)
	}
	return nil
}

package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/burnweek/camp-registration-system/models"
)

// AuditRepository is append-only. There is intentionally no update or delete.
type AuditRepository interface {
	Append(ctx context.Context, exec SQLExecutor, entry *models.AuditEntry) error
	Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)
}

type postgresAuditRepository struct {
	db *sql.DB
}

func NewPostgresAuditRepository(db *sql.DB) AuditRepository {
	return &postgresAuditRepository{db: db}
}

func (r *postgresAuditRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresAuditRepository) Append(ctx context.Context, exec SQLExecutor, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (actor_id, registration_id, action, payload, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		entry.ActorID,
		entry.RegistrationID,
		entry.Action,
		entry.Payload,
		entry.Notes,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (r *postgresAuditRepository) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT id, actor_id, registration_id, action, payload, notes, created_at
		FROM audit_entries WHERE 1=1`)

	args := make([]interface{}, 0, 4)
	argCounter := 1

	if filter.RegistrationID != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND registration_id = $%d", argCounter))
		args = append(args, *filter.RegistrationID)
		argCounter++
	}
	if filter.ActorID != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND actor_id = $%d", argCounter))
		args = append(args, *filter.ActorID)
		argCounter++
	}
	if filter.From != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND created_at >= $%d", argCounter))
		args = append(args, *filter.From)
		argCounter++
	}
	if filter.To != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND created_at <= $%d", argCounter))
		args = append(args, *filter.To)
		argCounter++
	}
	queryBuilder.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d", argCounter))
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.RegistrationID, &e.Action, &e.Payload, &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}
	return entries, nil
}

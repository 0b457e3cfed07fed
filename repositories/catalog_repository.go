package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/burnweek/camp-registration-system/models"
)

// CatalogRepository is a read-only view of the resource catalog. Catalog CRUD
// belongs to a different subsystem; this core only checks existence, the
// enabled flag and slot limits.
type CatalogRepository interface {
	GetResource(ctx context.Context, exec SQLExecutor, ref models.ResourceRef) (*models.CatalogResource, error)
	ListByKind(ctx context.Context, kind models.ResourceKind) ([]*models.CatalogResource, error)
}

type postgresCatalogRepository struct {
	db *sql.DB
}

func NewPostgresCatalogRepository(db *sql.DB) CatalogRepository {
	return &postgresCatalogRepository{db: db}
}

func (r *postgresCatalogRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresCatalogRepository) GetResource(ctx context.Context, exec SQLExecutor, ref models.ResourceRef) (*models.CatalogResource, error) {
	table, err := kindTable(ref.Kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, name, enabled, max_slots FROM %s WHERE id = $1`, table)

	res := &models.CatalogResource{Kind: ref.Kind}
	err = r.getExecutor(exec).QueryRowContext(ctx, query, ref.ID).Scan(
		&res.ID, &res.Name, &res.Enabled, &res.MaxSlots,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResourceNotFound
		}
		return nil, fmt.Errorf("failed to get %s %d: %w", ref.Kind, ref.ID, err)
	}
	return res, nil
}

func (r *postgresCatalogRepository) ListByKind(ctx context.Context, kind models.ResourceKind) ([]*models.CatalogResource, error) {
	table, err := kindTable(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, name, enabled, max_slots FROM %s ORDER BY id ASC`, table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	resources := make([]*models.CatalogResource, 0)
	for rows.Next() {
		res := &models.CatalogResource{Kind: kind}
		if err := rows.Scan(&res.ID, &res.Name, &res.Enabled, &res.MaxSlots); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", kind, err)
		}
		resources = append(resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", kind, err)
	}
	return resources, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"finlink/internal/domain/institution"
	"finlink/internal/models"
)

// InstitutionRepository is the durable institution name tier.
type InstitutionRepository struct {
	db *DB
}

var _ institution.Cache = (*InstitutionRepository)(nil)

func NewInstitutionRepository(db *DB) *InstitutionRepository {
	return &InstitutionRepository{db: db}
}

func (r *InstitutionRepository) Get(ctx context.Context, id string) (string, bool, error) {
	var name string
	err := r.db.QueryRowContext(ctx, `SELECT name FROM institutions WHERE id = $1`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get institution %s: %w", id, err)
	}
	return name, true, nil
}

// Put inserts or renames an institution.
func (r *InstitutionRepository) Put(ctx context.Context, id, name string) error {
	query := `
		INSERT INTO institutions (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, updated_at = now()
		WHERE institutions.name IS DISTINCT FROM EXCLUDED.name
	`
	if _, err := r.db.ExecContext(ctx, query, id, name); err != nil {
		return fmt.Errorf("failed to save institution %s: %w", id, err)
	}
	return nil
}

// List returns every stored institution ordered by name.
func (r *InstitutionRepository) List(ctx context.Context) ([]models.Institution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at
		FROM institutions
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list institutions: %w", err)
	}
	defer rows.Close()

	var out []models.Institution
	for rows.Next() {
		var inst models.Institution
		if err := rows.Scan(&inst.ID, &inst.Name, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan institution: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating institutions: %w", err)
	}
	return out, nil
}

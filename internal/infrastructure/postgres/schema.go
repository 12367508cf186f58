package postgres

import (
	"context"
	"fmt"
)

// InstitutionNamedChannel is notified by the institutions_notify trigger
// with {"id": ..., "name": ...} whenever a name is inserted or changed.
const InstitutionNamedChannel = "institution_named"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS institutions (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE OR REPLACE FUNCTION notify_institution_named() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + InstitutionNamedChannel + `', json_build_object('id', NEW.id, 'name', NEW.name)::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS institutions_notify ON institutions`,
	`CREATE TRIGGER institutions_notify
		AFTER INSERT OR UPDATE OF name ON institutions
		FOR EACH ROW EXECUTE FUNCTION notify_institution_named()`,
}

// EnsureSchema creates the tables and triggers the service needs. Every
// statement is idempotent.
func (db *DB) EnsureSchema(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema (%s): %w", extractSQLVerb(stmt), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

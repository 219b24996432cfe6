package collaborators

import (
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// applyMigrations creates the users/friends/reports tables if they do not
// already exist, recording the applied version so a future schema change
// can be added as a second embedded migration without re-running this
// one. The schema is embedded into the binary rather than read from a
// migrations directory at deploy time.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", "001").Scan(&applied); err != nil {
		return fmt.Errorf("check migration state: %w", err)
	}
	if applied > 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", "001"); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

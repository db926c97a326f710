package catalog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// bootstrapSchema runs the embedded migration set once against db, ground:
// golang-migrate re-pointed at a sqlite3 driver instead of the teacher's
// postgres one (DESIGN.md).
func bootstrapSchema(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("init sqlite3 migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("init migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// expectedColumns are added non-destructively to processed_files if a store
// created by an older schema version is missing them. Ground:
// media_database.py:_ensure_schema_updated. The embedded migration already
// creates these columns for a fresh store; this pass exists so an
// already-deployed store can be evolved forward without a destructive
// rewrite, matching spec.md §4.1's schema-evolution requirement.
var expectedColumns = map[string]string{
	"priority":       "INTEGER DEFAULT 0",
	"estimated_time": "INTEGER DEFAULT 0",
	"actual_time":    "INTEGER DEFAULT 0",
}

func evolveSchema(db *sql.DB) error {
	rows, err := db.Query("PRAGMA table_info(processed_files)")
	if err != nil {
		return fmt.Errorf("introspect processed_files: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan table_info row: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, ddlType := range expectedColumns {
		if present[col] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE processed_files ADD COLUMN %s %s", col, ddlType)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("add column %s: %w", col, err)
		}
	}
	return nil
}

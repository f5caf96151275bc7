package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const currentSchemaVersion = 2

// migration upgrades the schema from version-1 to version inside tx.
type migration struct {
	version int
	apply   func(tx *sqlx.Tx) error
}

var migrations = []migration{
	{version: 2, apply: addLocaleAndDuplicateIndex},
}

// RunMigrations applies pending migrations in order, each in its own
// transaction together with its version bump.
func (s *SQLiteStore) RunMigrations() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := s.migrate(m); err != nil {
			return fmt.Errorf("migration to v%d failed: %w", m.version, err)
		}
		version = m.version
	}
	return nil
}

func (s *SQLiteStore) migrate(m migration) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS kotoimi_schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return err
	}
	if err := m.apply(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO kotoimi_schema_version (version) VALUES (?)`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}

// getSchemaVersion returns the recorded schema version. Databases created
// before version tracking report 1.
func (s *SQLiteStore) getSchemaVersion() (int, error) {
	if !s.tableExists("kotoimi_schema_version") {
		return 1, nil
	}

	var version sql.NullInt64
	if err := s.db.Get(&version, `SELECT MAX(version) FROM kotoimi_schema_version`); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if !version.Valid {
		return 1, nil
	}
	return int(version.Int64), nil
}

// addLocaleAndDuplicateIndex adds the locale column and the index used by
// duplicate lookups.
func addLocaleAndDuplicateIndex(tx *sqlx.Tx) error {
	if !columnExists(tx, "submissions", "locale") {
		if _, err := tx.Exec(`ALTER TABLE submissions ADD COLUMN locale TEXT NOT NULL DEFAULT 'ja-JP'`); err != nil {
			return err
		}
	}
	_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_submissions_duplicate ON submissions(author_hash, event_tag, created_at)`)
	return err
}

// columnExists reports whether table has the named column.
func columnExists(q sqlx.Queryer, table, column string) bool {
	var count int
	err := sqlx.Get(q, &count, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column)
	return err == nil && count > 0
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kilupskalvis/kotoimi/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the database file at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying connection for ad-hoc research queries.
func (s *SQLiteStore) DB() *sqlx.DB {
	return s.db
}

// Initialize creates the schema on an empty database. Existing databases
// are left to RunMigrations.
func (s *SQLiteStore) Initialize() error {
	if s.tableExists("submissions") {
		return nil
	}

	schema := `
	-- Submissions (append-only apart from saw_alt_meanings)
	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		author_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		consent INTEGER NOT NULL,
		mode TEXT NOT NULL,
		event_tag TEXT NOT NULL,
		event_text TEXT NOT NULL DEFAULT '',
		meaning_text TEXT NOT NULL,
		meaning_tag TEXT NOT NULL DEFAULT '',
		rt_ms INTEGER NOT NULL,
		saw_alt_meanings INTEGER NOT NULL DEFAULT 0,
		changed_after_view INTEGER NOT NULL DEFAULT 0,
		original_meaning TEXT NOT NULL DEFAULT '',
		revision_count INTEGER NOT NULL DEFAULT 0,
		quality_flags INTEGER NOT NULL DEFAULT 0,
		locale TEXT NOT NULL DEFAULT 'ja-JP'
	);

	CREATE TABLE IF NOT EXISTS kotoimi_schema_version (
		version INTEGER PRIMARY KEY
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_submissions_event_tag ON submissions(event_tag);
	CREATE INDEX IF NOT EXISTS idx_submissions_created_at ON submissions(created_at);
	CREATE INDEX IF NOT EXISTS idx_submissions_consent ON submissions(consent);
	CREATE INDEX IF NOT EXISTS idx_submissions_duplicate ON submissions(author_hash, event_tag, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	_, err := s.db.Exec("INSERT OR REPLACE INTO kotoimi_schema_version (version) VALUES (?)", currentSchemaVersion)
	if err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// submissionRow is the column mapping used with sqlx.
type submissionRow struct {
	ID               string `db:"id"`
	AuthorHash       string `db:"author_hash"`
	CreatedAt        int64  `db:"created_at"`
	Consent          bool   `db:"consent"`
	Mode             string `db:"mode"`
	EventTag         string `db:"event_tag"`
	EventText        string `db:"event_text"`
	MeaningText      string `db:"meaning_text"`
	MeaningTag       string `db:"meaning_tag"`
	ReactionTimeMs   int64  `db:"rt_ms"`
	SawAltMeanings   bool   `db:"saw_alt_meanings"`
	ChangedAfterView bool   `db:"changed_after_view"`
	OriginalMeaning  string `db:"original_meaning"`
	RevisionCount    int    `db:"revision_count"`
	QualityFlags     int64  `db:"quality_flags"`
	Locale           string `db:"locale"`
}

const submissionColumns = `id, author_hash, created_at, consent, mode, event_tag, event_text,
	meaning_text, meaning_tag, rt_ms, saw_alt_meanings, changed_after_view,
	original_meaning, revision_count, quality_flags, locale`

func toRow(s *models.Submission) *submissionRow {
	return &submissionRow{
		ID:               s.ID,
		AuthorHash:       string(s.AuthorHash),
		CreatedAt:        s.Timestamp.UnixMilli(),
		Consent:          s.Consent,
		Mode:             string(s.Mode),
		EventTag:         string(s.EventCategory),
		EventText:        s.EventText,
		MeaningText:      s.MeaningText,
		MeaningTag:       models.JoinMeaningTags(s.MeaningTags),
		ReactionTimeMs:   s.ReactionTimeMs,
		SawAltMeanings:   s.SawAlternativeMeanings,
		ChangedAfterView: s.ChangedAfterView,
		OriginalMeaning:  s.OriginalMeaning,
		RevisionCount:    s.RevisionCount,
		QualityFlags:     int64(s.QualityFlags),
		Locale:           s.Locale,
	}
}

func (r *submissionRow) toSubmission() *models.Submission {
	// Rows were validated on the way in; re-parsing only splits the field.
	tags, _ := models.ParseMeaningTags(r.MeaningTag)
	return &models.Submission{
		ID:                     r.ID,
		AuthorHash:             models.AuthorHash(r.AuthorHash),
		Timestamp:              time.UnixMilli(r.CreatedAt).UTC(),
		Consent:                r.Consent,
		Mode:                   models.Mode(r.Mode),
		EventCategory:          models.EventCategory(r.EventTag),
		EventText:              r.EventText,
		MeaningText:            r.MeaningText,
		MeaningTags:            tags,
		ReactionTimeMs:         r.ReactionTimeMs,
		SawAlternativeMeanings: r.SawAltMeanings,
		ChangedAfterView:       r.ChangedAfterView,
		OriginalMeaning:        r.OriginalMeaning,
		RevisionCount:          r.RevisionCount,
		QualityFlags:           models.QualityFlags(r.QualityFlags),
		Locale:                 r.Locale,
	}
}

// Insert persists a new submission.
func (s *SQLiteStore) Insert(ctx context.Context, sub *models.Submission) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES (:id, :author_hash, :created_at, :consent, :mode, :event_tag, :event_text,
			:meaning_text, :meaning_tag, :rt_ms, :saw_alt_meanings, :changed_after_view,
			:original_meaning, :revision_count, :quality_flags, :locale)
	`, toRow(sub))
	if err != nil {
		return fmt.Errorf("insert submission %s: %w", sub.ID, err)
	}
	return nil
}

// Get retrieves a submission by ID. Returns ErrNotFound if missing.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Submission, error) {
	var row submissionRow
	err := s.db.GetContext(ctx, &row, "SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("submission %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get submission %s: %w", id, err)
	}
	return row.toSubmission(), nil
}

// HasDuplicate checks for the same author/category/text after since.
func (s *SQLiteStore) HasDuplicate(ctx context.Context, author models.AuthorHash, category models.EventCategory, meaningText string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM submissions
			WHERE author_hash = ? AND event_tag = ? AND meaning_text = ? AND created_at > ?
		)
	`, string(author), string(category), meaningText, since.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("duplicate lookup: %w", err)
	}
	return exists, nil
}

// SetSawAlternatives updates saw_alt_meanings. Returns ErrNotFound if missing.
func (s *SQLiteStore) SetSawAlternatives(ctx context.Context, id string, saw bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE submissions SET saw_alt_meanings = ? WHERE id = ?", saw, id)
	if err != nil {
		return fmt.Errorf("update submission %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update submission %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("submission %q: %w", id, ErrNotFound)
	}
	return nil
}

// whereClause renders a Filter as SQL conditions and arguments.
func whereClause(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.ConsentedOnly {
		conds = append(conds, "consent = 1")
	}
	if f.Category != "" {
		conds = append(conds, "event_tag = ?")
		args = append(args, string(f.Category))
	}
	if f.Mode != "" {
		conds = append(conds, "mode = ?")
		args = append(args, string(f.Mode))
	}
	if f.ExcludeFlags != 0 {
		conds = append(conds, "(quality_flags & ?) = 0")
		args = append(args, int64(f.ExcludeFlags))
	}
	if f.SawAlternatives {
		conds = append(conds, "saw_alt_meanings = 1")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns matching submissions ordered by time.
func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]*models.Submission, error) {
	where, args := whereClause(f)

	var rows []submissionRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+submissionColumns+" FROM submissions"+where+" ORDER BY created_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}

	out := make([]*models.Submission, len(rows))
	for i := range rows {
		out[i] = rows[i].toSubmission()
	}
	return out, nil
}

// Count returns the number of matching submissions.
func (s *SQLiteStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := whereClause(f)

	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM submissions"+where, args...); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

// Categories returns distinct categories among matching rows.
func (s *SQLiteStore) Categories(ctx context.Context, f Filter) ([]models.EventCategory, error) {
	where, args := whereClause(f)

	var tags []string
	err := s.db.SelectContext(ctx, &tags,
		"SELECT DISTINCT event_tag FROM submissions"+where+" ORDER BY event_tag", args...)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	out := make([]models.EventCategory, len(tags))
	for i, t := range tags {
		out[i] = models.EventCategory(t)
	}
	return out, nil
}

// tableExists checks sqlite_master for a table.
func (s *SQLiteStore) tableExists(name string) bool {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = ?
	`, name).Scan(&n)
	return err == nil && n > 0
}

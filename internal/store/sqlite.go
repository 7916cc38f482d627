package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/visa-checklist/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection serializes writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Times are stored as fixed-width UTC text so string comparison in SQL
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS checklist_generations (
	id              TEXT PRIMARY KEY,
	application_id  TEXT NOT NULL,
	status          TEXT NOT NULL,
	checklist       TEXT,
	context         TEXT,
	error           TEXT NOT NULL DEFAULT '',
	error_category  TEXT NOT NULL DEFAULT '',
	profile_version TEXT NOT NULL DEFAULT '',
	attempt         INTEGER NOT NULL DEFAULT 1,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	generated_at    TEXT,
	superseded_at   TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_checklist_generations_current
	ON checklist_generations(application_id) WHERE superseded_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_checklist_generations_app
	ON checklist_generations(application_id, created_at);

CREATE TABLE IF NOT EXISTS user_documents (
	id              TEXT PRIMARY KEY,
	application_id  TEXT NOT NULL,
	document_type   TEXT NOT NULL,
	content_ref     TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	needs_review    INTEGER NOT NULL DEFAULT 0,
	verdict         TEXT NOT NULL DEFAULT '',
	notes           TEXT NOT NULL DEFAULT '',
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TEXT,
	verifying_since TEXT,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	UNIQUE (application_id, document_type)
);

CREATE INDEX IF NOT EXISTS idx_user_documents_due ON user_documents(status, updated_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteInsertGeneration = `INSERT INTO checklist_generations (` + generationColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
ON CONFLICT (application_id) WHERE superseded_at IS NULL DO NOTHING`

func sqliteGenerationArgs(g *model.ChecklistGeneration) ([]any, error) {
	checklistJSON, contextJSON, err := marshalGenerationPayload(g)
	if err != nil {
		return nil, err
	}
	return []any{
		g.ID, g.ApplicationID, string(g.Status), nullText(checklistJSON), nullText(contextJSON),
		g.Error, string(g.ErrorCategory), g.ProfileVersion, g.Attempt,
		formatTime(g.CreatedAt), formatTime(g.UpdatedAt), formatTimePtr(g.GeneratedAt),
	}, nil
}

func (s *SQLiteStore) CreateGeneration(ctx context.Context, g *model.ChecklistGeneration) (bool, error) {
	args, err := sqliteGenerationArgs(g)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, sqliteInsertGeneration, args...)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert generation for %s", g.ApplicationID)
	}
	return rowsAffected(res) == 1, nil
}

func (s *SQLiteStore) CurrentGeneration(ctx context.Context, applicationID string) (*model.ChecklistGeneration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM checklist_generations WHERE application_id = ? AND superseded_at IS NULL`,
		applicationID,
	)
	g, err := scanGeneration(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: current generation %s", applicationID)
	}
	return g, nil
}

func (s *SQLiteStore) CompleteGeneration(ctx context.Context, g *model.ChecklistGeneration) error {
	checklistJSON, contextJSON, err := marshalGenerationPayload(g)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE checklist_generations
		SET status = ?, checklist = ?, context = ?, error = ?, error_category = ?,
			profile_version = ?, updated_at = ?, generated_at = ?
		WHERE id = ? AND status = 'processing' AND superseded_at IS NULL`,
		string(g.Status), nullText(checklistJSON), nullText(contextJSON), g.Error, string(g.ErrorCategory),
		g.ProfileVersion, formatTime(g.UpdatedAt), formatTimePtr(g.GeneratedAt), g.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete generation %s", g.ID)
	}
	if rowsAffected(res) == 0 {
		return eris.Wrapf(ErrConflict, "sqlite: generation %s is not processing", g.ID)
	}
	return nil
}

func (s *SQLiteStore) SupersedeAndCreate(ctx context.Context, oldID string, expect model.GenerationStatus, next *model.ChecklistGeneration) (bool, error) {
	args, err := sqliteGenerationArgs(next)
	if err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	at := formatTime(next.CreatedAt)
	res, err := tx.ExecContext(ctx,
		`UPDATE checklist_generations SET superseded_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND superseded_at IS NULL`,
		at, at, oldID, string(expect),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: supersede generation %s", oldID)
	}
	if rowsAffected(res) == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, sqliteInsertGeneration, args...); err != nil {
		return false, eris.Wrapf(err, "sqlite: insert generation for %s", next.ApplicationID)
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit tx")
	}
	return true, nil
}

func (s *SQLiteStore) ListGenerations(ctx context.Context, applicationID string) ([]model.ChecklistGeneration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+generationColumns+` FROM checklist_generations WHERE application_id = ? ORDER BY created_at DESC`,
		applicationID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list generations %s", applicationID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ChecklistGeneration
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan generation")
		}
		out = append(out, *g)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list generations")
}

func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *model.UserDocument) (*model.UserDocument, error) {
	id := doc.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := doc.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	at := formatTime(now)
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO user_documents (id, application_id, document_type, content_ref, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?)
		ON CONFLICT (application_id, document_type) DO UPDATE SET
			content_ref = excluded.content_ref,
			status = 'pending',
			needs_review = 0,
			verdict = '',
			notes = '',
			attempts = 0,
			last_attempt_at = NULL,
			verifying_since = NULL,
			updated_at = excluded.updated_at
		RETURNING `+documentColumns,
		id, doc.ApplicationID, doc.DocumentType, doc.ContentRef, at, at,
	)
	out, err := scanDocument(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert document %s/%s", doc.ApplicationID, doc.DocumentType)
	}
	return out, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.UserDocument, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM user_documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", id)
	}
	return doc, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, applicationID string) ([]model.UserDocument, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM user_documents WHERE application_id = ? ORDER BY created_at, document_type`,
		applicationID,
	)
}

func (s *SQLiteStore) ListDueDocuments(ctx context.Context, f DueFilter) ([]model.UserDocument, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM user_documents
		WHERE status = 'pending'
			AND attempts < ?
			AND (verifying_since IS NULL OR verifying_since < ?)
			AND (last_attempt_at IS NULL OR (needs_review = 1 AND updated_at < ?))
		ORDER BY updated_at
		LIMIT ?`,
		f.maxAttempts(), formatTime(f.LeaseBefore), formatTime(f.ReReviewBefore), f.limit(),
	)
}

func (s *SQLiteStore) queryDocuments(ctx context.Context, query string, args ...any) ([]model.UserDocument, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query documents")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.UserDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		out = append(out, *doc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query documents")
}

func (s *SQLiteStore) ClaimDocument(ctx context.Context, id string, now, leaseBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_documents SET verifying_since = ?
		WHERE id = ? AND status = 'pending' AND (verifying_since IS NULL OR verifying_since < ?)`,
		formatTime(now), id, formatTime(leaseBefore),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim document %s", id)
	}
	return rowsAffected(res) == 1, nil
}

func (s *SQLiteStore) RecordVerification(ctx context.Context, id string, claimedAt time.Time, out model.VerificationOutcome, at time.Time) error {
	ts := formatTime(at)
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_documents
		SET status = ?, needs_review = ?, verdict = ?, notes = ?,
			attempts = attempts + 1, last_attempt_at = ?, updated_at = ?, verifying_since = NULL
		WHERE id = ? AND verifying_since = ?`,
		string(out.Status), out.NeedsReview, string(out.Verdict), out.Notes, ts, ts, id, formatTime(claimedAt),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record verification %s", id)
	}
	if rowsAffected(res) == 0 {
		return eris.Wrapf(ErrConflict, "sqlite: claim on document %s lost", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanGeneration(row scannable) (*model.ChecklistGeneration, error) {
	var (
		g                          model.ChecklistGeneration
		status, category           string
		checklistJSON, contextJSON sql.NullString
		createdAt, updatedAt       string
		generatedAt, supersededAt  sql.NullString
	)
	err := row.Scan(&g.ID, &g.ApplicationID, &status, &checklistJSON, &contextJSON,
		&g.Error, &category, &g.ProfileVersion, &g.Attempt,
		&createdAt, &updatedAt, &generatedAt, &supersededAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Status = model.GenerationStatus(status)
	g.ErrorCategory = model.ErrorCategory(category)
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if g.GeneratedAt, err = parseTimePtr(generatedAt); err != nil {
		return nil, err
	}
	if g.SupersededAt, err = parseTimePtr(supersededAt); err != nil {
		return nil, err
	}
	if err := unmarshalGenerationPayload(&g, []byte(checklistJSON.String), []byte(contextJSON.String)); err != nil {
		return nil, err
	}
	return &g, nil
}

func scanDocument(row scannable) (*model.UserDocument, error) {
	var (
		d                           model.UserDocument
		status, verdict             string
		createdAt, updatedAt        string
		lastAttempt, verifyingSince sql.NullString
	)
	err := row.Scan(&d.ID, &d.ApplicationID, &d.DocumentType, &d.ContentRef, &status, &d.NeedsReview,
		&verdict, &d.Notes, &d.Attempts, &lastAttempt, &verifyingSince, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Status = model.DocumentStatus(status)
	d.Verdict = model.Verdict(verdict)
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if d.LastAttemptAt, err = parseTimePtr(lastAttempt); err != nil {
		return nil, err
	}
	if d.VerifyingSince, err = parseTimePtr(verifyingSince); err != nil {
		return nil, err
	}
	return &d, nil
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

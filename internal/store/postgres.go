package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/visa-checklist/internal/db"
	"github.com/sells-group/visa-checklist/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close is a no-op.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS checklist_generations (
	id              TEXT PRIMARY KEY,
	application_id  TEXT NOT NULL,
	status          TEXT NOT NULL,
	checklist       JSONB,
	context         JSONB,
	error           TEXT NOT NULL DEFAULT '',
	error_category  TEXT NOT NULL DEFAULT '',
	profile_version TEXT NOT NULL DEFAULT '',
	attempt         INTEGER NOT NULL DEFAULT 1,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	generated_at    TIMESTAMPTZ,
	superseded_at   TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_checklist_generations_current
	ON checklist_generations(application_id) WHERE superseded_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_checklist_generations_app
	ON checklist_generations(application_id, created_at DESC);

CREATE TABLE IF NOT EXISTS user_documents (
	id              TEXT PRIMARY KEY,
	application_id  TEXT NOT NULL,
	document_type   TEXT NOT NULL,
	content_ref     TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	needs_review    BOOLEAN NOT NULL DEFAULT false,
	verdict         TEXT NOT NULL DEFAULT '',
	notes           TEXT NOT NULL DEFAULT '',
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TIMESTAMPTZ,
	verifying_since TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (application_id, document_type)
);

CREATE INDEX IF NOT EXISTS idx_user_documents_due
	ON user_documents(status, updated_at) WHERE status = 'pending';
`

const (
	generationColumns = `id, application_id, status, checklist, context, error, error_category, profile_version, attempt, created_at, updated_at, generated_at, superseded_at`
	documentColumns   = `id, application_id, document_type, content_ref, status, needs_review, verdict, notes, attempts, last_attempt_at, verifying_since, created_at, updated_at`
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgInsertGeneration = `INSERT INTO checklist_generations (` + generationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULL)
ON CONFLICT (application_id) WHERE superseded_at IS NULL DO NOTHING`

func (s *PostgresStore) CreateGeneration(ctx context.Context, g *model.ChecklistGeneration) (bool, error) {
	args, err := generationArgs(g)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, pgInsertGeneration, args...)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert generation for %s", g.ApplicationID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CurrentGeneration(ctx context.Context, applicationID string) (*model.ChecklistGeneration, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+generationColumns+` FROM checklist_generations WHERE application_id = $1 AND superseded_at IS NULL`,
		applicationID,
	)
	g, err := scanPgGeneration(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: current generation %s", applicationID)
	}
	return g, nil
}

func (s *PostgresStore) CompleteGeneration(ctx context.Context, g *model.ChecklistGeneration) error {
	checklistJSON, contextJSON, err := marshalGenerationPayload(g)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE checklist_generations
		SET status = $1, checklist = $2, context = $3, error = $4, error_category = $5,
			profile_version = $6, updated_at = $7, generated_at = $8
		WHERE id = $9 AND status = 'processing' AND superseded_at IS NULL`,
		string(g.Status), checklistJSON, contextJSON, g.Error, string(g.ErrorCategory),
		g.ProfileVersion, g.UpdatedAt, g.GeneratedAt, g.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete generation %s", g.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "postgres: generation %s is not processing", g.ID)
	}
	return nil
}

func (s *PostgresStore) SupersedeAndCreate(ctx context.Context, oldID string, expect model.GenerationStatus, next *model.ChecklistGeneration) (bool, error) {
	args, err := generationArgs(next)
	if err != nil {
		return false, err
	}
	swapped := false
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE checklist_generations SET superseded_at = $1, updated_at = $1
			WHERE id = $2 AND status = $3 AND superseded_at IS NULL`,
			next.CreatedAt, oldID, string(expect),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: supersede generation %s", oldID)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, pgInsertGeneration, args...); err != nil {
			return eris.Wrapf(err, "postgres: insert generation for %s", next.ApplicationID)
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (s *PostgresStore) ListGenerations(ctx context.Context, applicationID string) ([]model.ChecklistGeneration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+generationColumns+` FROM checklist_generations WHERE application_id = $1 ORDER BY created_at DESC`,
		applicationID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list generations %s", applicationID)
	}
	defer rows.Close()

	var out []model.ChecklistGeneration
	for rows.Next() {
		g, err := scanPgGeneration(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan generation")
		}
		out = append(out, *g)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list generations")
}

func (s *PostgresStore) UpsertDocument(ctx context.Context, doc *model.UserDocument) (*model.UserDocument, error) {
	id := doc.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := doc.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO user_documents (id, application_id, document_type, content_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $5)
		ON CONFLICT (application_id, document_type) DO UPDATE SET
			content_ref = EXCLUDED.content_ref,
			status = 'pending',
			needs_review = false,
			verdict = '',
			notes = '',
			attempts = 0,
			last_attempt_at = NULL,
			verifying_since = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING `+documentColumns,
		id, doc.ApplicationID, doc.DocumentType, doc.ContentRef, now,
	)
	out, err := scanPgDocument(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert document %s/%s", doc.ApplicationID, doc.DocumentType)
	}
	return out, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.UserDocument, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM user_documents WHERE id = $1`, id)
	doc, err := scanPgDocument(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, applicationID string) ([]model.UserDocument, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM user_documents WHERE application_id = $1 ORDER BY created_at, document_type`,
		applicationID,
	)
}

func (s *PostgresStore) ListDueDocuments(ctx context.Context, f DueFilter) ([]model.UserDocument, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM user_documents
		WHERE status = 'pending'
			AND attempts < $1
			AND (verifying_since IS NULL OR verifying_since < $2)
			AND (last_attempt_at IS NULL OR (needs_review AND updated_at < $3))
		ORDER BY updated_at
		LIMIT $4`,
		f.maxAttempts(), f.LeaseBefore, f.ReReviewBefore, f.limit(),
	)
}

func (s *PostgresStore) queryDocuments(ctx context.Context, query string, args ...any) ([]model.UserDocument, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query documents")
	}
	defer rows.Close()

	var out []model.UserDocument
	for rows.Next() {
		doc, err := scanPgDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		out = append(out, *doc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: query documents")
}

func (s *PostgresStore) ClaimDocument(ctx context.Context, id string, now, leaseBefore time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_documents SET verifying_since = $1
		WHERE id = $2 AND status = 'pending' AND (verifying_since IS NULL OR verifying_since < $3)`,
		now, id, leaseBefore,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim document %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RecordVerification(ctx context.Context, id string, claimedAt time.Time, out model.VerificationOutcome, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_documents
		SET status = $1, needs_review = $2, verdict = $3, notes = $4,
			attempts = attempts + 1, last_attempt_at = $5, updated_at = $5, verifying_since = NULL
		WHERE id = $6 AND verifying_since = $7`,
		string(out.Status), out.NeedsReview, string(out.Verdict), out.Notes, at, id, claimedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record verification %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "postgres: claim on document %s lost", id)
	}
	return nil
}

func generationArgs(g *model.ChecklistGeneration) ([]any, error) {
	checklistJSON, contextJSON, err := marshalGenerationPayload(g)
	if err != nil {
		return nil, err
	}
	return []any{
		g.ID, g.ApplicationID, string(g.Status), checklistJSON, contextJSON,
		g.Error, string(g.ErrorCategory), g.ProfileVersion, g.Attempt,
		g.CreatedAt, g.UpdatedAt, g.GeneratedAt,
	}, nil
}

func marshalGenerationPayload(g *model.ChecklistGeneration) (checklistJSON, contextJSON []byte, err error) {
	if g.Checklist != nil {
		if checklistJSON, err = json.Marshal(g.Checklist); err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal checklist")
		}
	}
	if g.Context != nil {
		if contextJSON, err = json.Marshal(g.Context); err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal context")
		}
	}
	return checklistJSON, contextJSON, nil
}

func unmarshalGenerationPayload(g *model.ChecklistGeneration, checklistJSON, contextJSON []byte) error {
	if len(checklistJSON) > 0 {
		g.Checklist = &model.Checklist{}
		if err := json.Unmarshal(checklistJSON, g.Checklist); err != nil {
			return eris.Wrap(err, "store: unmarshal checklist")
		}
	}
	if len(contextJSON) > 0 {
		g.Context = &model.CanonicalContext{}
		if err := json.Unmarshal(contextJSON, g.Context); err != nil {
			return eris.Wrap(err, "store: unmarshal context")
		}
	}
	return nil
}

func scanPgGeneration(row pgx.Row) (*model.ChecklistGeneration, error) {
	var (
		g                          model.ChecklistGeneration
		status, category           string
		checklistJSON, contextJSON []byte
	)
	err := row.Scan(&g.ID, &g.ApplicationID, &status, &checklistJSON, &contextJSON,
		&g.Error, &category, &g.ProfileVersion, &g.Attempt,
		&g.CreatedAt, &g.UpdatedAt, &g.GeneratedAt, &g.SupersededAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Status = model.GenerationStatus(status)
	g.ErrorCategory = model.ErrorCategory(category)
	if err := unmarshalGenerationPayload(&g, checklistJSON, contextJSON); err != nil {
		return nil, err
	}
	return &g, nil
}

func scanPgDocument(row pgx.Row) (*model.UserDocument, error) {
	var (
		d               model.UserDocument
		status, verdict string
	)
	err := row.Scan(&d.ID, &d.ApplicationID, &d.DocumentType, &d.ContentRef, &status, &d.NeedsReview,
		&verdict, &d.Notes, &d.Attempts, &d.LastAttemptAt, &d.VerifyingSince, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Status = model.DocumentStatus(status)
	d.Verdict = model.Verdict(verdict)
	return &d, nil
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visa-checklist/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS checklist_generations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateGeneration(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"inserted", 1, true},
		{"current exists", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgresStore(t)
			g := processing("app-1", t0)

			mock.ExpectExec(`INSERT INTO checklist_generations (.|\s)*ON CONFLICT \(application_id\) WHERE superseded_at IS NULL DO NOTHING`).
				WithArgs(g.ID, "app-1", "processing", pgxmock.AnyArg(), pgxmock.AnyArg(),
					"", "", "v1", 1, t0, t0, pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("INSERT", tt.affected))

			created, err := s.CreateGeneration(context.Background(), g)
			require.NoError(t, err)
			assert.Equal(t, tt.want, created)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_CurrentGeneration_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, application_id, status, .* FROM checklist_generations WHERE application_id = \$1 AND superseded_at IS NULL`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.CurrentGeneration(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteGeneration_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	done := t0.Add(time.Second)
	g := processing("app-1", t0)
	g.Status = model.GenerationFailed
	g.Error = "no approved rule set"
	g.ErrorCategory = model.CategoryInput
	g.UpdatedAt = done

	mock.ExpectExec(`UPDATE checklist_generations\s+SET status = \$1(.|\s)*WHERE id = \$9 AND status = 'processing'`).
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg(), "no approved rule set", "input", "v1", done, pgxmock.AnyArg(), g.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteGeneration(context.Background(), g)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SupersedeAndCreate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	next := processing("app-1", t0.Add(time.Hour))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE checklist_generations SET superseded_at = \$1`).
		WithArgs(next.CreatedAt, "old-id", "ready").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO checklist_generations`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	swapped, err := s.SupersedeAndCreate(context.Background(), "old-id", model.GenerationReady, next)
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SupersedeAndCreate_LostRace(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE checklist_generations SET superseded_at`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectCommit()

	swapped, err := s.SupersedeAndCreate(context.Background(), "old-id", model.GenerationReady, processing("app-1", t0))
	require.NoError(t, err)
	assert.False(t, swapped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SupersedeAndCreate_InsertErrorRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE checklist_generations SET superseded_at`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO checklist_generations`).
		WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	_, err := s.SupersedeAndCreate(context.Background(), "old-id", model.GenerationReady, processing("app-1", t0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert generation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	lease := t0.Add(-10 * time.Minute)

	mock.ExpectExec(`UPDATE user_documents SET verifying_since = \$1`).
		WithArgs(t0, "doc-1", lease).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE user_documents SET verifying_since = \$1`).
		WithArgs(t0, "doc-1", lease).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.ClaimDocument(context.Background(), "doc-1", t0, lease)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimDocument(context.Background(), "doc-1", t0, lease)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordVerification(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	out := model.VerificationOutcome{Status: model.DocumentRejected, Verdict: model.VerdictNeedsReview, Notes: "blurry"}

	mock.ExpectExec(`UPDATE user_documents\s+SET status = \$1(.|\s)*attempts = attempts \+ 1(.|\s)*verifying_since = \$7`).
		WithArgs("rejected", false, "needs_review", "blurry", t0.Add(time.Second), "doc-1", t0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE user_documents\s+SET status = \$1`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.RecordVerification(context.Background(), "doc-1", t0, out, t0.Add(time.Second)))
	err := s.RecordVerification(context.Background(), "doc-1", t0, out, t0.Add(time.Second))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDueDocuments_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	f := DueFilter{ReReviewBefore: t0.Add(-24 * time.Hour), LeaseBefore: t0.Add(-10 * time.Minute)}

	mock.ExpectQuery(`SELECT .* FROM user_documents\s+WHERE status = 'pending'`).
		WithArgs(pgxmock.AnyArg(), f.LeaseBefore, f.ReReviewBefore, 100).
		WillReturnError(errors.New("connection reset"))

	_, err := s.ListDueDocuments(context.Background(), f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query documents")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDueFilterDefaults(t *testing.T) {
	assert.Equal(t, 100, DueFilter{}.limit())
	assert.Greater(t, DueFilter{}.maxAttempts(), 1000)
	assert.Equal(t, 3, DueFilter{MaxAttempts: 3}.maxAttempts())
}

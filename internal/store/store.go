// Package store persists checklist generations and uploaded documents. The
// generation table holds one current record per application; compare-and-set
// updates in SQL keep concurrent requests from racing each other.
package store

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visa-checklist/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a compare-and-set update lost the race.
	ErrConflict = eris.New("store: conflict")
)

// DueFilter selects documents the validation sweep should process.
type DueFilter struct {
	// ReReviewBefore admits documents flagged for review whose last update
	// is older than this instant.
	ReReviewBefore time.Time
	// LeaseBefore treats verification claims older than this as abandoned.
	LeaseBefore time.Time
	MaxAttempts int
	Limit       int
}

func (f DueFilter) maxAttempts() int {
	if f.MaxAttempts <= 0 {
		return math.MaxInt32
	}
	return f.MaxAttempts
}

func (f DueFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store defines the persistence interface for generation and validation.
type Store interface {
	// Generations

	// CreateGeneration inserts g as the application's current generation.
	// It reports false without error when a current generation already exists.
	CreateGeneration(ctx context.Context, g *model.ChecklistGeneration) (bool, error)
	// CurrentGeneration returns the application's non-superseded generation.
	CurrentGeneration(ctx context.Context, applicationID string) (*model.ChecklistGeneration, error)
	// CompleteGeneration moves a processing generation to g.Status. It
	// returns ErrConflict when the record is no longer processing.
	CompleteGeneration(ctx context.Context, g *model.ChecklistGeneration) error
	// SupersedeAndCreate retires oldID, provided it is still current and in
	// status expect, and inserts next in the same transaction.
	SupersedeAndCreate(ctx context.Context, oldID string, expect model.GenerationStatus, next *model.ChecklistGeneration) (bool, error)
	// ListGenerations returns every generation of the application, newest first.
	ListGenerations(ctx context.Context, applicationID string) ([]model.ChecklistGeneration, error)

	// Documents

	// UpsertDocument records an upload. A re-upload of the same document
	// type replaces the content and resets verification state.
	UpsertDocument(ctx context.Context, doc *model.UserDocument) (*model.UserDocument, error)
	GetDocument(ctx context.Context, id string) (*model.UserDocument, error)
	ListDocuments(ctx context.Context, applicationID string) ([]model.UserDocument, error)
	ListDueDocuments(ctx context.Context, f DueFilter) ([]model.UserDocument, error)
	// ClaimDocument marks a pending document as being verified. It reports
	// false when another worker holds a live claim.
	ClaimDocument(ctx context.Context, id string, now, leaseBefore time.Time) (bool, error)
	// RecordVerification writes a verification outcome and releases the
	// claim taken at claimedAt. It returns ErrConflict when that claim is no
	// longer held, for example after a re-upload or a newer claim.
	RecordVerification(ctx context.Context, id string, claimedAt time.Time, out model.VerificationOutcome, at time.Time) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

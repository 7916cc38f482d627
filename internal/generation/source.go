package generation

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visa-checklist/internal/canonical"
	"github.com/sells-group/visa-checklist/pkg/backend"
)

// SnapshotSource loads the latest raw snapshot of an application.
type SnapshotSource interface {
	Snapshot(ctx context.Context, applicationID string) (canonical.ApplicationSnapshot, error)
}

// SnapshotFunc adapts a function to SnapshotSource.
type SnapshotFunc func(ctx context.Context, applicationID string) (canonical.ApplicationSnapshot, error)

// Snapshot calls f.
func (f SnapshotFunc) Snapshot(ctx context.Context, applicationID string) (canonical.ApplicationSnapshot, error) {
	return f(ctx, applicationID)
}

// BackendSource reads snapshots from the backend's AI-context endpoint.
type BackendSource struct {
	Client backend.Client
}

// Snapshot fetches and decodes the application's context.
func (b BackendSource) Snapshot(ctx context.Context, applicationID string) (canonical.ApplicationSnapshot, error) {
	raw, err := b.Client.AIContext(ctx, applicationID)
	if err != nil {
		return canonical.ApplicationSnapshot{}, err
	}
	var snap canonical.ApplicationSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return canonical.ApplicationSnapshot{}, eris.Wrapf(err, "generation: decode snapshot %s", applicationID)
	}
	if snap.ApplicationID == "" {
		snap.ApplicationID = applicationID
	}
	return snap, nil
}

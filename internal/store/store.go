package store

import "context"

// Store defines the persistence layer contract for runs and their event log.
// All implementations must be safe for concurrent use, and Checkpoint must
// enforce the version check: no two engine instances may mutate the same run
// concurrently.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// Checkpoint persists the run's full state iff the stored version equals
	// expectedVersion, returning the new version. A mismatch returns a
	// CONFLICT error and leaves the stored record untouched.
	Checkpoint(ctx context.Context, run *Run, expectedVersion int64) (int64, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Close() error
}

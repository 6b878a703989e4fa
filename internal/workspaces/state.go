package workspaces

import (
	"context"

	"portal-gateway/internal/stagedocs"
)

// StateStore keeps workspace state outside the process so any gateway
// instance can serve the next request of a workspace. Entries expire once
// idle for the store's TTL; Load refreshes it.
type StateStore interface {
	Load(ctx context.Context, userID, jobID string) (stagedocs.State, bool, error)
	Save(ctx context.Context, userID, jobID string, st stagedocs.State) error
	Delete(ctx context.Context, userID, jobID string) error
	Exists(ctx context.Context, userID, jobID string) (bool, error)
	// Jobs lists the job ids the user holds state for.
	Jobs(ctx context.Context, userID string) ([]string, error)
}

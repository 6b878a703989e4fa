package submissions

import "context"

// Repo defines persistence operations for the submission journal.
type Repo interface {
	Create(ctx context.Context, entry Entry) error
	ListByJob(ctx context.Context, userID, jobID string, limit int) ([]Entry, error)
}

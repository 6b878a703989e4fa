package submissions

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultListLimit = 50

type Service struct {
	Repo Repo
	Now  func() time.Time
}

func NewService(repo Repo) *Service {
	return &Service{Repo: repo, Now: time.Now}
}

// Record journals one attempt, filling in id and timestamp.
func (s *Service) Record(ctx context.Context, entry Entry) (Entry, error) {
	if strings.TrimSpace(entry.UserID) == "" || strings.TrimSpace(entry.JobID) == "" {
		return Entry{}, ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.Now().UTC()
	}
	if entry.DocumentNames == nil {
		entry.DocumentNames = []string{}
	}
	if err := s.Repo.Create(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// List returns a user's most recent attempts for a job.
func (s *Service) List(ctx context.Context, userID, jobID string, limit int) ([]Entry, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(jobID) == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	return s.Repo.ListByJob(ctx, userID, jobID, limit)
}

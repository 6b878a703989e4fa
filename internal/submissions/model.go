// Package submissions journals every submission attempt against the backend.
package submissions

import (
	"errors"
	"time"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var ErrInvalidInput = errors.New("invalid input")

// Entry is one submission attempt for a scope.
type Entry struct {
	ID            string    `json:"id"`
	UserID        string    `json:"-"`
	JobID         string    `json:"jobId"`
	ScopeID       string    `json:"scopeId"`
	Kind          string    `json:"kind"`
	DocumentNames []string  `json:"documentNames"`
	FileCount     int       `json:"fileCount"`
	ExistingCount int       `json:"existingCount"`
	Outcome       string    `json:"outcome"`
	Message       string    `json:"message"`
	RequestID     string    `json:"requestId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

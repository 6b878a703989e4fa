package queue

import (
	"context"

	"portal-gateway/internal/shared/telemetry"
)

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// LogClient writes messages to the log instead of a queue. Used when no
// queue is configured.
type LogClient struct{}

func (LogClient) Send(ctx context.Context, msg Message) error {
	telemetry.Debug("queue.message", map[string]any{
		"type":           msg.Type,
		"job_id":         msg.JobID,
		"scope_id":       msg.ScopeID,
		"kind":           msg.Kind,
		"document_count": len(msg.DocumentNames),
		"request_id":     msg.RequestID,
	})
	return nil
}

var _ Client = LogClient{}

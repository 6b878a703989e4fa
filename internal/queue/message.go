package queue

import (
	"encoding/json"
	"fmt"
)

const (
	TypeDocumentsSubmitted = "documents.submitted"
	MessageVersion         = 1
)

// Message announces a successful document submission to downstream consumers.
type Message struct {
	Type          string   `json:"type"`
	JobID         string   `json:"jobId"`
	ScopeID       string   `json:"scopeId"`
	Kind          string   `json:"kind"`
	UserID        string   `json:"userId"`
	DocumentNames []string `json:"documentNames"`
	RequestID     string   `json:"requestId"`
	EnqueuedAt    string   `json:"enqueuedAt"`
	Version       int      `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg.Type == "" {
		msg.Type = TypeDocumentsSubmitted
	}
	if msg.Version == 0 {
		msg.Version = MessageVersion
	}
	if msg.DocumentNames == nil {
		msg.DocumentNames = []string{}
	}
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Version > MessageVersion {
		return Message{}, fmt.Errorf("unsupported message version %d", msg.Version)
	}
	return msg, nil
}

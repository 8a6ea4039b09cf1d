// Package queue delivers job IDs to workers at least once.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is one delivery of a job ID. A message that is not acknowledged
// becomes visible again after the visibility timeout.
type Message struct {
	JobID    string
	Attempts int

	id      int64  // sqlite row id
	receipt string // sqs receipt handle
}

// Queue is a task queue. Receive returns (nil, nil) when nothing is
// available.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	Receive(ctx context.Context) (*Message, error)
	Ack(ctx context.Context, msg *Message) error
}

type body struct {
	JobID string `json:"job_id"`
}

func encodeBody(jobID string) (string, error) {
	b, err := json.Marshal(body{JobID: jobID})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeBody(s string) (string, error) {
	var b body
	if err := json.Unmarshal([]byte(s), &b); err != nil {
		return "", fmt.Errorf("queue: malformed message body: %w", err)
	}
	if b.JobID == "" {
		return "", fmt.Errorf("queue: message has no job_id")
	}
	return b.JobID, nil
}

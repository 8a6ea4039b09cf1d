package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"

	"vodscribe/internal/storage"
)

func TestSQLiteQueue(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "q.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	q := NewSQLite(db, time.Minute)
	q.now = func() time.Time { return now }
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}

	m1, err := q.Receive(ctx)
	if err != nil || m1 == nil || m1.JobID != "a" || m1.Attempts != 1 {
		t.Fatalf("Receive() = %+v, %v; want a", m1, err)
	}
	m2, _ := q.Receive(ctx)
	if m2 == nil || m2.JobID != "b" {
		t.Fatalf("Receive() = %+v; want b", m2)
	}
	if m, err := q.Receive(ctx); m != nil || err != nil {
		t.Fatalf("Receive() on hidden queue = %+v, %v; want nil, nil", m, err)
	}

	if err := q.Ack(ctx, m2); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}

	// a was never acknowledged: it comes back after the visibility timeout.
	now = now.Add(2 * time.Minute)
	m3, _ := q.Receive(ctx)
	if m3 == nil || m3.JobID != "a" || m3.Attempts != 2 {
		t.Fatalf("redelivery = %+v; want a on attempt 2", m3)
	}
	q.Ack(ctx, m3)

	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("Len() = %d after acks, want 0", n)
	}
}

type fakeSQS struct {
	sqsiface.SQSAPI
	sent     []string
	pending  []*sqs.Message
	deleted  []string
	lastRecv *sqs.ReceiveMessageInput
}

func (f *fakeSQS) SendMessageWithContext(ctx aws.Context, in *sqs.SendMessageInput, _ ...request.Option) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, *in.MessageBody)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessageWithContext(ctx aws.Context, in *sqs.ReceiveMessageInput, _ ...request.Option) (*sqs.ReceiveMessageOutput, error) {
	f.lastRecv = in
	if len(f.pending) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	m := f.pending[0]
	f.pending = f.pending[1:]
	return &sqs.ReceiveMessageOutput{Messages: []*sqs.Message{m}}, nil
}

func (f *fakeSQS) DeleteMessageWithContext(ctx aws.Context, in *sqs.DeleteMessageInput, _ ...request.Option) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue(t *testing.T) {
	api := &fakeSQS{}
	q := NewSQS(api, "https://sqs.example/q", time.Minute, time.Hour)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatal(err)
	}
	if len(api.sent) != 1 || api.sent[0] != `{"job_id":"job-1"}` {
		t.Fatalf("sent = %v", api.sent)
	}

	if m, err := q.Receive(ctx); m != nil || err != nil {
		t.Fatalf("Receive() on empty queue = %+v, %v", m, err)
	}
	if got := *api.lastRecv.WaitTimeSeconds; got != 20 {
		t.Errorf("WaitTimeSeconds = %d, want capped at 20", got)
	}
	if got := *api.lastRecv.VisibilityTimeout; got != 3600 {
		t.Errorf("VisibilityTimeout = %d", got)
	}

	api.pending = []*sqs.Message{
		{
			Body:          aws.String(api.sent[0]),
			ReceiptHandle: aws.String("r1"),
			Attributes:    map[string]*string{sqs.MessageSystemAttributeNameApproximateReceiveCount: aws.String("2")},
		},
		{Body: aws.String("not json"), ReceiptHandle: aws.String("r2")},
	}
	m, err := q.Receive(ctx)
	if err != nil || m.JobID != "job-1" || m.Attempts != 2 {
		t.Fatalf("Receive() = %+v, %v", m, err)
	}
	if err := q.Ack(ctx, m); err != nil {
		t.Fatal(err)
	}

	bad, err := q.Receive(ctx)
	if err != nil || bad == nil || bad.JobID != "" {
		t.Fatalf("Receive(malformed) = %+v, %v; want message with empty job id", bad, err)
	}
	q.Ack(ctx, bad)
	if len(api.deleted) != 2 || api.deleted[0] != "r1" || api.deleted[1] != "r2" {
		t.Fatalf("deleted = %v", api.deleted)
	}
}

package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

// SQS is a Queue backed by an Amazon SQS queue.
type SQS struct {
	api        sqsiface.SQSAPI
	url        string
	wait       time.Duration
	visibility time.Duration
}

// NewSQS returns a queue using long polls of up to wait (max 20s).
func NewSQS(api sqsiface.SQSAPI, url string, wait, visibility time.Duration) *SQS {
	if wait > 20*time.Second {
		wait = 20 * time.Second
	}
	if visibility > 12*time.Hour {
		visibility = 12 * time.Hour
	}
	return &SQS{api: api, url: url, wait: wait, visibility: visibility}
}

func (q *SQS) Enqueue(ctx context.Context, jobID string) error {
	b, err := encodeBody(jobID)
	if err != nil {
		return err
	}
	_, err = q.api.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(b),
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Receive long-polls for one message. A message with an unreadable body is
// returned with an empty JobID so the caller can acknowledge and drop it.
func (q *SQS) Receive(ctx context.Context) (*Message, error) {
	res, err := q.api.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: aws.Int64(1),
		VisibilityTimeout:   aws.Int64(int64(q.visibility / time.Second)),
		WaitTimeSeconds:     aws.Int64(int64(q.wait / time.Second)),
		AttributeNames:      []*string{aws.String(sqs.MessageSystemAttributeNameApproximateReceiveCount)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}
	if len(res.Messages) == 0 {
		return nil, nil
	}

	m := res.Messages[0]
	msg := &Message{receipt: aws.StringValue(m.ReceiptHandle)}
	if jobID, err := decodeBody(aws.StringValue(m.Body)); err == nil {
		msg.JobID = jobID
	}
	if v, ok := m.Attributes[sqs.MessageSystemAttributeNameApproximateReceiveCount]; ok {
		msg.Attempts, _ = strconv.Atoi(aws.StringValue(v))
	}
	return msg, nil
}

func (q *SQS) Ack(ctx context.Context, msg *Message) error {
	_, err := q.api.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(msg.receipt),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

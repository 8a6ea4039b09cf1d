package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vodscribe/internal/storage"
)

// SQLite is a Queue stored in the task_queue table of the job database.
type SQLite struct {
	db         *storage.DB
	visibility time.Duration
	now        func() time.Time
}

// NewSQLite returns a queue whose received messages stay hidden for
// visibility before they are redelivered.
func NewSQLite(db *storage.DB, visibility time.Duration) *SQLite {
	return &SQLite{db: db, visibility: visibility, now: time.Now}
}

func (q *SQLite) Enqueue(ctx context.Context, jobID string) error {
	now := q.now().UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO task_queue (job_id, enqueued_at, visible_at) VALUES (?, ?, ?)`,
		jobID, now, now)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Receive claims the oldest visible message by pushing its visibility
// forward in a single statement.
func (q *SQLite) Receive(ctx context.Context) (*Message, error) {
	now := q.now()
	row := q.db.QueryRowContext(ctx, `UPDATE task_queue
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (SELECT id FROM task_queue WHERE visible_at <= ? ORDER BY id LIMIT 1)
		RETURNING id, job_id, attempts`,
		now.Add(q.visibility).UnixMilli(), now.UnixMilli())

	var msg Message
	if err := row.Scan(&msg.id, &msg.JobID, &msg.Attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}
	return &msg, nil
}

func (q *SQLite) Ack(ctx context.Context, msg *Message) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM task_queue WHERE id = ?`, msg.id)
	return err
}

// Len returns the number of messages, visible or not.
func (q *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_queue`).Scan(&n)
	return n, err
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vodscribe/internal/models"
)

// ErrNotProcessing is returned by Complete when the job is no longer in the
// processing state (already failed, completed or deleted).
var ErrNotProcessing = errors.New("storage: job is not processing")

// JobRepository is the data access layer for jobs and their segments.
type JobRepository struct {
	db  *DB
	now func() time.Time
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

const jobColumns = `id, source_kind, source_label, source_url, original_key, audio_key,
	input_format, duration_seconds, status, failure_code, failure_message,
	created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job                                  models.Job
		kind, status                         string
		sourceURL, originalKey, audioKey     sql.NullString
		inputFormat, failureCode, failureMsg sql.NullString
		duration                             sql.NullInt64
		createdAt                            int64
		updatedAt, startedAt, completedAt    sql.NullInt64
	)
	err := row.Scan(&job.ID, &kind, &job.SourceLabel, &sourceURL, &originalKey, &audioKey,
		&inputFormat, &duration, &status, &failureCode, &failureMsg,
		&createdAt, &updatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	job.SourceKind = models.SourceKind(kind)
	job.Status = models.JobStatus(status)
	job.SourceURL = sourceURL.String
	job.OriginalKey = originalKey.String
	job.AudioKey = audioKey.String
	job.InputFormat = inputFormat.String
	if duration.Valid {
		d := int(duration.Int64)
		job.Duration = &d
	}
	job.FailureCode = nullStringPtr(failureCode)
	job.FailureMessage = nullStringPtr(failureMsg)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromNullMillis(updatedAt)
	job.StartedAt = fromNullMillis(startedAt)
	job.CompletedAt = fromNullMillis(completedAt)
	return &job, nil
}

// Create inserts a new queued job. ID and CreatedAt are filled in when empty.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if !job.SourceKind.Valid() {
		return fmt.Errorf("invalid source kind %q", job.SourceKind)
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = r.now().UTC()
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}

	var duration sql.NullInt64
	if job.Duration != nil {
		duration = sql.NullInt64{Int64: int64(*job.Duration), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.SourceKind), job.SourceLabel,
		nullString(job.SourceURL), nullString(job.OriginalKey), nullString(job.AudioKey),
		nullString(job.InputFormat), duration, string(job.Status),
		sql.NullString{}, sql.NullString{},
		millis(job.CreatedAt), nullMillis(job.UpdatedAt), nullMillis(job.StartedAt), nullMillis(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID returns the job, or nil if it does not exist.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// MarkProcessing moves a queued (or redelivered, still processing) job to
// processing and stamps its start time. It reports false when the job is
// terminal or missing.
func (r *JobRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	now := millis(r.now())
	res, err := r.db.ExecContext(ctx, `UPDATE jobs
		SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(models.JobStatusProcessing), now, now,
		id, string(models.JobStatusQueued), string(models.JobStatusProcessing))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateMedia records the probed duration and detected input format of a
// processing job. It never changes the status and returns ErrNotProcessing
// for any other job.
func (r *JobRepository) UpdateMedia(ctx context.Context, id string, duration *int, format string) error {
	var d sql.NullInt64
	if duration != nil {
		d = sql.NullInt64{Int64: int64(*duration), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `UPDATE jobs
		SET duration_seconds = ?, input_format = COALESCE(?, input_format), updated_at = ?
		WHERE id = ? AND status = ?`,
		d, nullString(format), millis(r.now()), id, string(models.JobStatusProcessing))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetAudioKey records where the transcoded audio of a processing job was
// stored.
func (r *JobRepository) SetAudioKey(ctx context.Context, id, key string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE jobs SET audio_key = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		key, millis(r.now()), id, string(models.JobStatusProcessing))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotProcessing
	}
	return nil
}

// Fail marks the job failed unless it is already terminal. It reports
// whether the job was changed.
func (r *JobRepository) Fail(ctx context.Context, id, code, message string) (bool, error) {
	now := millis(r.now())
	res, err := r.db.ExecContext(ctx, `UPDATE jobs
		SET status = ?, failure_code = ?, failure_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(models.JobStatusFailed), code, message, now, now,
		id, string(models.JobStatusCompleted), string(models.JobStatusFailed))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Complete inserts all segments and marks the job completed in one
// transaction. Nothing is written if the job is not processing.
func (r *JobRepository) Complete(ctx context.Context, id string, segments []models.Segment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := millis(r.now())
	res, err := tx.ExecContext(ctx, `UPDATE jobs
		SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.JobStatusCompleted), now, now, id, string(models.JobStatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotProcessing
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO segments
		(job_id, segment_index, start_ms, end_ms, text, avg_logprob, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, seg := range segments {
		if _, err := stmt.ExecContext(ctx, id, seg.Index, seg.StartMS, seg.EndMS, seg.Text,
			nullFloat(seg.AvgLogprob), nullFloat(seg.Confidence), now); err != nil {
			return fmt.Errorf("failed to insert segment %d: %w", seg.Index, err)
		}
	}

	return tx.Commit()
}

// Segments returns the job's segments ordered by index.
func (r *JobRepository) Segments(ctx context.Context, jobID string) ([]models.Segment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT segment_index, start_ms, end_ms, text, avg_logprob, confidence
		FROM segments WHERE job_id = ? ORDER BY segment_index`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []models.Segment
	for rows.Next() {
		var (
			seg        models.Segment
			logprob    sql.NullFloat64
			confidence sql.NullFloat64
		)
		if err := rows.Scan(&seg.Index, &seg.StartMS, &seg.EndMS, &seg.Text, &logprob, &confidence); err != nil {
			return nil, err
		}
		seg.JobID = jobID
		seg.AvgLogprob = nullFloatPtr(logprob)
		seg.Confidence = nullFloatPtr(confidence)
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// ListCreatedBefore returns jobs created strictly before cutoff, oldest first.
func (r *JobRepository) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE created_at < ? ORDER BY created_at`, millis(cutoff))
}

// ListRecent returns the most recently created jobs.
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]models.Job, error) {
	if limit == 0 {
		limit = 50
	}
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
}

// ListByStatus returns the most recent jobs with the given status.
func (r *JobRepository) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	if limit == 0 {
		limit = 50
	}
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at DESC LIMIT ?`,
		string(status), limit)
}

func (r *JobRepository) list(ctx context.Context, query string, args ...any) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Delete removes the job; its segments are removed by cascade.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

// CountByStatus returns the number of jobs in each status.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

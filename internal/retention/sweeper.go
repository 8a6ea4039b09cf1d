// Package retention deletes jobs and their blobs once they age out.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"vodscribe/internal/blob"
	"vodscribe/internal/models"
)

// DefaultWindow is how long a job is kept after creation.
const DefaultWindow = 30 * 24 * time.Hour

type JobStore interface {
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.Job, error)
	Delete(ctx context.Context, id string) error
}

type Sweeper struct {
	jobs   JobStore
	store  blob.Store
	window time.Duration
	log    *logrus.Entry

	now func() time.Time
}

// NewSweeper creates a Sweeper. A zero window means DefaultWindow.
func NewSweeper(jobs JobStore, store blob.Store, window time.Duration, log *logrus.Entry) *Sweeper {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Sweeper{
		jobs:   jobs,
		store:  store,
		window: window,
		log:    log.WithField("component", "retention"),
		now:    time.Now,
	}
}

// Sweep deletes every job created before now minus the window and returns
// how many rows were removed. Blob deletion is best effort; a job whose row
// cannot be deleted is skipped and retried on the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.window)
	jobs, err := s.jobs.ListCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		log := s.log.WithField("job_id", job.ID)

		for _, key := range blobKeys(&job) {
			if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNoObject) {
				log.WithError(err).WithField("key", key).Warn("failed to delete blob")
			}
		}
		if err := s.jobs.Delete(ctx, job.ID); err != nil {
			log.WithError(err).Error("failed to delete job")
			continue
		}
		deleted++
	}

	s.log.WithFields(logrus.Fields{
		"deleted": deleted,
		"cutoff":  cutoff.UTC().Format(time.RFC3339),
	}).Info("retention sweep finished")
	return deleted, nil
}

func blobKeys(job *models.Job) []string {
	var keys []string
	if job.OriginalKey != "" {
		keys = append(keys, job.OriginalKey)
	}
	if job.AudioKey != "" {
		keys = append(keys, job.AudioKey)
	}
	return keys
}

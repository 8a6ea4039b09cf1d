package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// NextDaily returns the first time strictly after now at hour:00 UTC.
func NextDaily(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunDaily calls fn once a day at hour:00 UTC until ctx is done.
func RunDaily(ctx context.Context, hour int, log *logrus.Entry, fn func(ctx context.Context)) {
	for {
		next := NextDaily(time.Now(), hour)
		log.WithField("next_run", next.Format(time.RFC3339)).Debug("Scheduled daily task")

		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		fn(ctx)
	}
}

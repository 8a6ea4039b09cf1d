package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vodscribe/internal/logger"
	"vodscribe/internal/queue"
)

type fakeQueue struct {
	mu      sync.Mutex
	pending []*queue.Message
	acked   []string
	events  []string
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, &queue.Message{JobID: jobID, Attempts: 1})
	return nil
}

func (q *fakeQueue) Receive(ctx context.Context) (*queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	m := q.pending[0]
	q.pending = q.pending[1:]
	return m, nil
}

func (q *fakeQueue) Ack(ctx context.Context, msg *queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, msg.JobID)
	q.events = append(q.events, "ack:"+msg.JobID)
	return nil
}

func (q *fakeQueue) record(e string) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
}

func (q *fakeQueue) ackedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acked)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorkerAcksAfterHandler(t *testing.T) {
	q := &fakeQueue{}
	ctx := context.Background()
	q.Enqueue(ctx, "ok")
	q.Enqueue(ctx, "bad")
	q.pending = append(q.pending, &queue.Message{})

	handler := func(ctx context.Context, jobID string) error {
		q.record("handle:" + jobID)
		if jobID == "bad" {
			return errors.New("boom")
		}
		return nil
	}

	w := NewWorker(q, handler, 1, logger.Discard())
	w.SetInterval(5 * time.Millisecond)
	w.Start(ctx)
	waitFor(t, func() bool { return q.ackedCount() == 3 })
	w.Stop()

	want := []string{"handle:ok", "ack:ok", "handle:bad", "ack:bad", "ack:"}
	if len(q.events) != len(want) {
		t.Fatalf("events = %v, want %v", q.events, want)
	}
	for i := range want {
		if q.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", q.events, want)
		}
	}
}

func TestWorkerConcurrencyAndStop(t *testing.T) {
	q := &fakeQueue{}
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(ctx, id)
	}

	var mu sync.Mutex
	running, peak := 0, 0
	release := make(chan struct{})
	handler := func(ctx context.Context, jobID string) error {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}

	w := NewWorker(q, handler, 3, logger.Discard())
	w.SetInterval(5 * time.Millisecond)
	w.Start(ctx)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return running == 3
	})

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while jobs were in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-stopped

	if peak != 3 {
		t.Fatalf("peak concurrency = %d, want 3", peak)
	}
	if q.ackedCount() != 3 {
		t.Fatalf("acked = %d, want 3", q.ackedCount())
	}
}

func TestNextDaily(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 5, 1, 1, 0, 0, 0, time.UTC), time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)},
		{time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC), time.Date(2026, 5, 2, 3, 0, 0, 0, time.UTC)},
		{time.Date(2026, 5, 31, 23, 59, 0, 0, time.UTC), time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)},
		{time.Date(2026, 5, 1, 4, 0, 0, 0, time.FixedZone("JST", 9*3600)), time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := NextDaily(tt.now, 3); !got.Equal(tt.want) {
			t.Errorf("NextDaily(%s) = %s, want %s", tt.now, got, tt.want)
		}
	}
}

func TestRunDailyStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunDaily(ctx, 3, logger.Discard(), func(context.Context) { t.Error("fn should not run") })
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunDaily did not return after cancel")
	}
}

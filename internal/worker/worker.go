package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vodscribe/internal/queue"
)

// JobHandler processes one job to completion. The message is acknowledged
// after it returns, whatever it returns.
type JobHandler func(ctx context.Context, jobID string) error

// Worker pulls job messages from the queue with a fixed number of consumers.
type Worker struct {
	queue       queue.Queue
	handler     JobHandler
	concurrency int
	interval    time.Duration
	log         *logrus.Entry

	stop       chan struct{}
	cancelRecv context.CancelFunc
	wg         sync.WaitGroup
}

// NewWorker creates a new worker
func NewWorker(q queue.Queue, handler JobHandler, concurrency int, log *logrus.Entry) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		handler:     handler,
		concurrency: concurrency,
		interval:    1 * time.Second,
		log:         log.WithField("component", "worker"),
		stop:        make(chan struct{}),
	}
}

// SetInterval sets how long a consumer waits after an empty or failed receive.
func (w *Worker) SetInterval(interval time.Duration) {
	w.interval = interval
}

// Start begins processing jobs. Handlers run with ctx; receives are also
// interrupted by Stop.
func (w *Worker) Start(ctx context.Context) {
	recvCtx, cancel := context.WithCancel(ctx)
	w.cancelRecv = cancel
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx, recvCtx, i)
	}
	w.log.WithField("concurrency", w.concurrency).Info("Worker started")
}

// Stop stops receiving and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	close(w.stop)
	if w.cancelRecv != nil {
		w.cancelRecv()
	}
	w.wg.Wait()
	w.log.Info("Worker stopped")
}

func (w *Worker) run(ctx, recvCtx context.Context, n int) {
	defer w.wg.Done()
	log := w.log.WithField("consumer", n)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		msg, err := w.queue.Receive(recvCtx)
		if err != nil {
			if recvCtx.Err() == nil {
				log.WithError(err).Error("Error receiving message")
			}
			w.sleep(ctx)
			continue
		}
		if msg == nil {
			w.sleep(ctx)
			continue
		}

		w.processMessage(ctx, log, msg)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.stop:
	case <-t.C:
	}
}

func (w *Worker) processMessage(ctx context.Context, log *logrus.Entry, msg *queue.Message) {
	// Acknowledge with a fresh context so a shutdown does not leave the
	// message to be redelivered after the handler already ran.
	defer func() {
		ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := w.queue.Ack(ackCtx, msg); err != nil {
			log.WithError(err).WithField("job_id", msg.JobID).Error("Error acknowledging message")
		}
	}()

	if msg.JobID == "" {
		log.Warn("Dropping message without job id")
		return
	}

	log = log.WithFields(logrus.Fields{"job_id": msg.JobID, "attempt": msg.Attempts})
	log.Info("Processing job")
	if err := w.handler(ctx, msg.JobID); err != nil {
		log.WithError(err).Error("Job handler failed")
		return
	}
	log.Info("Job handled")
}

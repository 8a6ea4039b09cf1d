// Package pipeline runs one job from queued to a terminal state.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"vodscribe/internal/blob"
	"vodscribe/internal/failure"
	"vodscribe/internal/media"
	"vodscribe/internal/models"
	"vodscribe/internal/transcript"
)

// JobStore is the subset of storage.JobRepository the pipeline uses.
type JobStore interface {
	GetByID(ctx context.Context, id string) (*models.Job, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	UpdateMedia(ctx context.Context, id string, duration *int, format string) error
	SetAudioKey(ctx context.Context, id, key string) error
	Fail(ctx context.Context, id, code, message string) (bool, error)
	Complete(ctx context.Context, id string, segments []models.Segment) error
}

type Fetcher interface {
	Fetch(ctx context.Context, job *models.Job, dir string) (string, error)
}

type Inspector interface {
	Inspect(ctx context.Context, path string) (*media.Info, error)
}

type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error)
}

// Deps are the collaborators of a Processor, built once at startup.
type Deps struct {
	Jobs        JobStore
	Store       blob.Store
	Fetcher     Fetcher
	Inspector   Inspector
	Transcoder  Transcoder
	Transcriber Transcriber
	Log         *logrus.Entry

	// MaxDurationSeconds rejects longer media. Zero means 1800.
	MaxDurationSeconds int
	// TempDir holds per-job scratch directories. Empty means os.TempDir().
	TempDir string
}

// Processor is the job state machine.
type Processor struct {
	Deps
}

// NewProcessor creates a Processor.
func NewProcessor(d Deps) *Processor {
	if d.MaxDurationSeconds == 0 {
		d.MaxDurationSeconds = 1800
	}
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	d.Log = d.Log.WithField("component", "pipeline")
	return &Processor{Deps: d}
}

// Process drives the job to completed or failed. A missing or terminal job
// is left alone. Stage failures are recorded on the job and are not
// returned; the error result only reports that the job's state could not
// be read or written.
func (p *Processor) Process(ctx context.Context, jobID string) (err error) {
	log := p.Log.WithField("job_id", jobID)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Errorf("panic while processing job\n%s", debug.Stack())
			err = p.fail(ctx, log, jobID, failure.Errorf(failure.Unknown, "panic: %v", r))
		}
	}()

	job, err := p.Jobs.GetByID(ctx, jobID)
	if err != nil {
		log.WithError(err).Error("failed to load job")
		return p.fail(ctx, log, jobID, failure.Classify(err, failure.Unknown))
	}
	if job == nil {
		log.Warn("job not found")
		return nil
	}
	if job.Status.Terminal() {
		log.WithField("status", job.Status).Info("job already terminal, skipping")
		return nil
	}

	ok, err := p.Jobs.MarkProcessing(ctx, jobID)
	if err != nil {
		return p.fail(ctx, log, jobID, failure.Classify(err, failure.Unknown))
	}
	if !ok {
		log.Info("job left the queue before it could start, skipping")
		return nil
	}

	start := time.Now()
	if ferr := p.run(ctx, log, job); ferr != nil {
		return p.fail(ctx, log, jobID, ferr)
	}
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("job completed")
	return nil
}

// run executes every stage after the job is processing. It returns the
// first stage failure.
func (p *Processor) run(ctx context.Context, log *logrus.Entry, job *models.Job) *failure.Error {
	dir, err := os.MkdirTemp(p.TempDir, "job-")
	if err != nil {
		return failure.Errorf(failure.Unknown, "create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	fetchFallback := failure.DownloadFailed
	if job.SourceKind == models.SourceUpload {
		fetchFallback = failure.StorageError
	}
	src, err := p.Fetcher.Fetch(ctx, job, dir)
	if err != nil {
		return failure.Classify(err, fetchFallback)
	}
	log.Debug("source fetched")

	info, err := p.Inspector.Inspect(ctx, src)
	if err != nil {
		return failure.Classify(err, failure.ProbeFailed)
	}
	if !info.HasAudio {
		return failure.Errorf(failure.NoAudioTrack, "no audio stream")
	}
	if info.Duration != nil && *info.Duration > p.MaxDurationSeconds {
		return failure.Errorf(failure.DurationExceeded, "duration %ds exceeds %ds", *info.Duration, p.MaxDurationSeconds)
	}

	format := job.InputFormat
	if format == "" {
		format = info.FormatName
	}
	if err := p.Jobs.UpdateMedia(ctx, job.ID, info.Duration, format); err != nil {
		return failure.Classify(err, failure.Unknown)
	}
	log.WithFields(logrus.Fields{"duration": info.Duration, "format": format}).Debug("media inspected")

	audioPath := filepath.Join(dir, "audio.mp3")
	if err := p.Transcoder.Transcode(ctx, src, audioPath); err != nil {
		return failure.Classify(err, failure.TranscodeFailed)
	}

	audioKey := blob.AudioKey(job.ID)
	if err := p.storeAudio(ctx, audioPath, audioKey); err != nil {
		return failure.Classify(err, failure.StorageError)
	}
	if err := p.Jobs.SetAudioKey(ctx, job.ID, audioKey); err != nil {
		return failure.Classify(err, failure.StorageError)
	}

	segments, err := p.Transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return failure.Classify(err, failure.TranscriptionFailed)
	}

	if err := p.Jobs.Complete(ctx, job.ID, segments); err != nil {
		return failure.Errorf(failure.Unknown, "complete job: %w", err)
	}

	fields := logrus.Fields{"segments": len(segments)}
	if c := transcript.OverallConfidence(segments); c != nil {
		fields["confidence"] = fmt.Sprintf("%.3f", *c)
	}
	log.WithFields(fields).Info("transcript stored")
	return nil
}

func (p *Processor) storeAudio(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return p.Store.Put(ctx, key, f, "audio/mpeg")
}

// fail records the failure unless the job is already terminal. It still
// runs when ctx has been cancelled so the job does not stay processing.
func (p *Processor) fail(ctx context.Context, log *logrus.Entry, jobID string, ferr *failure.Error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	log = log.WithField("failure_code", ferr.Code)
	changed, err := p.Jobs.Fail(ctx, jobID, string(ferr.Code), failure.Message(ferr.Code))
	if err != nil {
		log.WithError(err).Error("failed to record job failure")
		return fmt.Errorf("record failure for job %s: %w", jobID, err)
	}
	if !changed {
		log.WithError(ferr).Info("job already terminal, failure not recorded")
		return nil
	}
	log.WithError(ferr).Warn("job failed")
	return nil
}

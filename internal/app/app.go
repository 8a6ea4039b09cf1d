// Package app builds the shared backends from configuration for the
// commands under cmd/.
package app

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sqs"

	"vodscribe/internal/awsutil"
	"vodscribe/internal/blob"
	"vodscribe/internal/config"
	"vodscribe/internal/fetch"
	"vodscribe/internal/logger"
	"vodscribe/internal/media"
	"vodscribe/internal/pipeline"
	"vodscribe/internal/queue"
	"vodscribe/internal/retention"
	"vodscribe/internal/storage"
	"vodscribe/internal/submission"
	"vodscribe/internal/transcribe"
)

// Stores are the backends every command needs.
type Stores struct {
	DB    *storage.DB
	Jobs  *storage.JobRepository
	Blobs blob.Store
	Queue queue.Queue
}

// Close releases the database.
func (s *Stores) Close() error {
	return s.DB.Close()
}

// OpenStores opens the database, object store and task queue.
func OpenStores(cfg *config.Config) (*Stores, error) {
	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	blobs, err := openBlobs(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	q, err := openQueue(cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Stores{
		DB:    db,
		Jobs:  storage.NewJobRepository(db),
		Blobs: blobs,
		Queue: q,
	}, nil
}

func openBlobs(cfg *config.Config) (blob.Store, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case "local":
		return blob.NewLocal(sc.Dir)
	case "s3":
		sess, err := awsutil.Session(awsutil.Options{
			Region:    sc.Region,
			Endpoint:  sc.Endpoint,
			AccessKey: sc.AccessKey,
			SecretKey: sc.SecretKey,
			PathStyle: sc.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return blob.NewS3(s3.New(sess), sc.Bucket, sc.Prefix), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
}

func openQueue(cfg *config.Config, db *storage.DB) (queue.Queue, error) {
	qc := cfg.Queue
	switch qc.Backend {
	case "sqlite":
		return queue.NewSQLite(db, qc.VisibilityTimeout), nil
	case "sqs":
		// the S3 endpoint override does not apply to SQS
		sess, err := awsutil.Session(awsutil.Options{
			Region:    cfg.Storage.Region,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return queue.NewSQS(sqs.New(sess), qc.SQSURL, qc.WaitTime, qc.VisibilityTimeout), nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", qc.Backend)
}

// NewSubmission returns the job submission service.
func NewSubmission(cfg *config.Config, s *Stores, log *logger.Logger) *submission.Service {
	return submission.NewService(s.Jobs, s.Blobs, s.Queue, cfg.TempDir(), log.Entry)
}

// NewSweeper returns the retention sweeper.
func NewSweeper(cfg *config.Config, s *Stores, log *logger.Logger) *retention.Sweeper {
	window := time.Duration(cfg.Retention.Days) * 24 * time.Hour
	return retention.NewSweeper(s.Jobs, s.Blobs, window, log.Entry)
}

// NewProcessor wires the fetch, media and transcription stages into the
// job pipeline.
func NewProcessor(cfg *config.Config, s *Stores, log *logger.Logger) *pipeline.Processor {
	downloader := fetch.NewDownloader(fetch.NewGuard(), cfg.Fetch.MaxBytes, cfg.Fetch.DownloadTimeout)
	var yt *fetch.YouTubeResolver
	if cfg.Fetch.YouTube {
		yt = fetch.NewYouTubeResolver(downloader)
	}

	return pipeline.NewProcessor(pipeline.Deps{
		Jobs:       s.Jobs,
		Store:      s.Blobs,
		Fetcher:    fetch.NewFetcher(s.Blobs, downloader, yt),
		Inspector:  media.NewInspector(cfg.Media.FFprobePath, cfg.Media.ProbeTimeout),
		Transcoder: media.NewTranscoder(cfg.Media.FFmpegPath, cfg.Media.TranscodeTimeout),
		Transcriber: transcribe.NewClient(transcribe.Options{
			BaseURL:    cfg.Transcription.BaseURL,
			APIKey:     cfg.Transcription.APIKey,
			Model:      cfg.Transcription.Model,
			Timeout:    cfg.Transcription.Timeout,
			MaxRetries: cfg.Transcription.MaxRetries,
			Log:        log.Component("transcribe"),
		}),
		Log:                log.Entry,
		MaxDurationSeconds: cfg.Media.MaxDurationSeconds,
		TempDir:            cfg.TempDir(),
	})
}

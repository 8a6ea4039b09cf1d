// Package submission validates new jobs, stores their input and queues them.
package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vodscribe/internal/blob"
	"vodscribe/internal/failure"
	"vodscribe/internal/media"
	"vodscribe/internal/models"
)

// MaxUploadBytes is the largest accepted upload.
const MaxUploadBytes int64 = 2 << 30

// ErrorCode identifies why a submission was rejected.
type ErrorCode string

const (
	UnsupportedFormat ErrorCode = "unsupported_format"
	FileTooLarge      ErrorCode = "file_too_large"
	MissingFile       ErrorCode = "missing_file"
	MissingURL        ErrorCode = "missing_url"
	InvalidURL        ErrorCode = "invalid_url"
)

var details = map[ErrorCode]string{
	UnsupportedFormat: "Unsupported format. Allowed: MP4, MOV, MKV.",
	FileTooLarge:      "File too large (max 2 GB).",
	MissingFile:       "A file is required.",
	MissingURL:        "A URL is required.",
	InvalidURL:        "Only http and https URLs are supported.",
}

// Error is a rejected submission. Detail is safe to show to the submitter.
type Error struct {
	Code   ErrorCode
	Detail string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Detail
}

func reject(code ErrorCode) *Error {
	return &Error{Code: code, Detail: details[code]}
}

type JobCreator interface {
	Create(ctx context.Context, job *models.Job) error
	Fail(ctx context.Context, id, code, message string) (bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Service creates jobs.
type Service struct {
	jobs     JobCreator
	store    blob.Store
	queue    Enqueuer
	log      *logrus.Entry
	tempDir  string
	maxBytes int64
}

// NewService creates a Service. Uploads are spooled under tempDir before
// they are stored; empty means os.TempDir().
func NewService(jobs JobCreator, store blob.Store, queue Enqueuer, tempDir string, log *logrus.Entry) *Service {
	return &Service{
		jobs:     jobs,
		store:    store,
		queue:    queue,
		log:      log.WithField("component", "submission"),
		tempDir:  tempDir,
		maxBytes: MaxUploadBytes,
	}
}

// CreateUpload stores body as the original media of a new job and queues it.
func (s *Service) CreateUpload(ctx context.Context, filename, contentType string, body io.Reader) (*models.Job, error) {
	if body == nil {
		return nil, reject(MissingFile)
	}
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "unknown"
	}
	if !media.IsSupportedFormat(name) {
		return nil, reject(UnsupportedFormat)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	spool, err := os.CreateTemp(s.tempDir, "upload-")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	n, err := io.Copy(spool, io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if n > s.maxBytes {
		return nil, reject(FileTooLarge)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	job := &models.Job{
		ID:          id,
		SourceKind:  models.SourceUpload,
		SourceLabel: name,
		OriginalKey: blob.UploadKey(id, name),
		InputFormat: strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
	}
	if err := s.store.Put(ctx, job.OriginalKey, spool, contentType); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if err := s.submit(ctx, job); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"job_id": job.ID, "bytes": n}).Info("created upload job")
	return job, nil
}

// CreateURL queues a job for media at rawURL. The URL is only checked for
// shape here; the worker resolves and guards it.
func (s *Service) CreateURL(ctx context.Context, rawURL, label string) (*models.Job, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, reject(MissingURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, reject(InvalidURL)
	}
	if label = strings.TrimSpace(label); label == "" {
		label = labelFromURL(u)
	}

	job := &models.Job{
		ID:          uuid.New().String(),
		SourceKind:  models.SourceURL,
		SourceLabel: label,
		SourceURL:   rawURL,
	}
	if err := s.submit(ctx, job); err != nil {
		return nil, err
	}
	// URLのクエリは秘密情報を含みうるのでホストのみ記録
	s.log.WithFields(logrus.Fields{"job_id": job.ID, "host": u.Host}).Info("created URL job")
	return job, nil
}

func (s *Service) submit(ctx context.Context, job *models.Job) error {
	if err := s.jobs.Create(ctx, job); err != nil {
		// no row points at the upload, so retention would never reclaim it
		if job.OriginalKey != "" {
			if derr := s.store.Delete(context.WithoutCancel(ctx), job.OriginalKey); derr != nil {
				s.log.WithError(derr).WithField("key", job.OriginalKey).Warn("failed to delete orphaned upload")
			}
		}
		return err
	}
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		// a queued row that no message points at would never run
		if _, ferr := s.jobs.Fail(context.WithoutCancel(ctx), job.ID,
			string(failure.Unknown), failure.Message(failure.Unknown)); ferr != nil {
			s.log.WithError(ferr).WithField("job_id", job.ID).Error("failed to fail unqueued job")
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func labelFromURL(u *url.URL) string {
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return u.Host
	}
	return path.Base(p)
}

// AsError returns the submission error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var se *Error
	ok := errors.As(err, &se)
	return se, ok
}

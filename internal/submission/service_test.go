package submission

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"vodscribe/internal/blob"
	"vodscribe/internal/logger"
	"vodscribe/internal/models"
	"vodscribe/internal/queue"
	"vodscribe/internal/storage"
)

type fixture struct {
	svc   *Service
	repo  *storage.JobRepository
	store *blob.Memory
	queue *queue.SQLite
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		repo:  storage.NewJobRepository(db),
		store: blob.NewMemory(),
		queue: queue.NewSQLite(db, 0),
	}
	f.svc = NewService(f.repo, f.store, f.queue, t.TempDir(), logger.Discard())
	return f
}

func assertRejected(t *testing.T, err error, want ErrorCode) {
	t.Helper()
	se, ok := AsError(err)
	if !ok {
		t.Fatalf("error = %v, want submission error %s", err, want)
	}
	if se.Code != want {
		t.Fatalf("Code = %s, want %s", se.Code, want)
	}
	if se.Detail == "" {
		t.Fatal("Detail is empty")
	}
}

func TestCreateUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.CreateUpload(ctx, "Keynote.MOV", "video/quicktime", strings.NewReader("frames"))
	if err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}
	if job.InputFormat != "mov" {
		t.Errorf("InputFormat = %q, want mov", job.InputFormat)
	}
	if job.OriginalKey != "uploads/"+job.ID+"/Keynote.MOV" {
		t.Errorf("OriginalKey = %q", job.OriginalKey)
	}

	rc, err := f.store.Get(ctx, job.OriginalKey)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "frames" {
		t.Errorf("stored %q", data)
	}

	got, _ := f.repo.GetByID(ctx, job.ID)
	if got == nil || got.Status != models.JobStatusQueued || got.SourceKind != models.SourceUpload {
		t.Fatalf("job = %+v", got)
	}
	msg, err := f.queue.Receive(ctx)
	if err != nil || msg == nil || msg.JobID != job.ID {
		t.Fatalf("Receive() = %+v, %v", msg, err)
	}
}

func TestCreateUploadStripsDirectories(t *testing.T) {
	f := newFixture(t)
	job, err := f.svc.CreateUpload(context.Background(), `..\..\evil/clip.mkv`, "", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}
	if job.SourceLabel != "clip.mkv" {
		t.Fatalf("SourceLabel = %q", job.SourceLabel)
	}
}

func TestCreateUploadRejects(t *testing.T) {
	f := newFixture(t)
	f.svc.maxBytes = 4
	ctx := context.Background()

	_, err := f.svc.CreateUpload(ctx, "song.mp3", "", strings.NewReader("x"))
	assertRejected(t, err, UnsupportedFormat)

	_, err = f.svc.CreateUpload(ctx, "noext", "", strings.NewReader("x"))
	assertRejected(t, err, UnsupportedFormat)

	_, err = f.svc.CreateUpload(ctx, "big.mp4", "", strings.NewReader("12345"))
	assertRejected(t, err, FileTooLarge)

	_, err = f.svc.CreateUpload(ctx, "a.mp4", "", nil)
	assertRejected(t, err, MissingFile)

	if _, err := f.svc.CreateUpload(ctx, "exact.mp4", "", strings.NewReader("1234")); err != nil {
		t.Fatalf("CreateUpload(at limit) error = %v", err)
	}
	if f.store.Len() != 1 {
		t.Fatalf("store has %d objects, want 1", f.store.Len())
	}
}

func TestCreateURL(t *testing.T) {
	tests := []struct {
		url, label string
		wantLabel  string
	}{
		{"https://cdn.example.com/media/talk.mp4?sig=abc", "", "talk.mp4"},
		{"https://cdn.example.com/media/", "", "media"},
		{"http://example.com", "", "example.com"},
		{"https://example.com/v.mp4", "  Quarterly review ", "Quarterly review"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			f := newFixture(t)
			job, err := f.svc.CreateURL(context.Background(), tt.url, tt.label)
			if err != nil {
				t.Fatalf("CreateURL() error = %v", err)
			}
			if job.SourceLabel != tt.wantLabel {
				t.Errorf("SourceLabel = %q, want %q", job.SourceLabel, tt.wantLabel)
			}
			if job.SourceKind != models.SourceURL || job.SourceURL != tt.url {
				t.Errorf("job = %+v", job)
			}
			if n, _ := f.queue.Len(context.Background()); n != 1 {
				t.Errorf("queue length = %d, want 1", n)
			}
		})
	}
}

func TestCreateURLRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateURL(ctx, "  ", "")
	assertRejected(t, err, MissingURL)

	for _, raw := range []string{"ftp://example.com/a.mp4", "file:///etc/passwd", "example.com/a.mp4", "https://"} {
		_, err := f.svc.CreateURL(ctx, raw, "")
		assertRejected(t, err, InvalidURL)
	}
}

type failingCreator struct {
	JobCreator
}

func (failingCreator) Create(ctx context.Context, job *models.Job) error {
	return errors.New("database is locked")
}

func TestCreateUploadRemovesBlobWhenJobCreateFails(t *testing.T) {
	f := newFixture(t)
	f.svc.jobs = failingCreator{JobCreator: f.repo}

	_, err := f.svc.CreateUpload(context.Background(), "talk.mp4", "video/mp4", strings.NewReader("frames"))
	if err == nil {
		t.Fatal("expected error")
	}
	if f.store.Len() != 0 {
		t.Fatalf("store has %d objects, want the upload removed", f.store.Len())
	}
	if n, _ := f.queue.Len(context.Background()); n != 0 {
		t.Fatalf("queue length = %d, want 0", n)
	}
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(ctx context.Context, jobID string) error {
	return errors.New("broker down")
}

func TestEnqueueFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	f.svc.queue = brokenQueue{}
	ctx := context.Background()

	_, err := f.svc.CreateURL(ctx, "https://example.com/a.mp4", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := AsError(err); ok {
		t.Fatal("enqueue failure reported as a validation error")
	}

	counts, _ := f.repo.CountByStatus(ctx)
	if counts[models.JobStatusFailed] != 1 || counts[models.JobStatusQueued] != 0 {
		t.Fatalf("counts = %v, want the job failed", counts)
	}
}

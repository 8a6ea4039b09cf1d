package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vodscribe/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createJob(t *testing.T, repo *JobRepository, createdAt time.Time) *models.Job {
	t.Helper()
	job := &models.Job{
		SourceKind:  models.SourceUpload,
		SourceLabel: "talk.mp4",
		OriginalKey: "uploads/x/talk.mp4",
		CreatedAt:   createdAt,
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return job
}

func TestCreateAndGet(t *testing.T) {
	repo := NewJobRepository(openTestDB(t))
	ctx := context.Background()

	job := createJob(t, repo, time.Time{})
	if job.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != models.JobStatusQueued {
		t.Errorf("Status = %s, want queued", got.Status)
	}
	if got.OriginalKey != job.OriginalKey || got.SourceLabel != "talk.mp4" {
		t.Errorf("unexpected job %+v", got)
	}
	if got.Duration != nil || got.FailureCode != nil || got.StartedAt != nil {
		t.Errorf("nullable fields should be nil: %+v", got)
	}

	missing, err := repo.GetByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("GetByID(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestCreateRejectsBadSourceKind(t *testing.T) {
	repo := NewJobRepository(openTestDB(t))
	err := repo.Create(context.Background(), &models.Job{SourceKind: "ftp", SourceLabel: "x"})
	if err == nil {
		t.Fatal("expected error for invalid source kind")
	}
}

func TestFailIsGuarded(t *testing.T) {
	repo := NewJobRepository(openTestDB(t))
	ctx := context.Background()
	job := createJob(t, repo, time.Time{})

	if ok, err := repo.MarkProcessing(ctx, job.ID); err != nil || !ok {
		t.Fatalf("MarkProcessing() = %v, %v", ok, err)
	}
	if err := repo.Complete(ctx, job.ID, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	changed, err := repo.Fail(ctx, job.ID, "unknown", "late failure")
	if err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if changed {
		t.Fatal("Fail() changed a completed job")
	}

	got, _ := repo.GetByID(ctx, job.ID)
	if got.Status != models.JobStatusCompleted || got.FailureCode != nil {
		t.Fatalf("job = %s / %v, want completed without failure code", got.Status, got.FailureCode)
	}
	if ok, _ := repo.MarkProcessing(ctx, job.ID); ok {
		t.Fatal("MarkProcessing() moved a completed job")
	}
}

func TestFailTwiceKeepsFirstCode(t *testing.T) {
	repo := NewJobRepository(openTestDB(t))
	ctx := context.Background()
	job := createJob(t, repo, time.Time{})

	if changed, err := repo.Fail(ctx, job.ID, "probe_failed", "m1"); err != nil || !changed {
		t.Fatalf("first Fail() = %v, %v", changed, err)
	}
	if changed, err := repo.Fail(ctx, job.ID, "unknown", "m2"); err != nil || changed {
		t.Fatalf("second Fail() = %v, %v", changed, err)
	}
	got, _ := repo.GetByID(ctx, job.ID)
	if got.FailureCode == nil || *got.FailureCode != "probe_failed" {
		t.Fatalf("FailureCode = %v, want probe_failed", got.FailureCode)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt should be stamped on failure")
	}
}

func TestCompleteWritesSegmentsAtomically(t *testing.T) {
	repo := NewJobRepository(openTestDB(t))
	ctx := context.Background()
	job := createJob(t, repo, time.Time{})

	segments := []models.Segment{
		{Index: 0, StartMS: 0, EndMS: 1000, Text: "hello", Confidence: Ptr(0.9)},
		{Index: 1, StartMS: 1000, EndMS: 2500, Text: "world"},
	}

	if err := repo.Complete(ctx, job.ID, segments); !errors.Is(err, ErrNotProcessing) {
		t.Fatalf("Complete(queued) error = %v, want ErrNotProcessing", err)
	}
	if got, _ := repo.Segments(ctx, job.ID); len(got) != 0 {
		t.Fatalf("segments written for non-processing job: %d", len(got))
	}

	repo.MarkProcessing(ctx, job.ID)

	bad := append([]models.Segment{}, segments...)
	bad = append(bad, models.Segment{Index: 2, StartMS: 3000, EndMS: 2000, Text: "backwards"})
	if err := repo.Complete(ctx, job.ID, bad); err == nil {
		t.Fatal("expected constraint error for end < start")
	}
	got, _ := repo.GetByID(ctx, job.ID)
	if got.Status != models.JobStatusProcessing {
		t.Fatalf("Status after rolled back Complete = %s, want processing", got.Status)
	}
	if segs, _ := repo.Segments(ctx, job.ID); len(segs) != 0 {
		t.Fatalf("rolled back Complete left %d segments", len(segs))
	}

	if err := repo.Complete(ctx, job.ID, segments); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	segs, err := repo.Segments(ctx, job.ID)
	if err != nil {
		t.Fatalf("Segments() error = %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("len(segments) = %d, want 2", len(segs))
	}
	for i, s := range segs {
		if s.Index != i {
			t.Errorf("segment %d has index %d", i, s.Index)
		}
	}
	if segs[0].Confidence == nil || *segs[0].Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", segs[0].Confidence)
	}
	if segs[1].Confidence != nil {
		t.Errorf("confidence = %v, want nil", *segs[1].Confidence)
	}
}

func TestUpdateMediaAndAudioKey(t *testing.T) {
	repo := NewJobRepository(openTestDB(t))
	ctx := context.Background()
	job := createJob(t, repo, time.Time{})

	if err := repo.UpdateMedia(ctx, job.ID, Ptr(600), "mp4"); !errors.Is(err, ErrNotProcessing) {
		t.Fatalf("UpdateMedia(queued) error = %v, want ErrNotProcessing", err)
	}
	repo.MarkProcessing(ctx, job.ID)

	if err := repo.UpdateMedia(ctx, job.ID, Ptr(600), "mp4"); err != nil {
		t.Fatalf("UpdateMedia() error = %v", err)
	}
	if err := repo.UpdateMedia(ctx, job.ID, Ptr(600), ""); err != nil {
		t.Fatalf("UpdateMedia() error = %v", err)
	}
	if err := repo.SetAudioKey(ctx, job.ID, "audio/x/audio.mp3"); err != nil {
		t.Fatalf("SetAudioKey() error = %v", err)
	}

	got, _ := repo.GetByID(ctx, job.ID)
	if got.Duration == nil || *got.Duration != 600 {
		t.Errorf("Duration = %v, want 600", got.Duration)
	}
	if got.InputFormat != "mp4" {
		t.Errorf("InputFormat = %q, want mp4 kept", got.InputFormat)
	}
	if got.AudioKey != "audio/x/audio.mp3" {
		t.Errorf("AudioKey = %q", got.AudioKey)
	}
	if got.Status != models.JobStatusProcessing {
		t.Errorf("Status = %s, UpdateMedia must not change status", got.Status)
	}
}

func TestLateWritesLeaveTerminalJobAlone(t *testing.T) {
	repo := NewJobRepository(openTestDB(t))
	ctx := context.Background()
	job := createJob(t, repo, time.Time{})

	repo.MarkProcessing(ctx, job.ID)
	if err := repo.Complete(ctx, job.ID, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := repo.UpdateMedia(ctx, job.ID, Ptr(42), "mkv"); !errors.Is(err, ErrNotProcessing) {
		t.Fatalf("UpdateMedia(completed) error = %v, want ErrNotProcessing", err)
	}
	if err := repo.SetAudioKey(ctx, job.ID, "audio/late.mp3"); !errors.Is(err, ErrNotProcessing) {
		t.Fatalf("SetAudioKey(completed) error = %v, want ErrNotProcessing", err)
	}
	if err := repo.SetAudioKey(ctx, "missing", "k"); !errors.Is(err, ErrNotProcessing) {
		t.Fatalf("SetAudioKey(missing) error = %v, want ErrNotProcessing", err)
	}

	got, _ := repo.GetByID(ctx, job.ID)
	if got.Duration != nil || got.InputFormat != "" || got.AudioKey != "" {
		t.Fatalf("completed job was modified: %+v", got)
	}
}

func TestDeleteCascadesSegments(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()
	job := createJob(t, repo, time.Time{})

	repo.MarkProcessing(ctx, job.ID)
	if err := repo.Complete(ctx, job.ID, []models.Segment{{Index: 0, StartMS: 0, EndMS: 10, Text: "a"}}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := repo.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM segments WHERE job_id = ?`, job.ID).Scan(&n); err != nil {
		t.Fatalf("count segments: %v", err)
	}
	if n != 0 {
		t.Fatalf("%d segments survived job deletion", n)
	}
}

func TestListCreatedBefore(t *testing.T) {
	repo := NewJobRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)

	old := createJob(t, repo, now.AddDate(0, 0, -31))
	createJob(t, repo, now.AddDate(0, 0, -29))
	older := createJob(t, repo, now.AddDate(0, 0, -45))

	jobs, err := repo.ListCreatedBefore(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("ListCreatedBefore() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	if jobs[0].ID != older.ID || jobs[1].ID != old.ID {
		t.Fatalf("unexpected order: %s, %s", jobs[0].ID, jobs[1].ID)
	}
}

func TestCountByStatus(t *testing.T) {
	repo := NewJobRepository(openTestDB(t))
	ctx := context.Background()

	a := createJob(t, repo, time.Time{})
	createJob(t, repo, time.Time{})
	repo.Fail(ctx, a.ID, "unknown", "x")

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if counts[models.JobStatusQueued] != 1 || counts[models.JobStatusFailed] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

package handlers

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"vodscribe/internal/models"
	"vodscribe/internal/submission"
	"vodscribe/internal/transcript"
)

// JobReader is the read side of the job repository.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*models.Job, error)
	Segments(ctx context.Context, jobID string) ([]models.Segment, error)
	ListRecent(ctx context.Context, limit int) ([]models.Job, error)
	ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error)
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
}

// Submitter creates jobs.
type Submitter interface {
	CreateUpload(ctx context.Context, filename, contentType string, body io.Reader) (*models.Job, error)
	CreateURL(ctx context.Context, rawURL, label string) (*models.Job, error)
}

// JobHandler はジョブAPIのハンドラー
type JobHandler struct {
	repo   JobReader
	submit Submitter
}

// NewJobHandler は新しいJobHandlerを作成
func NewJobHandler(repo JobReader, submit Submitter) *JobHandler {
	return &JobHandler{repo: repo, submit: submit}
}

type jobView struct {
	ID                string     `json:"id"`
	SourceKind        string     `json:"source_kind"`
	SourceLabel       string     `json:"source_label"`
	SourceURL         string     `json:"source_url,omitempty"`
	InputFormat       string     `json:"input_format,omitempty"`
	Duration          *int       `json:"duration_seconds"`
	Status            string     `json:"status"`
	FailureCode       *string    `json:"failure_code"`
	FailureMessage    *string    `json:"failure_message"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at"`
	StartedAt         *time.Time `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at"`
	OverallConfidence *float64   `json:"overall_confidence"`
}

func newJobView(j *models.Job) jobView {
	return jobView{
		ID:             j.ID,
		SourceKind:     string(j.SourceKind),
		SourceLabel:    j.SourceLabel,
		SourceURL:      j.SourceURL,
		InputFormat:    j.InputFormat,
		Duration:       j.Duration,
		Status:         string(j.Status),
		FailureCode:    j.FailureCode,
		FailureMessage: j.FailureMessage,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}

type segmentView struct {
	Index      int      `json:"segment_index"`
	StartMS    int64    `json:"start_ms"`
	EndMS      int64    `json:"end_ms"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

func errorJSON(c echo.Context, status int, code, message string) error {
	return c.JSON(status, map[string]string{"code": code, "message": message})
}

// Create はアップロードまたはURLからジョブを作成
func (h *JobHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	contentType := c.Request().Header.Get(echo.HeaderContentType)

	var (
		job *models.Job
		err error
	)
	switch {
	case strings.HasPrefix(contentType, echo.MIMEMultipartForm):
		fh, ferr := c.FormFile("file")
		if ferr != nil {
			return errorJSON(c, http.StatusBadRequest, string(submission.MissingFile), "A file is required.")
		}
		f, ferr := fh.Open()
		if ferr != nil {
			return errorJSON(c, http.StatusBadRequest, string(submission.MissingFile), "A file is required.")
		}
		defer f.Close()
		job, err = h.submit.CreateUpload(ctx, fh.Filename, fh.Header.Get(echo.HeaderContentType), f)

	case strings.HasPrefix(contentType, echo.MIMEApplicationJSON):
		var body struct {
			URL   string `json:"url"`
			Label string `json:"label"`
		}
		if berr := c.Bind(&body); berr != nil {
			return errorJSON(c, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON.")
		}
		job, err = h.submit.CreateURL(ctx, body.URL, body.Label)

	default:
		return errorJSON(c, http.StatusUnsupportedMediaType, "unsupported_content_type",
			"Use multipart/form-data or application/json.")
	}

	if err != nil {
		if se, ok := submission.AsError(err); ok {
			return errorJSON(c, http.StatusBadRequest, string(se.Code), se.Detail)
		}
		c.Logger().Errorf("create job: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "internal", "We couldn't submit your job.")
	}
	return c.JSON(http.StatusCreated, newJobView(job))
}

// List はジョブ一覧を取得
func (h *JobHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	status := models.JobStatus(c.QueryParam("status"))

	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	var (
		jobs []models.Job
		err  error
	)
	switch {
	case status == "":
		jobs, err = h.repo.ListRecent(ctx, limit)
	case status.Valid():
		jobs, err = h.repo.ListByStatus(ctx, status, limit)
	default:
		return errorJSON(c, http.StatusBadRequest, "invalid_status", "Unknown job status.")
	}
	if err != nil {
		return err
	}

	views := make([]jobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, newJobView(&jobs[i]))
	}
	return c.JSON(http.StatusOK, map[string]any{"jobs": views})
}

// load fetches the job named by the :id parameter. A nil job means the
// response has already been written.
func (h *JobHandler) load(c echo.Context) (*models.Job, error) {
	job, err := h.repo.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errorJSON(c, http.StatusNotFound, "not_found", "Job not found.")
	}
	return job, nil
}

// Get はジョブを取得
func (h *JobHandler) Get(c echo.Context) error {
	job, err := h.load(c)
	if job == nil {
		return err
	}
	view := newJobView(job)
	if job.Status == models.JobStatusCompleted {
		segs, err := h.repo.Segments(c.Request().Context(), job.ID)
		if err != nil {
			return err
		}
		view.OverallConfidence = transcript.OverallConfidence(segs)
	}
	return c.JSON(http.StatusOK, view)
}

// Summary は完了ジョブの要約を取得
func (h *JobHandler) Summary(c echo.Context) error {
	job, err := h.load(c)
	if job == nil {
		return err
	}
	segs, err := h.repo.Segments(c.Request().Context(), job.ID)
	if err != nil {
		return err
	}
	var spoken int64
	for _, s := range segs {
		spoken += s.DurationMS()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"job_id":             job.ID,
		"status":             job.Status,
		"segment_count":      len(segs),
		"spoken_ms":          spoken,
		"overall_confidence": transcript.OverallConfidence(segs),
	})
}

// Segments はトランスクリプトのセグメントを取得
func (h *JobHandler) Segments(c echo.Context) error {
	job, err := h.load(c)
	if job == nil {
		return err
	}
	segs, err := h.repo.Segments(c.Request().Context(), job.ID)
	if err != nil {
		return err
	}
	views := make([]segmentView, 0, len(segs))
	for _, s := range segs {
		views = append(views, segmentView{
			Index:      s.Index,
			StartMS:    s.StartMS,
			EndMS:      s.EndMS,
			Text:       s.Text,
			Confidence: s.Confidence,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"job_id": job.ID, "segments": views})
}

// Export はトランスクリプトをダウンロード
func (h *JobHandler) Export(c echo.Context) error {
	format, ok := transcript.ParseFormat(c.Param("format"))
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "unsupported_export_format", "Unsupported format. Allowed: txt, srt, vtt.")
	}
	job, err := h.load(c)
	if job == nil {
		return err
	}
	if job.Status != models.JobStatusCompleted {
		return errorJSON(c, http.StatusConflict, "not_completed", "Transcript not available until job is completed.")
	}
	segs, err := h.repo.Segments(c.Request().Context(), job.ID)
	if err != nil {
		return err
	}
	body, err := transcript.Export(format, segs)
	if err != nil {
		return err
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{
		"filename": job.SourceLabel + "." + string(format),
	})
	if disposition != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition, disposition)
	}
	return c.Blob(http.StatusOK, format.ContentType(), []byte(body))
}

// Stats はジョブ統計を取得
func (h *JobHandler) Stats(c echo.Context) error {
	counts, err := h.repo.CountByStatus(c.Request().Context())
	if err != nil {
		return err
	}
	stats := map[string]int64{
		string(models.JobStatusQueued):     0,
		string(models.JobStatusProcessing): 0,
		string(models.JobStatusCompleted):  0,
		string(models.JobStatusFailed):     0,
	}
	for status, n := range counts {
		stats[string(status)] = n
	}
	return c.JSON(http.StatusOK, stats)
}

// Package transcribe calls an OpenAI-compatible speech-to-text endpoint and
// normalizes its segment output.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"vodscribe/internal/failure"
	"vodscribe/internal/models"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries uint64
	HTTPClient *http.Client
	Log        *logrus.Entry
}

// Client is a transcription API client.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	timeout    time.Duration
	maxRetries uint64
	http       *http.Client
	log        *logrus.Entry
	newBackOff func() backoff.BackOff
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		endpoint:   strings.TrimRight(opts.BaseURL, "/") + "/audio/transcriptions",
		apiKey:     opts.APIKey,
		model:      opts.Model,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		http:       hc,
		log:        log.WithField("module", "transcribe"),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = time.Second
			bo.MaxInterval = 20 * time.Second
			bo.MaxElapsedTime = 0
			return bo
		},
	}
}

type apiSegment struct {
	Start      *float64 `json:"start"`
	End        *float64 `json:"end"`
	Text       string   `json:"text"`
	AvgLogprob *float64 `json:"avg_logprob"`
}

type apiResponse struct {
	Segments []apiSegment `json:"segments"`
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("transcription api returned %d: %s", e.code, e.body)
}

// Transcribe uploads the audio file and returns its segments in service
// order. Every error is transcription_failed.
func (c *Client) Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error) {
	body, contentType, err := c.buildForm(audioPath)
	if err != nil {
		return nil, failure.New(failure.TranscriptionFailed, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var resp apiResponse
	op := func() error {
		return c.post(ctx, body, contentType, &resp)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		c.log.WithError(err).WithField("retry_in", wait).Warn("transcription request failed, retrying")
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return nil, failure.New(failure.TranscriptionFailed, err)
	}

	segments, err := normalize(resp.Segments)
	if err != nil {
		return nil, failure.New(failure.TranscriptionFailed, err)
	}
	c.log.WithField("segments", len(segments)).Info("transcription returned")
	return segments, nil
}

func (c *Client) buildForm(audioPath string) ([]byte, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}
	w.WriteField("model", c.model)
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "segment")
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return b.Bytes(), w.FormDataContentType(), nil
}

// post makes one attempt. Transport errors, 429 and 5xx are retryable;
// anything else is permanent.
func (c *Client) post(ctx context.Context, body []byte, contentType string, target *apiResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &statusError{code: resp.StatusCode, body: truncate(string(data), 300)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return se
		}
		return backoff.Permanent(se)
	}

	*target = apiResponse{}
	if err := json.Unmarshal(data, target); err != nil {
		return backoff.Permanent(fmt.Errorf("decode transcription response: %w", err))
	}
	return nil
}

// normalize converts API segments to models.Segment: index by position,
// milliseconds truncated, confidence = clamp(exp(avg_logprob), 0, 1).
// Start is clamped to >= 0 and end to >= start. An offset outside
// ±maxOffsetSeconds rejects the whole response.
func normalize(in []apiSegment) ([]models.Segment, error) {
	out := make([]models.Segment, 0, len(in))
	for i, s := range in {
		start, err := toMillis(s.Start)
		if err != nil {
			return nil, fmt.Errorf("segment %d start: %w", i, err)
		}
		end, err := toMillis(s.End)
		if err != nil {
			return nil, fmt.Errorf("segment %d end: %w", i, err)
		}
		seg := models.Segment{
			Index:   i,
			StartMS: start,
			EndMS:   end,
			Text:    strings.TrimSpace(s.Text),
		}
		if seg.StartMS < 0 {
			seg.StartMS = 0
		}
		if seg.EndMS < seg.StartMS {
			seg.EndMS = seg.StartMS
		}
		if s.AvgLogprob != nil {
			lp := *s.AvgLogprob
			conf := math.Max(0, math.Min(1, math.Exp(lp)))
			seg.AvgLogprob = &lp
			seg.Confidence = &conf
		}
		out = append(out, seg)
	}
	return out, nil
}

// maxOffsetSeconds bounds segment offsets; media is far shorter than this.
const maxOffsetSeconds = 24 * 60 * 60

func toMillis(sec *float64) (int64, error) {
	if sec == nil {
		return 0, nil
	}
	v := *sec
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > maxOffsetSeconds {
		return 0, fmt.Errorf("offset %v out of range", v)
	}
	return int64(v * 1000), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

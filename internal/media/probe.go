package media

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"vodscribe/internal/failure"
)

// Info is what the pipeline needs to know about a media file.
type Info struct {
	// Duration is whole seconds, truncated; nil when the container does not
	// report one.
	Duration *int
	HasAudio bool
	// FormatName is the first name in the container's format_name list.
	FormatName string
}

// Inspector runs ffprobe.
type Inspector struct {
	ffprobePath string
	timeout     time.Duration
	runner      commandRunner
}

// NewInspector returns an Inspector using the given binary and timeout.
func NewInspector(ffprobePath string, timeout time.Duration) *Inspector {
	return &Inspector{
		ffprobePath: ffprobePath,
		timeout:     timeout,
		runner:      execRunner{},
	}
}

type probeOutput struct {
	Format *struct {
		Duration   *string `json:"duration"`
		FormatName string  `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// Inspect probes path once. A non-zero exit, timeout or unparseable output
// is a probe_failed error.
func (i *Inspector) Inspect(ctx context.Context, path string) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	res, err := i.runner.Run(ctx, i.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, failure.Errorf(failure.ProbeFailed, "ffprobe timed out after %s", i.timeout)
		}
		return nil, failure.Errorf(failure.ProbeFailed, "ffprobe exited %d: %w: %s", res.ExitCode, err, tail(res.Stderr, 200))
	}
	return parseProbe(res.Stdout)
}

func parseProbe(stdout string) (*Info, error) {
	var out probeOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		return nil, failure.Errorf(failure.ProbeFailed, "parse ffprobe output: %w", err)
	}

	info := &Info{}
	for _, s := range out.Streams {
		if s.CodecType == "audio" {
			info.HasAudio = true
			break
		}
	}
	if out.Format == nil {
		return info, nil
	}

	if name, _, _ := strings.Cut(out.Format.FormatName, ","); name != "" {
		info.FormatName = name
	}
	if d := out.Format.Duration; d != nil && *d != "" && *d != "N/A" {
		secs, err := strconv.ParseFloat(*d, 64)
		if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
			return nil, failure.Errorf(failure.ProbeFailed, "bad duration %q", *d)
		}
		// clamp so absurd header values still trip the duration limit
		if secs > math.MaxInt32 {
			secs = math.MaxInt32
		}
		n := int(secs)
		info.Duration = &n
	}
	return info, nil
}

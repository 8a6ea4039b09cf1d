package media

import (
	"context"
	"errors"
	"os"
	"time"

	"vodscribe/internal/failure"
)

// Transcoder extracts the audio track with ffmpeg.
type Transcoder struct {
	ffmpegPath string
	timeout    time.Duration
	runner     commandRunner
}

// NewTranscoder returns a Transcoder using the given binary and timeout.
func NewTranscoder(ffmpegPath string, timeout time.Duration) *Transcoder {
	return &Transcoder{
		ffmpegPath: ffmpegPath,
		timeout:    timeout,
		runner:     execRunner{},
	}
}

// transcodeArgs produce mono 16 kHz 48 kbps MP3: about 11 MB for 30 minutes,
// under the transcription API's upload ceiling.
func transcodeArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-ar", "16000",
		"-ac", "1",
		"-b:a", "48k",
		outputPath,
	}
}

// Transcode writes the audio of inputPath to outputPath. Any failure,
// including a missing or empty output, is transcode_failed.
func (t *Transcoder) Transcode(ctx context.Context, inputPath, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	res, err := t.runner.Run(ctx, t.ffmpegPath, transcodeArgs(inputPath, outputPath)...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure.Errorf(failure.TranscodeFailed, "ffmpeg timed out after %s", t.timeout)
		}
		return failure.Errorf(failure.TranscodeFailed, "ffmpeg exited %d: %w: %s", res.ExitCode, err, tail(res.Stderr, 200))
	}

	fi, err := os.Stat(outputPath)
	if err != nil {
		return failure.Errorf(failure.TranscodeFailed, "ffmpeg completed but output is missing: %w", err)
	}
	if fi.Size() == 0 {
		return failure.Errorf(failure.TranscodeFailed, "ffmpeg produced an empty file")
	}
	return nil
}

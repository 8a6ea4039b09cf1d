// Package failure defines the closed set of job failure codes and the typed
// error that pipeline stages return.
package failure

import (
	"errors"
	"fmt"
)

// Code classifies why a job failed.
type Code string

// Failure codes. The set is closed; anything else is reported as Unknown.
const (
	UnsupportedFormat    Code = "unsupported_format"
	NoAudioTrack         Code = "no_audio_track"
	DurationExceeded     Code = "duration_exceeded"
	DownloadFailed       Code = "download_failed"
	DownloadTimeout      Code = "download_timeout"
	DownloadSizeExceeded Code = "download_size_exceeded"
	SSRFBlocked          Code = "ssrf_blocked"
	TranscriptionFailed  Code = "transcription_failed"
	ProbeFailed          Code = "probe_failed"
	TranscodeFailed      Code = "transcode_failed"
	StorageError         Code = "storage_error"
	Unknown              Code = "unknown"
)

// Messages never include user input or raw error text so they are safe to
// display and to log.
var messages = map[Code]string{
	UnsupportedFormat:    "The uploaded file format is not supported. Please use MP4, MOV, or MKV.",
	NoAudioTrack:         "The video file does not contain an audio track.",
	DurationExceeded:     "The video exceeds the 30-minute maximum duration.",
	DownloadFailed:       "Failed to download the video from the provided URL.",
	DownloadTimeout:      "The download timed out. The file may be too large or the server too slow.",
	DownloadSizeExceeded: "The file exceeds the maximum download size.",
	SSRFBlocked:          "The provided URL points to a restricted network address.",
	TranscriptionFailed:  "The transcription service encountered an error. Please try again.",
	ProbeFailed:          "Could not read the video file. It may be corrupted or in an unsupported format.",
	TranscodeFailed:      "Failed to extract and compress audio from the video.",
	StorageError:         "Failed to store the file. Please try again.",
	Unknown:              "An unexpected error occurred. Please try again later.",
}

// Codes returns every known code.
func Codes() []Code {
	return []Code{
		UnsupportedFormat, NoAudioTrack, DurationExceeded, DownloadFailed,
		DownloadTimeout, DownloadSizeExceeded, SSRFBlocked, TranscriptionFailed,
		ProbeFailed, TranscodeFailed, StorageError, Unknown,
	}
}

// Known reports whether c belongs to the closed set.
func (c Code) Known() bool {
	_, ok := messages[c]
	return ok
}

// Message returns the fixed user-facing message for c.
func Message(c Code) string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[Unknown]
}

// Error is a stage failure tagged with its code.
type Error struct {
	Code Code
	Err  error
}

// New returns an Error with the given code.
func New(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Errorf formats a message into an Error with the given code.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CodeOf returns the code carried by err, or fallback if err carries none.
func CodeOf(err error, fallback Code) Code {
	var fe *Error
	if errors.As(err, &fe) && fe.Code.Known() {
		return fe.Code
	}
	return fallback
}

// Classify returns err as an *Error, tagging it with fallback unless it
// already carries a known code.
func Classify(err error, fallback Code) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Code.Known() {
		return fe
	}
	return &Error{Code: fallback, Err: err}
}

package transcript

import (
	"fmt"
	"strings"
	"time"

	"vodscribe/internal/models"
)

// Format is an export format.
type Format string

const (
	FormatTXT Format = "txt"
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
)

// ParseFormat returns the format named by s.
func ParseFormat(s string) (Format, bool) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTXT, FormatSRT, FormatVTT:
		return f, true
	}
	return "", false
}

// ContentType returns the HTTP content type for f.
func (f Format) ContentType() string {
	if f == FormatVTT {
		return "text/vtt; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// Export renders segments in the given format.
func Export(f Format, segments []models.Segment) (string, error) {
	switch f {
	case FormatTXT:
		return FormatAsText(segments), nil
	case FormatSRT:
		return FormatAsSRT(segments), nil
	case FormatVTT:
		return FormatAsVTT(segments), nil
	}
	return "", fmt.Errorf("unsupported export format: %s", f)
}

// FormatAsText returns one line per segment.
func FormatAsText(segments []models.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.Text)
		b.WriteByte('\n')
	}
	if len(segments) == 0 {
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatAsSRT returns numbered SRT blocks separated by blank lines.
func FormatAsSRT(segments []models.Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n", i+1,
			formatTimestamp(seg.StartMS, ','), formatTimestamp(seg.EndMS, ','), seg.Text)
	}
	if len(segments) == 0 {
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatAsVTT returns a WebVTT document.
func FormatAsVTT(segments []models.Segment) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "\n%s --> %s\n%s\n",
			formatTimestamp(seg.StartMS, '.'), formatTimestamp(seg.EndMS, '.'), seg.Text)
	}
	return b.String()
}

// formatTimestamp renders HH:MM:SS followed by sep and milliseconds.
func formatTimestamp(ms int64, sep byte) string {
	d := time.Duration(ms) * time.Millisecond
	h := int64(d / time.Hour)
	m := int64(d/time.Minute) % 60
	s := int64(d/time.Second) % 60
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms%1000)
}

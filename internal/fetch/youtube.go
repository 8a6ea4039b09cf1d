package fetch

import (
	"context"
	"net/url"
	"sort"
	"strings"

	ytdl "github.com/kkdai/youtube/v2"

	"vodscribe/internal/failure"
)

// YouTubeResolver は動画ページURLを音声ストリームURLに変換する
type YouTubeResolver struct {
	client ytdl.Client
	guard  *Guard
}

// NewYouTubeResolver uses the downloader's guarded HTTP client for every
// request the library makes.
func NewYouTubeResolver(d *Downloader) *YouTubeResolver {
	return &YouTubeResolver{
		client: ytdl.Client{HTTPClient: d.HTTPClient()},
		guard:  d.guard,
	}
}

// IsYouTubeURL reports whether raw points at a YouTube watch page or short link.
func IsYouTubeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range []string{"www.", "m.", "music."} {
		host = strings.TrimPrefix(host, p)
	}
	return host == "youtube.com" || host == "youtu.be"
}

// Resolve returns a direct stream URL for the smallest audio-bearing format.
func (r *YouTubeResolver) Resolve(ctx context.Context, pageURL string) (string, error) {
	if _, err := r.guard.Validate(ctx, pageURL); err != nil {
		return "", err
	}

	video, err := r.client.GetVideoContext(ctx, pageURL)
	if err != nil {
		return "", failure.Errorf(failure.DownloadFailed, "youtube: get video: %w", err)
	}

	format := selectAudioFormat(video.Formats)
	if format == nil {
		return "", failure.Errorf(failure.DownloadFailed, "youtube: no audio formats available")
	}

	streamURL, err := r.client.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return "", failure.Errorf(failure.DownloadFailed, "youtube: stream url: %w", err)
	}
	return streamURL, nil
}

// selectAudioFormat は音声を含むフォーマットから最小のものを選ぶ
// 音声のみのフォーマットを優先し、サイズ不明のものは後回し
func selectAudioFormat(formats ytdl.FormatList) *ytdl.Format {
	var candidates []ytdl.Format
	for _, f := range formats {
		if f.AudioChannels > 0 || strings.HasPrefix(f.MimeType, "audio/") {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	audioOnly := func(f ytdl.Format) bool { return strings.HasPrefix(f.MimeType, "audio/") }
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if audioOnly(a) != audioOnly(b) {
			return audioOnly(a)
		}
		if (a.ContentLength == 0) != (b.ContentLength == 0) {
			return a.ContentLength != 0
		}
		if a.ContentLength != b.ContentLength {
			return a.ContentLength < b.ContentLength
		}
		return a.Bitrate < b.Bitrate
	})
	return &candidates[0]
}

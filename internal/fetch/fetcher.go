package fetch

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"vodscribe/internal/blob"
	"vodscribe/internal/failure"
	"vodscribe/internal/models"
)

// Fetcher produces a local copy of a job's original media.
type Fetcher struct {
	store      blob.Store
	downloader *Downloader
	youtube    *YouTubeResolver
}

// NewFetcher creates a Fetcher. youtube may be nil to treat YouTube links
// as plain URLs.
func NewFetcher(store blob.Store, downloader *Downloader, youtube *YouTubeResolver) *Fetcher {
	return &Fetcher{
		store:      store,
		downloader: downloader,
		youtube:    youtube,
	}
}

// Fetch writes the job's original media into dir and returns the file path.
// Errors are *failure.Error.
func (f *Fetcher) Fetch(ctx context.Context, job *models.Job, dir string) (string, error) {
	switch job.SourceKind {
	case models.SourceUpload:
		return f.fetchUpload(ctx, job.OriginalKey, dir)
	case models.SourceURL:
		return f.fetchURL(ctx, job.SourceURL, dir)
	}
	return "", failure.Errorf(failure.Unknown, "unknown source kind %q", job.SourceKind)
}

func (f *Fetcher) fetchUpload(ctx context.Context, key, dir string) (string, error) {
	if key == "" {
		return "", failure.Errorf(failure.StorageError, "job has no original key")
	}
	rc, err := f.store.Get(ctx, key)
	if err != nil {
		return "", failure.Errorf(failure.StorageError, "get %s: %w", key, err)
	}
	defer rc.Close()

	dest := filepath.Join(dir, "original"+safeExt(key))
	out, err := os.Create(dest)
	if err != nil {
		return "", failure.Errorf(failure.StorageError, "create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(dest)
		return "", failure.Errorf(failure.StorageError, "copy %s: %w", key, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return "", failure.Errorf(failure.StorageError, "close %s: %w", dest, err)
	}
	return dest, nil
}

func (f *Fetcher) fetchURL(ctx context.Context, rawURL, dir string) (string, error) {
	target := rawURL
	if f.youtube != nil && IsYouTubeURL(rawURL) {
		streamURL, err := f.youtube.Resolve(ctx, rawURL)
		if err != nil {
			return "", err
		}
		target = streamURL
	}

	ext := ""
	if u, err := url.Parse(target); err == nil {
		ext = safeExt(u.Path)
	}
	dest := filepath.Join(dir, "original"+ext)
	out, err := os.Create(dest)
	if err != nil {
		return "", failure.Errorf(failure.DownloadFailed, "create %s: %w", dest, err)
	}
	if _, err := f.downloader.Download(ctx, target, out); err != nil {
		out.Close()
		os.Remove(dest)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return "", failure.Errorf(failure.DownloadFailed, "close %s: %w", dest, err)
	}
	return dest, nil
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

// safeExt returns the lowercase extension of p if it looks like a media
// extension, else "".
func safeExt(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if !extPattern.MatchString(ext) {
		return ""
	}
	return ext
}


package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/samcharles93/ganport/internal/logger"
)

// Fetch resolves source to a local file path, downloading http(s) sources
// into the cache directory first.
func (l *Loader) Fetch(ctx context.Context, source string) (string, error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return localPath(source, source)
	}
	switch u.Scheme {
	case "file":
		return localPath(u.Path, source)
	case "http", "https":
		return l.download(ctx, u)
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrCheckpointNotFound, u.Scheme)
	}
}

func localPath(path, source string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrCheckpointNotFound, source)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrCheckpointNotFound, source)
	}
	return path, nil
}

func (l *Loader) cacheDir() (string, error) {
	if l.CacheDir != "" {
		return l.CacheDir, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ganport", "checkpoints"), nil
}

// CachePath is where a downloaded source is stored. The name is a UUIDv5 of
// the URL so repeated loads hit the cache.
func (l *Loader) CachePath(source string) (string, error) {
	dir, err := l.cacheDir()
	if err != nil {
		return "", err
	}
	ext := filepath.Ext(strings.SplitN(source, "?", 2)[0])
	if len(ext) > 16 {
		ext = ""
	}
	return filepath.Join(dir, uuid.NewSHA1(uuid.NameSpaceURL, []byte(source)).String()+ext), nil
}

func (l *Loader) download(ctx context.Context, u *url.URL) (string, error) {
	log := logger.FromContext(ctx)
	source := u.String()
	dst, err := l.CachePath(source)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(dst); err == nil && !info.IsDir() {
		log.Debug("checkpoint cache hit", "url", source, "path", dst)
		return dst, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCheckpointNotFound, err)
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	log.Info("downloading checkpoint", "url", source)
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCheckpointNotFound, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s: %s", ErrCheckpointNotFound, source, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return "", err
	}
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && resp.ContentLength >= 0 && n != resp.ContentLength {
		err = fmt.Errorf("short download: %d of %d bytes", n, resp.ContentLength)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: %s: %w", ErrCheckpointNotFound, source, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	log.Debug("checkpoint cached", "url", source, "path", dst, "bytes", n)
	return dst, nil
}

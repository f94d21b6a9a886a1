package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/waygate/internal/domain"
	"github.com/soyeahso/waygate/internal/logging"
)

const downloadTimeout = 30 * time.Second

// DownloadResult is a fully downloaded and validated media payload.
type DownloadResult struct {
	Data     []byte
	MimeType string
	Size     int64
	TempPath string
}

// Downloader streams media URLs into per-session temp files with size and
// MIME enforcement.
type Downloader struct {
	client  *http.Client
	tempDir string
	log     *logging.Logger
}

// NewDownloader creates a downloader writing temp files under tempDir. A nil
// client uses http.DefaultClient.
func NewDownloader(client *http.Client, tempDir string, log *logging.Logger) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{client: client, tempDir: tempDir, log: log.Sub("media")}
}

// Download re-validates the URL via HEAD, then streams the GET response into
// a temp file, counting bytes and aborting if the body exceeds the per-type
// cap regardless of the advertised content length.
func (d *Downloader) Download(ctx context.Context, rawURL string, mediaType domain.MediaType, sessionID string) (DownloadResult, error) {
	var res DownloadResult

	head, err := Validate(ctx, d.client, rawURL, mediaType)
	if err != nil {
		return res, err
	}

	sessionDir := filepath.Join(d.tempDir, sessionID)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return res, fmt.Errorf("creating temp dir: %w", err)
	}
	tempPath := filepath.Join(sessionDir, uuid.New().String()+".tmp")

	getCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(getCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return res, fmt.Errorf("building request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return res, fmt.Errorf("download timeout: URL took longer than %s to respond", downloadTimeout)
		}
		return res, fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return res, err
	}

	limit := domain.MaxMediaSize(mediaType)
	size, err := streamToFile(resp.Body, tempPath, limit)
	if err != nil {
		os.Remove(tempPath)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(getCtx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("download timeout: URL took longer than %s to respond", downloadTimeout)
		}
		return res, err
	}

	data, err := os.ReadFile(tempPath)
	if err != nil {
		os.Remove(tempPath)
		return res, fmt.Errorf("reading downloaded file: %w", err)
	}

	mime := normalizeMime(resp.Header.Get("Content-Type"))
	if mime == "" {
		mime = head.ContentType
	}
	if mime == "" {
		mime = mimeFromExtension(rawURL, mediaType)
	}

	d.log.Debug().
		Str("sessionId", sessionID).
		Str("mime", mime).
		Int64("size", size).
		Msg("media downloaded")

	return DownloadResult{
		Data:     data,
		MimeType: mime,
		Size:     size,
		TempPath: tempPath,
	}, nil
}

// Remove deletes a temp file after a successful send. Missing files are not
// an error.
func (d *Downloader) Remove(tempPath string) error {
	err := os.Remove(tempPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing temp file: %w", err)
	}
	return nil
}

// streamToFile copies body into path, failing once more than limit bytes
// have been read. Servers can lie about Content-Length; the cap is enforced
// on actual bytes.
func streamToFile(body io.Reader, path string, limit int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer f.Close()

	written, err := io.Copy(f, io.LimitReader(body, limit+1))
	if err != nil {
		return written, fmt.Errorf("streaming download: %w", err)
	}
	if written > limit {
		return written, fmt.Errorf("download aborted: file exceeds %s limit", formatBytes(limit))
	}
	return written, nil
}

// mimeFromExtension is the fallback when neither response carried a
// Content-Type header.
func mimeFromExtension(rawURL string, mediaType domain.MediaType) string {
	ext := ""
	if parsed, err := url.Parse(rawURL); err == nil {
		ext = path.Ext(parsed.Path)
	}

	byExt := map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".webp": "image/webp",
		".gif":  "image/gif",
		".mp4":  "video/mp4",
		".3gp":  "video/3gpp",
		".mov":  "video/quicktime",
		".webm": "video/webm",
		".mp3":  "audio/mpeg",
		".ogg":  "audio/ogg",
		".aac":  "audio/aac",
		".wav":  "audio/wav",
		".opus": "audio/opus",
	}
	if mime, ok := byExt[ext]; ok {
		return mime
	}
	if allowed := domain.AllowedMimeTypes(mediaType); len(allowed) > 0 {
		return allowed[0]
	}
	return "application/octet-stream"
}

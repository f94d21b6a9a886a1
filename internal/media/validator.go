// Package media validates, downloads and cleans up media files referenced by
// outbound send commands.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/waygate/internal/domain"
)

const headTimeout = 10 * time.Second

// Classified validation failures. Callers surface these messages verbatim.
var (
	ErrBadScheme       = errors.New("invalid URL protocol, must be HTTP or HTTPS")
	ErrValidateTimeout = errors.New("URL validation timeout")
	ErrNotFound        = errors.New("URL not found (404)")
	ErrForbidden       = errors.New("access denied (403)")
	ErrUnauthorized    = errors.New("authentication required (401)")
)

// ValidationResult reports what the HEAD probe learned about the URL.
type ValidationResult struct {
	ContentLength int64
	ContentType   string
}

// Validate HEAD-requests the URL and checks scheme, reported size and MIME
// type against the per-media-type policy.
func Validate(ctx context.Context, client *http.Client, rawURL string, mediaType domain.MediaType) (ValidationResult, error) {
	var res ValidationResult

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return res, fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return res, ErrBadScheme
	}

	headCtx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(headCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return res, fmt.Errorf("building request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return res, ErrValidateTimeout
		}
		return res, fmt.Errorf("URL not accessible: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return res, err
	}

	res.ContentLength, _ = strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	res.ContentType = normalizeMime(resp.Header.Get("Content-Type"))

	if res.ContentType != "" && !mimeAllowed(res.ContentType, mediaType) {
		return res, fmt.Errorf("invalid content type: %s, expected one of: %s",
			res.ContentType, strings.Join(domain.AllowedMimeTypes(mediaType), ", "))
	}

	if limit := domain.MaxMediaSize(mediaType); res.ContentLength > limit {
		return res, fmt.Errorf("file too large: %s (max: %s)",
			formatBytes(res.ContentLength), formatBytes(limit))
	}

	return res, nil
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 400:
		return fmt.Errorf("URL not accessible: status %d", code)
	default:
		return nil
	}
}

// normalizeMime strips parameters and lowercases a Content-Type header value.
func normalizeMime(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func mimeAllowed(mime string, mediaType domain.MediaType) bool {
	for _, allowed := range domain.AllowedMimeTypes(mediaType) {
		if mime == allowed {
			return true
		}
	}
	return false
}

func formatBytes(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}

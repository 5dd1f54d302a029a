// Package blur wraps the remote face/plate blurring service.
package blur

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/your-org/streetpano/internal/exifmeta"
)

// Error marks a failed blur call. Blur failures are always retryable: the
// picture stays in the queue and the worker will try again.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("blur: %s: %v", e.Reason, e.Err)
	}
	return "blur: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Client posts originals to the blur endpoint and validates the result.
type Client struct {
	url  string
	http *http.Client
}

// New returns a client for the given base URL, or nil when the URL is
// empty (blurring disabled).
func New(url string, timeout time.Duration) *Client {
	if url == "" {
		return nil
	}
	return &Client{
		url:  strings.TrimSuffix(url, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Blur sends JPEG bytes to the service and returns the blurred JPEG. The
// result must have the exact pixel dimensions of the input; its EXIF is
// copied over from the source so no metadata is lost in the round trip.
func (c *Client) Blur(ctx context.Context, jpegData []byte) ([]byte, error) {
	srcCfg, _, err := image.DecodeConfig(bytes.NewReader(jpegData))
	if err != nil {
		return nil, &Error{Reason: "unreadable input image", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/blur/", bytes.NewReader(jpegData))
	if err != nil {
		return nil, &Error{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Reason: "call blur service", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Reason: fmt.Sprintf("blur service returned %d", resp.StatusCode)}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && ct != "image/jpeg" {
		return nil, &Error{Reason: "unexpected content type " + ct}
	}

	blurred, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Reason: "read response", Err: err}
	}

	blurCfg, _, err := image.DecodeConfig(bytes.NewReader(blurred))
	if err != nil {
		return nil, &Error{Reason: "unreadable blurred image", Err: err}
	}
	if blurCfg.Width != srcCfg.Width || blurCfg.Height != srcCfg.Height {
		return nil, &Error{Reason: fmt.Sprintf("dimension mismatch: %dx%d became %dx%d",
			srcCfg.Width, srcCfg.Height, blurCfg.Width, blurCfg.Height)}
	}

	return exifmeta.SpliceEXIF(blurred, jpegData), nil
}

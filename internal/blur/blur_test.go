package blur

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestBlurRoundTrip(t *testing.T) {
	src := jpegBytes(t, 64, 32)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/blur/", r.URL.Path)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, src, body)

		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpegBytes(t, 64, 32))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	out, err := c.Blur(context.Background(), src)
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 32, cfg.Height)
}

func TestBlurDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpegBytes(t, 32, 32))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Blur(context.Background(), jpegBytes(t, 64, 32))

	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Contains(t, berr.Reason, "dimension mismatch")
}

func TestBlurServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Blur(context.Background(), jpegBytes(t, 16, 16))

	var berr *Error
	require.ErrorAs(t, err, &berr)
}

func TestDisabled(t *testing.T) {
	assert.Nil(t, New("", time.Second))
}

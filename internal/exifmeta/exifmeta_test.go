package exifmeta

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/streetpano/internal/models"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

// app1 builds a raw APP1 segment with the given payload.
func app1(payload []byte) []byte {
	seg := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return append(seg, payload...)
}

// withSegments inserts raw segments right after the SOI marker.
func withSegments(jpegData []byte, segs ...[]byte) []byte {
	out := append([]byte{}, jpegData[:2]...)
	for _, s := range segs {
		out = append(out, s...)
	}
	return append(out, jpegData[2:]...)
}

func TestExtractNoExifIsFatal(t *testing.T) {
	_, err := Extract(encodeJPEG(t, 10, 10), false)

	var merr *Error
	require.ErrorAs(t, err, &merr)
}

func TestExtractRejectsGarbage(t *testing.T) {
	_, err := Extract([]byte("not a jpeg"), false)

	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "unreadable image", merr.Reason)
}

func TestXMPPacket(t *testing.T) {
	xml := []byte(`<x:xmpmeta><rdf:Description GPano:ProjectionType="equirectangular" GPano:FullPanoWidthPixels="5760" GPano:FullPanoHeightPixels="2880"/></x:xmpmeta>`)
	data := withSegments(encodeJPEG(t, 16, 8), app1(append(append([]byte{}, xmpHeader...), xml...)))

	g := parseGPano(data)
	assert.Equal(t, "equirectangular", g.ProjectionType)
}

func TestGPanoElementForm(t *testing.T) {
	xml := []byte(`<rdf:Description><GPano:ProjectionType>equirectangular</GPano:ProjectionType><GPano:FullPanoWidthPixels>4096</GPano:FullPanoWidthPixels></rdf:Description>`)
	data := withSegments(encodeJPEG(t, 16, 8), app1(append(append([]byte{}, xmpHeader...), xml...)))

	g := parseGPano(data)
	assert.Equal(t, "equirectangular", g.ProjectionType)
}

func TestClassifyProjection(t *testing.T) {
	xml := []byte(`<rdf:Description GPano:ProjectionType="equirectangular"/>`)
	pano := withSegments(encodeJPEG(t, 200, 100), app1(append(append([]byte{}, xmpHeader...), xml...)))
	flat := withSegments(encodeJPEG(t, 200, 150), app1(append(append([]byte{}, xmpHeader...), xml...)))

	var warnings []string
	assert.Equal(t, models.ProjectionEquirectangular, classifyProjection(pano, 200, 100, &warnings))
	assert.Empty(t, warnings)

	// projection tag present but wrong aspect
	assert.Equal(t, models.ProjectionFlat, classifyProjection(flat, 200, 150, &warnings))
	assert.Len(t, warnings, 1)

	// no tag at all
	assert.Equal(t, models.ProjectionFlat, classifyProjection(encodeJPEG(t, 200, 100), 200, 100, &warnings))
	assert.Len(t, warnings, 1)
}

func TestSpliceEXIF(t *testing.T) {
	exifPayload := append(append([]byte{}, exifHeader...), []byte("IIfaketiff")...)
	src := withSegments(encodeJPEG(t, 8, 8), app1(exifPayload))
	dst := encodeJPEG(t, 4, 4)

	out := SpliceEXIF(dst, src)
	require.NotEqual(t, dst, out)
	assert.Equal(t, app1(exifPayload), exifSegment(out))

	// the image stream itself is untouched
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Width)

	// splicing again replaces rather than duplicates
	again := SpliceEXIF(out, src)
	assert.Equal(t, len(out), len(again))
}

func TestSpliceEXIFNoSource(t *testing.T) {
	dst := encodeJPEG(t, 4, 4)
	assert.Equal(t, dst, SpliceEXIF(dst, encodeJPEG(t, 8, 8)))
}

func TestFieldOfView(t *testing.T) {
	assert.Equal(t, 67, FieldOfView(6.16, 4.65))
	assert.Equal(t, 40, FieldOfView(36, 50))
	assert.Equal(t, 84, FieldOfView(36, 20))
}

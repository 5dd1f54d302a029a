package derivates

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

const webpQuality = 90

// ToWebP transcodes JPEG bytes to WebP. Used by the read API when a client
// asks for the .webp variant of a derivate; the result is cached next to
// the JPEG.
func ToWebP(jpegData []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}

	opts, err := encoder.NewLossyEncoderOptions(encoder.PresetPhoto, webpQuality)
	if err != nil {
		return nil, fmt.Errorf("webp encoder options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

// Package derivates produces the fixed artefact family of a picture: a
// 500px thumbnail, a 2048px standard-definition copy and, for
// equirectangular pictures, a tile pyramid for the panorama viewer.
package derivates

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"

	"github.com/your-org/streetpano/internal/exifmeta"
	"github.com/your-org/streetpano/internal/models"
	"github.com/your-org/streetpano/internal/objstore"
)

// JPEG qualities are fixed so regenerating a derivate is byte-identical.
const (
	thumbQuality = 75
	sdQuality    = 75
	tileQuality  = 95
)

// Options selects which artefacts to produce. The zero value produces all
// of them.
type Options struct {
	SkipThumbnail bool
	SkipSD        bool
	SkipTiles     bool
}

// Generate writes the selected derivates of a picture into dir. On any
// failure the partially written directory is purged so a retry starts
// clean.
func Generate(ctx context.Context, fs objstore.ObjectStore, src []byte, img image.Image, sizing models.Sizing, dir string, projection models.Projection, opts Options) error {
	if err := generate(ctx, fs, src, img, sizing, dir, projection, opts); err != nil {
		_ = fs.DeleteTree(ctx, dir)
		return err
	}
	return nil
}

func generate(ctx context.Context, fs objstore.ObjectStore, src []byte, img image.Image, sizing models.Sizing, dir string, projection models.Projection, opts Options) error {
	if !opts.SkipThumbnail {
		data, err := Thumbnail(img, projection)
		if err != nil {
			return err
		}
		if err := fs.Write(ctx, dir+"/thumb.jpg", data); err != nil {
			return fmt.Errorf("write thumbnail: %w", err)
		}
	}

	if !opts.SkipSD {
		data, err := SD(img, src)
		if err != nil {
			return err
		}
		if err := fs.Write(ctx, dir+"/sd.jpg", data); err != nil {
			return fmt.Errorf("write sd: %w", err)
		}
	}

	if !opts.SkipTiles && projection == models.ProjectionEquirectangular {
		for col := 0; col < sizing.Cols; col++ {
			for row := 0; row < sizing.Rows; row++ {
				data, err := Tile(img, sizing, col, row)
				if err != nil {
					return err
				}
				path := fmt.Sprintf("%s/tiles/%d_%d.jpg", dir, col, row)
				if err := fs.Write(ctx, path, data); err != nil {
					return fmt.Errorf("write tile %d_%d: %w", col, row, err)
				}
			}
		}
	}

	return nil
}

// Thumbnail renders the 500px preview. Equirectangular pictures are shrunk
// to 2000x1000 and center-cropped to 500x300 so the preview shows the
// middle of the panorama; flat pictures keep their aspect.
func Thumbnail(img image.Image, projection models.Projection) ([]byte, error) {
	var thumb image.Image
	if projection == models.ProjectionEquirectangular {
		thumb = imaging.CropCenter(imaging.Resize(img, 2000, 1000, imaging.Hamming), 500, 300)
	} else {
		thumb = imaging.Resize(img, 500, 0, imaging.Hamming)
	}
	return encodeJPEG(thumb, thumbQuality)
}

// SD renders the 2048px wide standard-definition copy, keeping the EXIF of
// the source bytes.
func SD(img image.Image, src []byte) ([]byte, error) {
	sd := imaging.Resize(img, 2048, 0, imaging.Hamming)
	data, err := encodeJPEG(sd, sdQuality)
	if err != nil {
		return nil, err
	}
	return exifmeta.SpliceEXIF(data, src), nil
}

// Tile renders the (col,row) tile: an exact crop of the source, no
// resampling, so tiles stitch back into the original pixel for pixel.
func Tile(img image.Image, sizing models.Sizing, col, row int) ([]byte, error) {
	colWidth := sizing.Width / sizing.Cols
	rowHeight := sizing.Height / sizing.Rows
	rect := image.Rect(colWidth*col, rowHeight*row, colWidth*(col+1), rowHeight*(row+1))
	return encodeJPEG(imaging.Crop(img, rect), tileQuality)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

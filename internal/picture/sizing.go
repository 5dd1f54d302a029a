package picture

import (
	"image"

	"github.com/your-org/streetpano/internal/models"
)

// tileCols are the only column counts the tile viewer accepts.
var tileCols = []int{4, 8, 16, 32, 64}

// TileGrid computes the tile split for an equirectangular image so that
// each tile edge lands around 512px. Rows is always half of cols.
func TileGrid(width int) (cols, rows int) {
	ideal := (width / 512) / 2 * 2
	if ideal > 64 {
		ideal = 64
	}
	if ideal < 4 {
		ideal = 4
	}
	cols = tileCols[0]
	for _, c := range tileCols {
		if ideal >= c {
			cols = c
		}
	}
	return cols, cols / 2
}

// SizingOf returns the dimensions of an image and, for equirectangular
// pictures, its tile grid.
func SizingOf(img image.Image, projection models.Projection) models.Sizing {
	b := img.Bounds()
	s := models.Sizing{Width: b.Dx(), Height: b.Dy()}
	if projection == models.ProjectionEquirectangular {
		s.Cols, s.Rows = TileGrid(s.Width)
	}
	return s
}

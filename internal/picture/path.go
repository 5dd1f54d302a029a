// Package picture holds the path scheme and sizing rules shared by the
// ingestion worker, the read API and the cleanup tool.
package picture

import (
	"fmt"

	"github.com/google/uuid"
)

// HDPath maps a picture ID to the path of its original JPEG. The canonical
// UUID text form is split on its first four hex byte pairs; the character at
// position 8 is the UUID dash and is skipped. This layout is shared with
// older deployments and must not change.
func HDPath(id uuid.UUID) string {
	return DirPath(id) + ".jpg"
}

// DirPath maps a picture ID to the directory holding its derivates.
func DirPath(id uuid.UUID) string {
	h := id.String()
	return fmt.Sprintf("/%s/%s/%s/%s/%s", h[0:2], h[2:4], h[4:6], h[6:8], h[9:])
}

// HDWebPPath is the cached WebP transcode of the original. It sits in the
// derivates namespace but beside the derivates directory, not inside it,
// so tree deletes of DirPath do not cover it.
func HDWebPPath(id uuid.UUID) string {
	return DirPath(id) + ".webp"
}

func ThumbPath(id uuid.UUID) string {
	return DirPath(id) + "/thumb.jpg"
}

func SDPath(id uuid.UUID) string {
	return DirPath(id) + "/sd.jpg"
}

func TilesDir(id uuid.UUID) string {
	return DirPath(id) + "/tiles"
}

func TilePath(id uuid.UUID, col, row int) string {
	return fmt.Sprintf("%s/tiles/%d_%d.jpg", DirPath(id), col, row)
}

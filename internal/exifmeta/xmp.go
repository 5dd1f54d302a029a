package exifmeta

import (
	"regexp"
)

// The GPano XMP properties can appear either as XML attributes or as child
// elements depending on the stitcher, so both spellings are matched.
var (
	reProjectionAttr = regexp.MustCompile(`GPano:ProjectionType\s*=\s*["']([^"']+)["']`)
	reProjectionElem = regexp.MustCompile(`<GPano:ProjectionType>([^<]+)</GPano:ProjectionType>`)
)

// gpano is the subset of the Google Photo Sphere XMP schema the pipeline
// cares about.
type gpano struct {
	ProjectionType string
}

func parseGPano(jpeg []byte) gpano {
	var g gpano
	packet := xmpPacket(jpeg)
	if packet == nil {
		return g
	}

	if m := reProjectionAttr.FindSubmatch(packet); m != nil {
		g.ProjectionType = string(m[1])
	} else if m := reProjectionElem.FindSubmatch(packet); m != nil {
		g.ProjectionType = string(m[1])
	}
	return g
}

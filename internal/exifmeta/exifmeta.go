// Package exifmeta extracts the geo and camera metadata the pipeline needs
// from uploaded JPEGs: GPS position, capture timestamp, heading, projection
// type and camera identification. Missing non-essential tags produce
// warnings, never errors; a missing position or timestamp is fatal for the
// picture.
package exifmeta

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/your-org/streetpano/internal/models"
)

// Error is the fatal extraction error: the picture cannot be published
// without a position and a timestamp.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metadata: %s: %v", e.Reason, e.Err)
	}
	return "metadata: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the metadata extracted from one picture.
type Result struct {
	CapturedAt  time.Time
	Lon         float64
	Lat         float64
	Heading     *int
	Projection  models.Projection
	Width       int
	Height      int
	Make        string
	Model       string
	FocalLength float64
	Warnings    []string
	Exif        map[string]string
}

const exifTimeLayout = "2006:01:02 15:04:05"

// Extract parses EXIF and XMP metadata from JPEG bytes. When keepFullExif
// is set the whole raw EXIF tag set is retained as strings.
func Extract(data []byte, keepFullExif bool) (*Result, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Reason: "unreadable image", Err: err}
	}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Reason: "no EXIF data", Err: err}
	}

	res := &Result{Width: cfg.Width, Height: cfg.Height}

	lat, lon, err := x.LatLong()
	if err != nil {
		return nil, &Error{Reason: "no GPS position", Err: err}
	}
	res.Lat, res.Lon = lat, lon

	ts, warn, err := captureTime(x)
	if err != nil {
		return nil, err
	}
	if warn != "" {
		res.Warnings = append(res.Warnings, warn)
	}
	res.CapturedAt = ts

	if h, ok := ratTag(x, exif.GPSImgDirection); ok {
		d := int(math.Floor(h)) % 360
		if d < 0 {
			d += 360
		}
		res.Heading = &d
	} else {
		res.Warnings = append(res.Warnings, "no GPSImgDirection tag, heading will be computed from the sequence path")
	}

	res.Make = stringTag(x, exif.Make)
	res.Model = stringTag(x, exif.Model)
	if res.Make == "" || res.Model == "" {
		res.Warnings = append(res.Warnings, "camera make or model missing")
	}
	if f, ok := ratTag(x, exif.FocalLength); ok {
		res.FocalLength = f
	} else {
		res.Warnings = append(res.Warnings, "no FocalLength tag")
	}

	res.Projection = classifyProjection(data, cfg.Width, cfg.Height, &res.Warnings)

	if keepFullExif {
		res.Exif = rawExif(x)
	}

	return res, nil
}

// FieldOfView computes the horizontal field of view in integer degrees from
// sensor width and focal length, both in millimetres.
func FieldOfView(sensorWidth, focalLength float64) int {
	return int(math.Round(2 * math.Atan(sensorWidth/(2*focalLength)) * 180 / math.Pi))
}

// classifyProjection decides between equirectangular and flat: the XMP
// projection tag must be present and the image close to the 2:1 panoramic
// aspect.
func classifyProjection(data []byte, width, height int, warnings *[]string) models.Projection {
	g := parseGPano(data)
	if g.ProjectionType == "" {
		return models.ProjectionFlat
	}
	if !strings.EqualFold(g.ProjectionType, "equirectangular") {
		*warnings = append(*warnings, "unsupported projection type "+g.ProjectionType+", treating as flat")
		return models.ProjectionFlat
	}
	if !ratioIsPanoramic(width, height) {
		*warnings = append(*warnings, "projection tag is equirectangular but aspect ratio is not 2:1, treating as flat")
		return models.ProjectionFlat
	}
	return models.ProjectionEquirectangular
}

func ratioIsPanoramic(width, height int) bool {
	if height == 0 {
		return false
	}
	ratio := float64(width) / float64(height)
	return math.Abs(ratio-2.0) < 0.02
}

func captureTime(x *exif.Exif) (time.Time, string, error) {
	var raw string
	warn := ""
	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized, exif.DateTime} {
		if s := stringTag(x, field); s != "" {
			raw = s
			if field != exif.DateTimeOriginal {
				warn = "no DateTimeOriginal tag, using " + string(field)
			}
			break
		}
	}
	if raw == "" {
		return time.Time{}, "", &Error{Reason: "no capture timestamp"}
	}

	// EXIF carries no timezone before 2.31 tags, which almost no street
	// camera writes. Interpret as UTC and say so.
	ts, err := time.Parse(exifTimeLayout, raw)
	if err != nil {
		return time.Time{}, "", &Error{Reason: "malformed capture timestamp " + raw, Err: err}
	}
	if warn == "" {
		warn = "no timezone information, assuming UTC"
	}

	if sub := stringTag(x, exif.SubSecTimeOriginal); sub != "" {
		if frac, err := strconv.ParseFloat("0."+sub, 64); err == nil {
			ts = ts.Add(time.Duration(frac * float64(time.Second)))
		}
	}

	return ts, warn, nil
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimRight(s, "\x00 ")
}

func ratTag(x *exif.Exif, name exif.FieldName) (float64, bool) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, false
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return 0, false
	}
	return float64(num) / float64(den), true
}

type exifWalker struct {
	out map[string]string
}

func (w *exifWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	w.out[string(name)] = strings.ReplaceAll(tag.String(), "\x00", "")
	return nil
}

func rawExif(x *exif.Exif) map[string]string {
	w := &exifWalker{out: make(map[string]string)}
	_ = x.Walk(w)
	return w.out
}

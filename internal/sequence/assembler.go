// Package sequence reassembles a sequence every time one of its pictures
// finishes processing: ranks in capture order, missing headings derived
// from the direction of travel, and the sequence geometry as a polyline
// of picture positions.
package sequence

import (
	"math"

	"github.com/your-org/streetpano/internal/models"
)

// DefaultMinSpacing is the distance in metres below which two consecutive
// pictures are too close for a reliable travel bearing.
const DefaultMinSpacing = 10.0

const earthRadiusM = 6371000.0

// Assemble takes a sequence's processed pictures in capture order and
// fills in ranks, computed headings and the sequence geometry. Headings
// set by the camera or the author are left alone; only missing or
// previously computed ones are (re)derived. The input slice is mutated
// and returned.
func Assemble(pics []models.Picture, minSpacing float64) ([]models.Picture, models.LineString) {
	if minSpacing <= 0 {
		minSpacing = DefaultMinSpacing
	}

	geom := make(models.LineString, 0, len(pics))
	for i := range pics {
		rank := i + 1
		pics[i].Rank = &rank
		geom = append(geom, [2]float64{*pics[i].Lon, *pics[i].Lat})
	}

	var prev *int
	for i := range pics {
		// A stored heading of 0 counts as unset: cameras that do not
		// track direction write a literal zero rather than omitting
		// the tag.
		if pics[i].Heading != nil && *pics[i].Heading != 0 && !pics[i].HeadingComputed {
			prev = pics[i].Heading
			continue
		}

		h := travelBearing(pics, i, minSpacing, prev)
		if h == nil {
			continue
		}
		pics[i].Heading = h
		pics[i].HeadingComputed = true
		prev = h
	}

	return pics, geom
}

// travelBearing derives a heading from the position of the next picture.
// When the next picture is closer than minSpacing the fix is too noisy,
// so the previous heading carries over; the last picture always reuses
// the previous one. A single-picture sequence has no bearing at all.
func travelBearing(pics []models.Picture, i int, minSpacing float64, prev *int) *int {
	if i+1 >= len(pics) {
		return prev
	}

	a, b := pics[i], pics[i+1]
	if distanceM(*a.Lat, *a.Lon, *b.Lat, *b.Lon) < minSpacing && prev != nil {
		return prev
	}

	h := int(math.Round(azimuth(*a.Lat, *a.Lon, *b.Lat, *b.Lon)))
	h = ((h % 360) + 360) % 360
	return &h
}

// azimuth returns the forward azimuth in degrees from point 1 to point 2.
func azimuth(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	Δλ := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(Δλ) * math.Cos(φ2)
	x := math.Cos(φ1)*math.Sin(φ2) - math.Sin(φ1)*math.Cos(φ2)*math.Cos(Δλ)
	θ := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(θ+360, 360)
}

// distanceM returns the haversine distance in metres.
func distanceM(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	Δφ := (lat2 - lat1) * math.Pi / 180
	Δλ := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(Δφ/2)*math.Sin(Δφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

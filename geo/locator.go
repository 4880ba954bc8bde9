package geo

import (
	"fmt"
	"math"
)

// DegMin renders p as "<deg> <min> N|S <deg> <min> E|W" rounded to whole
// minutes, the form cluster location commands expect.
func DegMin(p LatLong) string {
	latDeg, latMin, ns := splitDegMin(p.Lat, 'N', 'S')
	lonDeg, lonMin, ew := splitDegMin(p.Lon, 'E', 'W')
	return fmt.Sprintf("%d %d %c %d %d %c", latDeg, latMin, ns, lonDeg, lonMin, ew)
}

func splitDegMin(v float64, pos, neg byte) (int, int, byte) {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	total := int(math.Round(v * 60))
	return total / 60, total % 60, hemi
}

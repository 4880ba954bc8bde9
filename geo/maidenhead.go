// Package geo converts between Maidenhead grid locators and latitude/longitude
// and solves the spherical destination problem used when a cluster reports a
// heading and distance instead of a locator.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	fieldLonSize    = 20.0
	fieldLatSize    = 10.0
	squareLonSize   = 2.0
	squareLatSize   = 1.0
	subLonSize      = squareLonSize / 24.0
	subLatSize      = squareLatSize / 24.0
	subCenterLon    = subLonSize / 2.0
	subCenterLat    = subLatSize / 2.0
	squareCenterLon = squareLonSize / 2.0
	squareCenterLat = squareLatSize / 2.0
)

// ErrBadGrid reports a locator that is not a valid 4 or 6 character Maidenhead grid.
var ErrBadGrid = errors.New("geo: invalid grid locator")

// LatLong is a position in degrees, north and east positive.
type LatLong struct {
	Lat float64
	Lon float64
}

// IsZero reports whether p is the unresolved (0,0) sentinel.
func (p LatLong) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

func (p LatLong) String() string {
	return fmt.Sprintf("%.3f,%.3f", p.Lat, p.Lon)
}

// GridToLatLong returns the center of a 4 or 6 character Maidenhead grid.
func GridToLatLong(grid string) (LatLong, error) {
	g := strings.ToUpper(strings.TrimSpace(grid))
	if len(g) != 4 && len(g) != 6 {
		return LatLong{}, fmt.Errorf("%w: %q", ErrBadGrid, grid)
	}
	a, b := g[0], g[1]
	if a < 'A' || a > 'R' || b < 'A' || b > 'R' {
		return LatLong{}, fmt.Errorf("%w: %q", ErrBadGrid, grid)
	}
	d0, d1 := g[2], g[3]
	if d0 < '0' || d0 > '9' || d1 < '0' || d1 > '9' {
		return LatLong{}, fmt.Errorf("%w: %q", ErrBadGrid, grid)
	}
	lon := -180.0 + float64(a-'A')*fieldLonSize + float64(d0-'0')*squareLonSize
	lat := -90.0 + float64(b-'A')*fieldLatSize + float64(d1-'0')*squareLatSize
	if len(g) == 6 {
		s0, s1 := g[4], g[5]
		if s0 < 'A' || s0 > 'X' || s1 < 'A' || s1 > 'X' {
			return LatLong{}, fmt.Errorf("%w: %q", ErrBadGrid, grid)
		}
		lon += float64(s0-'A')*subLonSize + subCenterLon
		lat += float64(s1-'A')*subLatSize + subCenterLat
		return LatLong{Lat: lat, Lon: lon}, nil
	}
	return LatLong{Lat: lat + squareCenterLat, Lon: lon + squareCenterLon}, nil
}

// LatLongToGrid returns the 4 character grid square containing p.
func LatLongToGrid(p LatLong) string {
	lon := math.Mod(p.Lon+180.0, 360.0)
	if lon < 0 {
		lon += 360.0
	}
	lat := p.Lat + 90.0
	// The north pole belongs to the top row.
	lat = math.Max(0, math.Min(lat, 180.0-1e-9))

	fieldLon := int(lon / fieldLonSize)
	fieldLat := int(lat / fieldLatSize)
	squareLon := int(math.Mod(lon, fieldLonSize) / squareLonSize)
	squareLat := int(math.Mod(lat, fieldLatSize) / squareLatSize)

	return string([]byte{
		byte('A' + fieldLon),
		byte('A' + fieldLat),
		byte('0' + squareLon),
		byte('0' + squareLat),
	})
}

// ValidGrid reports whether grid parses as a 4 or 6 character locator.
func ValidGrid(grid string) bool {
	_, err := GridToLatLong(grid)
	return err == nil
}

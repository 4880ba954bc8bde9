package geo

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// EarthRadiusMiles is the mean earth radius used for heading/distance solving.
const EarthRadiusMiles = 3959.0

func (p LatLong) latLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lon)
}

func fromLatLng(ll s2.LatLng) LatLong {
	ll = ll.Normalized()
	return LatLong{Lat: ll.Lat.Degrees(), Lon: ll.Lng.Degrees()}
}

// Destination returns the point reached by travelling distanceMi along the
// great circle leaving ref at headingDeg (degrees east of true north).
func Destination(ref LatLong, headingDeg, distanceMi float64) LatLong {
	start := ref.latLng()
	lat1 := start.Lat.Radians()
	lon1 := start.Lng.Radians()
	az := (s1.Angle(headingDeg) * s1.Degree).Radians()
	d := distanceMi / EarthRadiusMiles

	sinLat2 := math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(az)
	sinLat2 = math.Max(-1, math.Min(1, sinLat2))
	lat2 := math.Asin(sinLat2)
	lon2 := lon1 + math.Atan2(
		math.Sin(az)*math.Sin(d)*math.Cos(lat1),
		math.Cos(d)-math.Sin(lat1)*sinLat2,
	)
	return fromLatLng(s2.LatLng{Lat: s1.Angle(lat2), Lng: s1.Angle(lon2)})
}

// DistanceMiles returns the great-circle distance between a and b.
func DistanceMiles(a, b LatLong) float64 {
	return a.latLng().Distance(b.latLng()).Radians() * EarthRadiusMiles
}

// Resolver adapts the package functions to the ingest engine's resolver contract.
type Resolver struct{}

func (Resolver) GridToLatLong(grid string) (LatLong, error) { return GridToLatLong(grid) }

func (Resolver) LatLongToGrid(p LatLong) string { return LatLongToGrid(p) }

func (Resolver) Destination(ref LatLong, headingDeg, distanceMi float64) LatLong {
	return Destination(ref, headingDeg, distanceMi)
}

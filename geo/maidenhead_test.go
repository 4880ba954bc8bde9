package geo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestGridToLatLongCenters(t *testing.T) {
	cases := []struct {
		grid string
		lat  float64
		lon  float64
	}{
		{"JN75", 45.5, 15.0},
		{"FN42", 42.5, -71.0},
		{"el98", 28.5, -81.0},
		{"AA00", -89.5, -179.0},
		{"RR99", 89.5, 179.0},
		{"JN75DX", 45.0 + 23.0/24.0 + 1.0/48.0, 14.0 + 3.0/12.0 + 1.0/24.0},
	}
	for _, tc := range cases {
		pos, err := GridToLatLong(tc.grid)
		require.NoError(t, err, tc.grid)
		require.InDelta(t, tc.lat, pos.Lat, 1e-9, tc.grid)
		require.InDelta(t, tc.lon, pos.Lon, 1e-9, tc.grid)
	}
}

func TestGridToLatLongRejectsMalformed(t *testing.T) {
	for _, grid := range []string{"", "J", "JN7", "JN75D", "SN75", "JNA5", "JN75ZZ", "JN75DX00"} {
		_, err := GridToLatLong(grid)
		require.Error(t, err, grid)
		require.True(t, errors.Is(err, ErrBadGrid), grid)
	}
}

func TestLatLongToGridEdges(t *testing.T) {
	require.Equal(t, "JJ00", LatLongToGrid(LatLong{}))
	require.Equal(t, "RR99", LatLongToGrid(LatLong{Lat: 90, Lon: 179.999}))
	require.Equal(t, "AA00", LatLongToGrid(LatLong{Lat: -90, Lon: -180}))
	// 180E wraps onto the antimeridian's western side.
	require.Equal(t, "AJ00", LatLongToGrid(LatLong{Lat: 0.1, Lon: 180}))
	require.Equal(t, "EL98", LatLongToGrid(LatLong{Lat: 28.3, Lon: -80.6}))
}

func TestGridRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		grid := string([]byte{
			byte('A' + rapid.IntRange(0, 17).Draw(t, "fieldLon")),
			byte('A' + rapid.IntRange(0, 17).Draw(t, "fieldLat")),
			byte('0' + rapid.IntRange(0, 9).Draw(t, "squareLon")),
			byte('0' + rapid.IntRange(0, 9).Draw(t, "squareLat")),
		})
		pos, err := GridToLatLong(grid)
		if err != nil {
			t.Fatalf("grid %s: %v", grid, err)
		}
		if got := LatLongToGrid(pos); got != grid {
			t.Fatalf("round trip %s -> %v -> %s", grid, pos, got)
		}
	})
}

func TestDegMin(t *testing.T) {
	require.Equal(t, "37 30 N 122 15 W", DegMin(LatLong{Lat: 37.5, Lon: -122.25}))
	require.Equal(t, "33 52 S 151 13 E", DegMin(LatLong{Lat: -33.8688, Lon: 151.2093}))
	// 59.999 minutes rounds up into the next degree.
	require.Equal(t, "11 0 N 0 0 E", DegMin(LatLong{Lat: 10.99999, Lon: 0}))
}

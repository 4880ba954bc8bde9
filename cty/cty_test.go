package cty

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dxfeed/spot"
)

const samplePlist = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
<key>K1ABC</key>
	<dict>
		<key>Country</key><string>United States</string>
		<key>Prefix</key><string>K1ABC</string>
		<key>ExactCallsign</key><true/>
	</dict>
<key>K</key>
	<dict>
		<key>Country</key><string>United States</string>
		<key>Prefix</key><string>K</string>
		<key>ExactCallsign</key><false/>
	</dict>
<key>W6</key>
	<dict>
		<key>Country</key><string>United States</string>
		<key>Prefix</key><string>W6</string>
		<key>ExactCallsign</key><false/>
	</dict>
<key>JA</key>
	<dict>
		<key>Country</key><string>Japan</string>
		<key>Prefix</key><string>JA</string>
		<key>ExactCallsign</key><false/>
	</dict>
<key>JR</key>
	<dict>
		<key>Country</key><string>Japan</string>
		<key>Prefix</key><string>JA</string>
		<key>ExactCallsign</key><false/>
	</dict>
<key>UT</key>
	<dict>
		<key>Country</key><string>Ukraine</string>
		<key>Prefix</key><string>UR</string>
		<key>ExactCallsign</key><false/>
	</dict>
<key>FO/</key>
	<dict>
		<key>Country</key><string>Clipperton</string>
		<key>Prefix</key><string>FO/</string>
		<key>ExactCallsign</key><false/>
	</dict>
</dict>
</plist>`

func loadSample(t *testing.T) *DB {
	t.Helper()
	db, err := Decode(strings.NewReader(samplePlist), 8)
	require.NoError(t, err, "load sample database")
	return db
}

func TestLookupLongestPrefix(t *testing.T) {
	db := loadSample(t)
	e, ok := db.Lookup("JR1FYS")
	require.True(t, ok)
	assert.Equal(t, "Japan", e.Country)
	e, ok = db.Lookup("ut7lw")
	require.True(t, ok)
	assert.Equal(t, "UR", e.Prefix)
}

func TestLookupExactCallsign(t *testing.T) {
	db := loadSample(t)
	e, ok := db.Lookup("K1ABC")
	require.True(t, ok)
	assert.True(t, e.ExactCallsign)
	e, ok = db.Lookup("K1ABD")
	require.True(t, ok)
	assert.Equal(t, "K", e.Prefix, "K1ABD falls back to K")
}

func TestLookupPortablePrefersShortestSegment(t *testing.T) {
	db := loadSample(t)
	for _, call := range []string{"K1ABC/W6", "W6/K1ABC"} {
		e, ok := db.Lookup(call)
		require.True(t, ok, call)
		assert.Equal(t, "W6", e.Prefix, call)
	}
	e, ok := db.Lookup("JR1FYS/P")
	require.True(t, ok)
	assert.Equal(t, "Japan", e.Country, "portable suffix is ignored")
}

func TestLookupSlashKey(t *testing.T) {
	db := loadSample(t)
	e, ok := db.Lookup("FO/F6ABC")
	require.True(t, ok)
	assert.Equal(t, "Clipperton", e.Country)
}

func TestLookupCachesMisses(t *testing.T) {
	db := loadSample(t)
	_, ok := db.Lookup("ZZ9ZZA")
	assert.False(t, ok)
	_, ok = db.Lookup("ZZ9ZZA")
	assert.False(t, ok, "cached miss stays a miss")
	st := db.Stats()
	assert.EqualValues(t, 2, st.Lookups)
	assert.EqualValues(t, 1, st.CacheHits)
	assert.EqualValues(t, 7, st.Entries)
}

func TestEnrich(t *testing.T) {
	db := loadSample(t)
	s := spot.NewSpot("UT7LW", 7010, 1200, spot.SourceCluster)
	db.Enrich(s)
	assert.Equal(t, "Ukraine", s.Country)
	assert.Equal(t, "UR", s.Prefix)

	s = spot.NewSpot("3D2AG", 14000, 1200, spot.SourceCluster)
	db.Enrich(s)
	assert.Empty(t, s.Country)
	assert.Equal(t, "3D2", s.Prefix, "heuristic prefix survives a miss")

	var nilDB *DB
	assert.NotPanics(t, func() { nilDB.Enrich(s) })
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(strings.NewReader("not a plist"), 0)
	assert.Error(t, err)
}

func TestExactEntryDoesNotShadowPrefix(t *testing.T) {
	db := loadSample(t)
	e, ok := db.Lookup("K1ABCD")
	require.True(t, ok)
	assert.Equal(t, "K", e.Prefix)
}

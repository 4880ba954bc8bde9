package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalStation = `station:
  callsign: n0call
  grid: dm79
cluster:
  host: dxc.example.net
`

func writeConfig(t *testing.T, dir, name, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644), "write %s", name)
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "app.yaml", minimalStation)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "N0CALL", cfg.Station.Callsign)
	assert.Equal(t, "DM79", cfg.Station.Grid)
	assert.Equal(t, 120, cfg.Ingest.StaleSeconds)
	assert.Equal(t, 300, cfg.Ingest.KeepaliveSeconds)
	assert.Equal(t, 10, cfg.Ingest.MaxSpots)
	assert.Equal(t, 0.1, cfg.Ingest.DedupToleranceKHz)
	assert.Equal(t, 4, cfg.Ingest.MaxHeadingQueries)
	assert.False(t, cfg.Cluster.AllowARCluster, "allow_arcluster defaults off")
	assert.True(t, cfg.Geocache.Enabled)
	assert.Equal(t, 720, cfg.Geocache.TTLHours)
	assert.Equal(t, UIModeAuto, cfg.UI.Mode)
}

func TestLoadDirectoryMergesFiles(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "app.yaml", minimalStation)
	writeConfig(t, dir, "sinks.yml", "geocache:\n  enabled: false\nmqtt:\n  enabled: true\n  topic: shack/spots\n")
	writeConfig(t, dir, "notes.txt", "not: [yaml")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(dir), filepath.Clean(cfg.LoadedFrom))
	assert.False(t, cfg.Geocache.Enabled, "geocache.enabled from sinks.yml")
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "shack/spots", cfg.MQTT.Topic)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "dxc.example.net", cfg.Cluster.Host)
}

func TestLoadRejectsSingleFilePath(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "app.yaml", minimalStation)
	_, err := Load(filepath.Join(dir, "app.yaml"))
	assert.Error(t, err, "a file path is not a config directory")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"missing callsign": "station:\n  grid: DM79\ncluster:\n  enabled: false\n",
		"bad grid":         "station:\n  callsign: N0CALL\n  grid: ZZ99\ncluster:\n  enabled: false\n",
		"lat without lon":  "station:\n  callsign: N0CALL\n  latitude: 10\ncluster:\n  enabled: false\n",
		"no host":          "station:\n  callsign: N0CALL\n  grid: DM79\n",
		"label style":      minimalStation + "  label_style: country\n",
		"zero keepalive":   minimalStation + "ingest:\n  keepalive_seconds: 0\n",
		"synchronous":      minimalStation + "archive:\n  synchronous: sometimes\n",
		"ui mode":          minimalStation + "ui:\n  mode: web\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, "app.yaml", text)
			_, err := Load(dir)
			assert.Error(t, err)
		})
	}
}

func TestLoadReportsAllProblems(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "app.yaml", "ui:\n  mode: web\n")
	_, err := Load(dir)
	require.Error(t, err)
	for _, want := range []string{"station.callsign", "cluster.host", "ui.mode"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestReferencePosition(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "app.yaml", minimalStation)
	cfg, err := Load(dir)
	require.NoError(t, err)
	p := cfg.ReferencePosition()
	assert.Equal(t, 39.5, p.Lat, "DM79 center")
	assert.Equal(t, -105.0, p.Lon, "DM79 center")

	writeConfig(t, dir, "zz-position.yaml", "station:\n  latitude: 39.74\n  longitude: -104.99\n")
	cfg, err = Load(dir)
	require.NoError(t, err)
	p = cfg.ReferencePosition()
	assert.Equal(t, 39.74, p.Lat)
	assert.Equal(t, -104.99, p.Lon)
}

func TestLiveReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "app.yaml", minimalStation)
	cfg, err := Load(dir)
	require.NoError(t, err)
	live := NewLive(cfg)

	writeConfig(t, dir, "app.yaml", strings.Replace(minimalStation, "dxc.example.net", "other.example.net", 1))
	_, err = live.Reload(dir)
	require.NoError(t, err)
	assert.Equal(t, "other.example.net", live.ClusterHost())

	writeConfig(t, dir, "app.yaml", "station: [broken")
	_, err = live.Reload(dir)
	require.Error(t, err, "bad yaml must not replace the live config")
	assert.Equal(t, "other.example.net", live.ClusterHost())
	assert.Equal(t, "N0CALL", live.OperatorCallsign())
}

func TestRestartRequired(t *testing.T) {
	prev := Default()
	next := Default()
	next.Station.Callsign = "W1AW"
	next.Cluster.Host = "other.example.net"
	next.Cluster.LabelStyle = LabelStylePrefix
	assert.Empty(t, RestartRequired(&prev, &next), "live settings apply without a restart")

	next.Cluster.AllowARCluster = true
	next.Ingest.MaxSpots = 20
	next.MQTT.Topic = "shack/spots"
	assert.Equal(t, []string{"cluster.allow_arcluster", "ingest", "mqtt"}, RestartRequired(&prev, &next))
	assert.Nil(t, RestartRequired(nil, &next))
}

func TestMaxHeadingQueriesValidated(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "app.yaml", minimalStation+"ingest:\n  max_heading_queries_per_poll: 0\n")
	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorContains(t, err, "ingest.max_heading_queries_per_poll")
}

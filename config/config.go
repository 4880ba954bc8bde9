// Package config loads the dxfeed YAML configuration. A config path is a
// directory; every *.yaml/*.yml file in it is merged in lexical order on top
// of the built-in defaults, so an operator can split station, cluster and
// sink settings across files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"dxfeed/geo"

	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable consulted when no --config flag is given.
const EnvPath = "DXF_CONFIG_PATH"

// DefaultPath is used when neither the flag nor EnvPath is set.
const DefaultPath = "data/config"

// Config represents the complete dxfeed configuration
type Config struct {
	Station  StationConfig  `yaml:"station"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Geocache GeocacheConfig `yaml:"geocache"`
	Archive  ArchiveConfig  `yaml:"archive"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	CTY      CTYConfig      `yaml:"cty"`
	Logging  LoggingConfig  `yaml:"logging"`
	UI       UIConfig       `yaml:"ui"`

	// LoadedFrom is the directory the configuration was read from.
	LoadedFrom string `yaml:"-"`
}

// StationConfig describes the operator and the fixed reference point used for
// heading geocoding. Latitude/longitude win over grid when both are given.
type StationConfig struct {
	Callsign  string   `yaml:"callsign"`
	Grid      string   `yaml:"grid"`
	Latitude  *float64 `yaml:"latitude"`
	Longitude *float64 `yaml:"longitude"`
}

// ClusterConfig selects the spot source. Host may name a digital-mode program
// (WSJT-X, WSJTX, JTDX) to listen for UDP Status datagrams instead.
type ClusterConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	AllowARCluster   bool   `yaml:"allow_arcluster"`
	LabelStyle       string `yaml:"label_style"`
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"`
}

// IngestConfig holds the polling and session policy knobs.
type IngestConfig struct {
	PollIntervalMS      int     `yaml:"poll_interval_ms"`
	PollWaitMS          int     `yaml:"poll_wait_ms"`
	LineWaitMS          int     `yaml:"line_wait_ms"`
	StaleSeconds        int     `yaml:"stale_seconds"`
	KeepaliveSeconds    int     `yaml:"keepalive_seconds"`
	MaxLinesPerPoll     int     `yaml:"max_lines_per_poll"`
	MaxDatagramsPerPoll int     `yaml:"max_datagrams_per_poll"`
	MaxLineLength       int     `yaml:"max_line_length"`
	DetectMaxLines      int     `yaml:"detect_max_lines"`
	HeadingMaxLines     int     `yaml:"heading_max_lines"`
	MaxHeadingQueries   int     `yaml:"max_heading_queries_per_poll"`
	MaxSpots            int     `yaml:"max_spots"`
	DedupToleranceKHz   float64 `yaml:"dedup_tolerance_khz"`
}

// GeocacheConfig controls the persistent callsign position cache.
type GeocacheConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	TTLHours      int    `yaml:"ttl_hours"`
	MemoryEntries int    `yaml:"memory_entries"`
}

// ArchiveConfig controls the SQLite spot history.
type ArchiveConfig struct {
	Enabled                bool   `yaml:"enabled"`
	DBPath                 string `yaml:"db_path"`
	QueueSize              int    `yaml:"queue_size"`
	BatchSize              int    `yaml:"batch_size"`
	BatchIntervalMS        int    `yaml:"batch_interval_ms"`
	RetentionDays          int    `yaml:"retention_days"`
	CleanupIntervalSeconds int    `yaml:"cleanup_interval_seconds"`
	BusyTimeoutMS          int    `yaml:"busy_timeout_ms"`
	Synchronous            string `yaml:"synchronous"`
}

// MQTTConfig controls the MQTT spot mirror.
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Broker    string `yaml:"broker"`
	Port      int    `yaml:"port"`
	Topic     string `yaml:"topic"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	QueueSize int    `yaml:"queue_size"`
}

// MetricsConfig controls the Prometheus endpoint and the periodic summary line.
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Listen         string `yaml:"listen"`
	SummarySeconds int    `yaml:"summary_seconds"`
}

// CTYConfig points at the CTY plist used for prefixes and country names.
type CTYConfig struct {
	Enabled      bool   `yaml:"enabled"`
	File         string `yaml:"file"`
	CacheEntries int    `yaml:"cache_entries"`
	// URL, when set, is fetched at startup and every RefreshHours.
	URL          string `yaml:"url"`
	RefreshHours int    `yaml:"refresh_hours"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// UIConfig picks the renderer: "console" (tview), "headless" (log only) or
// "auto" (console when stdout is a terminal).
type UIConfig struct {
	Mode string `yaml:"mode"`
}

const (
	LabelStyleCall   = "call"
	LabelStylePrefix = "prefix"

	UIModeAuto     = "auto"
	UIModeConsole  = "console"
	UIModeHeadless = "headless"
)

// Default returns the configuration used for every key a file omits.
func Default() Config {
	return Config{
		Cluster: ClusterConfig{
			Enabled:          true,
			Port:             7300,
			LabelStyle:       LabelStyleCall,
			ConnectTimeoutMS: 3000,
		},
		Ingest: IngestConfig{
			PollIntervalMS:      1000,
			PollWaitMS:          50,
			LineWaitMS:          1500,
			StaleSeconds:        120,
			KeepaliveSeconds:    300,
			MaxLinesPerPoll:     64,
			MaxDatagramsPerPoll: 32,
			MaxLineLength:       256,
			DetectMaxLines:      20,
			HeadingMaxLines:     8,
			MaxHeadingQueries:   4,
			MaxSpots:            10,
			DedupToleranceKHz:   0.1,
		},
		Geocache: GeocacheConfig{
			Enabled:       true,
			Path:          "data/geocache",
			TTLHours:      30 * 24,
			MemoryEntries: 512,
		},
		Archive: ArchiveConfig{
			DBPath:                 "data/archive/spots.db",
			QueueSize:              1000,
			BatchSize:              100,
			BatchIntervalMS:        500,
			RetentionDays:          30,
			CleanupIntervalSeconds: 3600,
			BusyTimeoutMS:          1000,
			Synchronous:            "normal",
		},
		MQTT: MQTTConfig{
			Broker:    "localhost",
			Port:      1883,
			Topic:     "dxfeed/spots",
			ClientID:  "dxfeed",
			QueueSize: 256,
		},
		Metrics: MetricsConfig{
			Listen:         ":9108",
			SummarySeconds: 300,
		},
		CTY: CTYConfig{
			File:         "data/cty/cty.plist",
			CacheEntries: 1024,
			RefreshHours: 24,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Dir:        "data/logs",
			File:       "dxfeed.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		UI: UIConfig{Mode: UIModeAuto},
	}
}

// Purpose: Load and validate the configuration directory.
// Key aspects: Files merge in lexical order over Default(); a single file path is rejected.
// Upstream: main loadConfig, Live.Reload.
// Downstream: yaml.Unmarshal, normalize, Validate.
// Load reads every YAML file in dir on top of Default and validates the result.
func Load(dir string) (*Config, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config path %s is not a directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	cfg := Default()
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filepath.Base(path), err)
		}
	}
	cfg.LoadedFrom = dir
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Station.Callsign = strings.ToUpper(strings.TrimSpace(c.Station.Callsign))
	c.Station.Grid = strings.ToUpper(strings.TrimSpace(c.Station.Grid))
	c.Cluster.Host = strings.TrimSpace(c.Cluster.Host)
	c.Cluster.LabelStyle = strings.ToLower(strings.TrimSpace(c.Cluster.LabelStyle))
	c.UI.Mode = strings.ToLower(strings.TrimSpace(c.UI.Mode))
	c.Archive.Synchronous = strings.ToLower(strings.TrimSpace(c.Archive.Synchronous))
}

// Purpose: Reject configurations the engine cannot run with.
// Key aspects: Collects every problem and returns them joined.
// Upstream: Load, main --ui override.
// Downstream: None.
// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Station.Callsign == "" {
		errs = append(errs, errors.New("station.callsign is required"))
	}
	if (c.Station.Latitude == nil) != (c.Station.Longitude == nil) {
		errs = append(errs, errors.New("station.latitude and station.longitude must be set together"))
	}
	if c.Station.Latitude != nil && c.Station.Longitude != nil {
		if lat := *c.Station.Latitude; lat < -90 || lat > 90 {
			errs = append(errs, fmt.Errorf("station.latitude %.4f out of range", lat))
		}
		if lon := *c.Station.Longitude; lon < -180 || lon > 180 {
			errs = append(errs, fmt.Errorf("station.longitude %.4f out of range", lon))
		}
	} else if c.Station.Latitude == nil && !geo.ValidGrid(c.Station.Grid) {
		errs = append(errs, fmt.Errorf("station.grid %q is not a valid locator (or set latitude/longitude)", c.Station.Grid))
	}
	if c.Cluster.Enabled && c.Cluster.Host == "" {
		errs = append(errs, errors.New("cluster.host is required when cluster.enabled is true"))
	}
	if c.Cluster.Port <= 0 || c.Cluster.Port > 65535 {
		errs = append(errs, fmt.Errorf("cluster.port %d out of range", c.Cluster.Port))
	}
	switch c.Cluster.LabelStyle {
	case LabelStyleCall, LabelStylePrefix:
	default:
		errs = append(errs, fmt.Errorf("cluster.label_style %q must be %q or %q", c.Cluster.LabelStyle, LabelStyleCall, LabelStylePrefix))
	}
	in := c.Ingest
	for name, v := range map[string]int{
		"ingest.poll_interval_ms":             in.PollIntervalMS,
		"ingest.poll_wait_ms":                 in.PollWaitMS,
		"ingest.line_wait_ms":                 in.LineWaitMS,
		"ingest.stale_seconds":                in.StaleSeconds,
		"ingest.keepalive_seconds":            in.KeepaliveSeconds,
		"ingest.max_lines_per_poll":           in.MaxLinesPerPoll,
		"ingest.max_datagrams_per_poll":       in.MaxDatagramsPerPoll,
		"ingest.max_line_length":              in.MaxLineLength,
		"ingest.detect_max_lines":             in.DetectMaxLines,
		"ingest.heading_max_lines":            in.HeadingMaxLines,
		"ingest.max_heading_queries_per_poll": in.MaxHeadingQueries,
		"ingest.max_spots":                    in.MaxSpots,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %d", name, v))
		}
	}
	if in.DedupToleranceKHz < 0 {
		errs = append(errs, fmt.Errorf("ingest.dedup_tolerance_khz must be >= 0, got %g", in.DedupToleranceKHz))
	}
	if c.CTY.RefreshHours < 0 {
		errs = append(errs, fmt.Errorf("cty.refresh_hours must be >= 0, got %d", c.CTY.RefreshHours))
	}
	if c.Geocache.TTLHours < 0 {
		errs = append(errs, fmt.Errorf("geocache.ttl_hours must be >= 0, got %d", c.Geocache.TTLHours))
	}
	switch c.Archive.Synchronous {
	case "off", "normal", "full", "extra":
	default:
		errs = append(errs, fmt.Errorf("archive.synchronous %q must be off, normal, full or extra", c.Archive.Synchronous))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt.enabled is true"))
	}
	switch c.UI.Mode {
	case UIModeAuto, UIModeConsole, UIModeHeadless:
	default:
		errs = append(errs, fmt.Errorf("ui.mode %q must be auto, console or headless", c.UI.Mode))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ReferencePosition returns the station position used as the origin for
// heading geocoding.
func (c *Config) ReferencePosition() geo.LatLong {
	if c.Station.Latitude != nil && c.Station.Longitude != nil {
		return geo.LatLong{Lat: *c.Station.Latitude, Lon: *c.Station.Longitude}
	}
	p, err := geo.GridToLatLong(c.Station.Grid)
	if err != nil {
		return geo.LatLong{}
	}
	return p
}

func (c *Config) OperatorCallsign() string { return c.Station.Callsign }
func (c *Config) ClusterHost() string      { return c.Cluster.Host }
func (c *Config) ClusterPort() int         { return c.Cluster.Port }
func (c *Config) ClusterEnabled() bool     { return c.Cluster.Enabled }

// UsePrefixLabels reports whether map labels show prefixes instead of calls.
func (c *Config) UsePrefixLabels() bool {
	return c.Cluster.LabelStyle == LabelStylePrefix
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Station: %s at %s\n", c.Station.Callsign, c.ReferencePosition())
	if c.Cluster.Enabled {
		fmt.Printf("Cluster: %s:%d (labels=%s, ar-cluster=%t)\n", c.Cluster.Host, c.Cluster.Port, c.Cluster.LabelStyle, c.Cluster.AllowARCluster)
	} else {
		fmt.Printf("Cluster: disabled\n")
	}
	fmt.Printf("Ingest: poll=%dms stale=%ds keepalive=%ds spots=%d\n", c.Ingest.PollIntervalMS, c.Ingest.StaleSeconds, c.Ingest.KeepaliveSeconds, c.Ingest.MaxSpots)
	if c.Geocache.Enabled {
		fmt.Printf("Geocache: %s (ttl=%dh)\n", c.Geocache.Path, c.Geocache.TTLHours)
	}
	if c.Archive.Enabled {
		fmt.Printf("Archive: %s (retention=%dd)\n", c.Archive.DBPath, c.Archive.RetentionDays)
	}
	if c.MQTT.Enabled {
		fmt.Printf("MQTT: %s:%d (topic: %s)\n", c.MQTT.Broker, c.MQTT.Port, c.MQTT.Topic)
	}
	if c.Metrics.Enabled {
		fmt.Printf("Metrics: %s\n", c.Metrics.Listen)
	}
	if c.CTY.Enabled {
		fmt.Printf("CTY: %s (url=%q refresh=%dh)\n", c.CTY.File, c.CTY.URL, c.CTY.RefreshHours)
	}
}

// Purpose: Tell the operator which reloaded settings were not applied.
// Key aspects: Compares whole sections; live fields are excluded.
// Upstream: main watchReload.
// Downstream: None.
// RestartRequired lists the settings that differ between prev and next but
// are only read at startup. Station, cluster host/port/enabled and the label
// style are applied live and are never listed.
func RestartRequired(prev, next *Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	var out []string
	if prev.Cluster.AllowARCluster != next.Cluster.AllowARCluster {
		out = append(out, "cluster.allow_arcluster")
	}
	if prev.Cluster.ConnectTimeoutMS != next.Cluster.ConnectTimeoutMS {
		out = append(out, "cluster.connect_timeout_ms")
	}
	for _, sec := range []struct {
		name    string
		changed bool
	}{
		{"ingest", prev.Ingest != next.Ingest},
		{"geocache", prev.Geocache != next.Geocache},
		{"archive", prev.Archive != next.Archive},
		{"mqtt", prev.MQTT != next.MQTT},
		{"metrics", prev.Metrics != next.Metrics},
		{"cty", prev.CTY != next.CTY},
		{"logging", prev.Logging != next.Logging},
		{"ui", prev.UI != next.UI},
	} {
		if sec.changed {
			out = append(out, sec.name)
		}
	}
	return out
}

// Live holds the current configuration and can swap it on reload. It
// satisfies the ingest engine's settings interface, so a reload that changes
// the cluster host or port forces a reconnect on the next poll.
type Live struct {
	mu  sync.RWMutex
	cfg *Config
}

func NewLive(cfg *Config) *Live {
	return &Live{cfg: cfg}
}

// Current returns the active configuration. Callers must not modify it.
func (l *Live) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Reload loads dir and swaps it in. On error the previous configuration stays active.
func (l *Live) Reload(dir string) (*Config, error) {
	cfg, err := Load(dir)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Live) OperatorCallsign() string       { return l.Current().OperatorCallsign() }
func (l *Live) ReferencePosition() geo.LatLong { return l.Current().ReferencePosition() }
func (l *Live) ClusterHost() string            { return l.Current().ClusterHost() }
func (l *Live) ClusterPort() int               { return l.Current().ClusterPort() }
func (l *Live) ClusterEnabled() bool           { return l.Current().ClusterEnabled() }

// Command dxfeed connects to a DX cluster (DXSpider or AR-Cluster) or listens
// for WSJT-X status datagrams, keeps a short list of positioned spots and
// draws them on a world map. Accepted spots are optionally archived to SQLite
// and published over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"dxfeed/archive"
	"dxfeed/config"
	"dxfeed/cty"
	"dxfeed/geocache"
	"dxfeed/ingest"
	"dxfeed/metrics"
	"dxfeed/publish"
	"dxfeed/transport"
	"dxfeed/ui"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const geocachePurgeInterval = time.Hour

func main() {
	configPath := pflag.StringP("config", "c", "", "configuration directory (default $"+config.EnvPath+" or "+config.DefaultPath+")")
	uiMode := pflag.String("ui", "", "override ui.mode: auto, console or headless")
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println("dxfeed", Version)
		return
	}

	cfg, dir, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	if strings.TrimSpace(*uiMode) != "" {
		cfg.UI.Mode = strings.ToLower(strings.TrimSpace(*uiMode))
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Config: --ui: %v", err)
		}
	}
	live := config.NewLive(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The engine is built after the surface because it renders into it. Key,
	// click and scheduled work all run on the surface goroutine, so engine,
	// usePrefix and selected need no locking.
	var (
		engine    *ingest.Engine
		usePrefix = cfg.UsePrefixLabels()
		selected  string
	)
	surface, console := chooseSurface(cfg, func(r rune) {
		if r != 'l' || engine == nil {
			return
		}
		usePrefix = !usePrefix
		engine.Relabel(usePrefix)
		log.Printf("UI: labels now show %s", labelStyleName(usePrefix))
	})

	fanout, err := setupLogging(cfg.Logging, surface.LogWriter())
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()
	if err != nil {
		log.Printf("Logging: file logging disabled: %v", err)
	}
	log.Printf("dxfeed %s starting (config %s)", Version, dir)
	if console == nil {
		cfg.Print()
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector, err = metrics.NewCollector(nil)
		if err != nil {
			log.Printf("Metrics: disabled: %v", err)
			collector = nil
		} else {
			collector.Serve(ctx, cfg.Metrics.Listen)
		}
	}
	tracker := metrics.NewTracker(collector)

	// Every background goroutine joins wg so the deferred closes below run
	// only after they have stopped.
	var wg sync.WaitGroup

	opts := ingest.OptionsFromConfig(cfg)
	opts.Dialer = transport.NetDialer{}
	opts.Settings = live
	opts.Renderer = surface
	opts.Metrics = tracker

	if cfg.CTY.Enabled {
		refresh := time.Duration(cfg.CTY.RefreshHours) * time.Hour
		if cfg.CTY.URL != "" && cty.Stale(cfg.CTY.File, refresh, time.Now()) {
			fetchCTY(ctx, cfg.CTY)
		}
		db, err := cty.Load(cfg.CTY.File, cfg.CTY.CacheEntries)
		if err != nil {
			log.Printf("CTY: disabled: %v", err)
		} else {
			log.Printf("CTY: loaded %s (%s prefixes)", cfg.CTY.File, humanize.Comma(int64(db.Stats().Entries)))
			ctyLive := cty.NewLive(db)
			opts.CTY = ctyLive
			if cfg.CTY.URL != "" {
				wg.Add(1)
				go func() {
					defer wg.Done()
					refreshCTY(ctx, cfg.CTY, ctyLive)
				}()
			}
		}
	}

	if cfg.Geocache.Enabled {
		gc, err := geocache.Open(cfg.Geocache.Path, geocache.Options{
			TTL:           time.Duration(cfg.Geocache.TTLHours) * time.Hour,
			MemoryEntries: cfg.Geocache.MemoryEntries,
		})
		if err != nil {
			log.Printf("Geocache: disabled: %v", err)
		} else {
			defer gc.Close()
			opts.Geocache = gc
			wg.Add(1)
			go func() {
				defer wg.Done()
				purgeGeocache(ctx, gc)
			}()
		}
	}

	var history *archive.Writer
	if cfg.Archive.Enabled {
		w, err := archive.NewWriter(cfg.Archive)
		if err != nil {
			log.Printf("Archive: disabled: %v", err)
		} else {
			w.Start()
			defer w.Stop()
			opts.Sinks = append(opts.Sinks, w)
			history = w
		}
	}

	if cfg.MQTT.Enabled {
		pub := publish.New(cfg.MQTT)
		if err := pub.Connect(); err != nil {
			log.Printf("MQTT: disabled: %v", err)
			pub.Stop()
		} else {
			pub.Start()
			defer pub.Stop()
			opts.Sinks = append(opts.Sinks, pub)
		}
	}

	engine = ingest.New(opts)
	p := newPoller(engine)
	if history != nil {
		restoreSpots(engine, history, cfg.Ingest.MaxSpots)
	}

	if console != nil {
		console.SetClickHandler(func(x, y int) {
			surface.Schedule("click", func() {
				s, ok := engine.HitTest(x, y)
				if !ok {
					return
				}
				selected = ui.Describe(s)
				log.Printf("UI: selected %s", selected)
				surface.SetStatus(statusLine(engine.Stats(), selected, time.Now()))
			})
		})
	}

	poll := func() {
		p.tick()
		if console != nil {
			surface.SetStatus(statusLine(engine.Stats(), selected, time.Now()))
		}
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		runTicker(ctx, time.Duration(live.Current().Ingest.PollIntervalMS)*time.Millisecond, true, func() {
			surface.Schedule("poll", poll)
		})
	}()
	go func() {
		defer wg.Done()
		runTicker(ctx, time.Duration(cfg.Metrics.SummarySeconds)*time.Second, false, func() {
			line := tracker.SummaryLine()
			if console != nil {
				fanout.WriteFileOnlyLine(line, time.Now().UTC())
				return
			}
			log.Print(line)
		})
	}()
	go func() {
		defer wg.Done()
		watchReload(ctx, live, dir, func(next *config.Config) {
			surface.Schedule("reload", func() {
				usePrefix = next.UsePrefixLabels()
				engine.Relabel(usePrefix)
				if console != nil {
					console.SetHome(next.ReferencePosition())
				}
				p.reset()
			})
		})
	}()

	if err := surface.Run(ctx); err != nil {
		log.Printf("UI: %v", err)
	}
	cancel()
	wg.Wait()
	engine.Close("shutdown")
	log.Print(tracker.SummaryLine())
}

// Purpose: Decide between the tview console and headless log output.
// Key aspects: auto picks the console only when stdout is a terminal; an
// explicit console request without a terminal falls back to headless.
// Upstream: main startup.
// Downstream: ui.NewConsole, ui.NewLogRenderer.
func chooseSurface(cfg *config.Config, onRune func(rune)) (ui.Surface, *ui.Console) {
	mode := cfg.UI.Mode
	tty := isStdoutTTY()
	if mode == config.UIModeAuto {
		mode = config.UIModeHeadless
		if tty {
			mode = config.UIModeConsole
		}
	}
	if mode == config.UIModeConsole && !tty {
		fmt.Fprintln(os.Stderr, "UI: console mode needs an interactive terminal; running headless")
		mode = config.UIModeHeadless
	}
	if mode != config.UIModeConsole {
		return ui.NewLogRenderer(), nil
	}
	console := ui.NewConsole(ui.ConsoleOptions{
		Home:   cfg.ReferencePosition(),
		Title:  "dxfeed " + cfg.Station.Callsign,
		OnRune: onRune,
	})
	return console, console
}

// Purpose: Detect whether stdout is an interactive terminal.
// Key aspects: Used to pick the console surface in auto mode.
// Upstream: chooseSurface.
// Downstream: term.IsTerminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Purpose: Load configuration from the flag, env or default location.
// Key aspects: An explicit path must exist; env and default are tried in
// order and skipped when missing.
// Upstream: main startup.
// Downstream: config.Load.
func loadConfig(flagPath string) (*config.Config, string, error) {
	if p := strings.TrimSpace(flagPath); p != "" {
		cfg, err := config.Load(p)
		if err != nil {
			return nil, p, err
		}
		return cfg, cfg.LoadedFrom, nil
	}
	candidates := make([]string, 0, 2)
	if envPath := strings.TrimSpace(os.Getenv(config.EnvPath)); envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, config.DefaultPath)

	var lastErr error
	for _, path := range candidates {
		cfg, err := config.Load(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				lastErr = err
				continue
			}
			return nil, path, err
		}
		return cfg, cfg.LoadedFrom, nil
	}
	return nil, "", fmt.Errorf("unable to load config; tried %s (last error: %v)", strings.Join(candidates, ", "), lastErr)
}

// Purpose: Call fn on every tick until ctx is done.
// Key aspects: A non-positive interval disables the loop.
// Upstream: main poll and summary loops.
// Downstream: fn.
func runTicker(ctx context.Context, interval time.Duration, immediate bool, fn func()) {
	if interval <= 0 {
		return
	}
	if immediate {
		fn()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Purpose: Reload configuration on SIGHUP.
// Key aspects: A failed reload keeps the previous configuration active.
// Upstream: main.
// Downstream: config.Live.Reload, applied callback.
func watchReload(ctx context.Context, live *config.Live, dir string, applied func(*config.Config)) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			prev := live.Current()
			next, err := live.Reload(dir)
			if err != nil {
				log.Printf("Config: reload failed, keeping previous settings: %v", err)
				continue
			}
			log.Printf("Config: reloaded from %s (cluster %s:%d)", dir, next.Cluster.Host, next.Cluster.Port)
			if pending := config.RestartRequired(prev, next); len(pending) > 0 {
				log.Printf("Config: changes to %s take effect after a restart", strings.Join(pending, ", "))
			}
			applied(next)
		}
	}
}

// Purpose: Put the last few archived spots back on the map after a restart.
// Key aspects: Only spots younger than the staleness ceiling are restored;
// they are not re-sent to the sinks.
// Upstream: main startup.
// Downstream: archive.Writer.Recent, ingest.Engine.Restore.
func restoreSpots(engine *ingest.Engine, history *archive.Writer, limit int) {
	recent, err := history.Recent(limit)
	if err != nil {
		log.Printf("Archive: restore skipped: %v", err)
		return
	}
	if n := engine.Restore(recent); n > 0 {
		log.Printf("Archive: restored %d recent spots", n)
	}
}

func purgeGeocache(ctx context.Context, gc *geocache.Cache) {
	purge := func() {
		n, err := gc.PurgeExpired()
		if err != nil {
			log.Printf("Geocache: purge failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("Geocache: purged %d expired entries", n)
		}
	}
	purge()
	runTicker(ctx, geocachePurgeInterval, false, purge)
}

// Purpose: Download cty.plist when the remote copy changed.
// Key aspects: Failures keep the existing file.
// Upstream: main startup, refreshCTY.
// Downstream: cty.Fetch.
func fetchCTY(ctx context.Context, cfg config.CTYConfig) bool {
	status, err := cty.Fetch(ctx, cfg.URL, cfg.File, time.Minute)
	if err != nil {
		log.Printf("CTY: download failed, keeping %s: %v", cfg.File, err)
		return false
	}
	log.Printf("CTY: download %s", status)
	return status == cty.FetchUpdated
}

// Purpose: Periodically refresh the CTY database and swap it in.
// Key aspects: Only a changed file is reloaded; a reload failure keeps the
// previous database.
// Upstream: main startup when cty.url is set.
// Downstream: fetchCTY, cty.Load, cty.Live.Store.
func refreshCTY(ctx context.Context, cfg config.CTYConfig, live *cty.Live) {
	interval := time.Duration(cfg.RefreshHours) * time.Hour
	runTicker(ctx, interval, false, func() {
		if !fetchCTY(ctx, cfg) {
			return
		}
		db, err := cty.Load(cfg.File, cfg.CacheEntries)
		if err != nil {
			log.Printf("CTY: reload failed, keeping previous database: %v", err)
			return
		}
		live.Store(db)
		log.Printf("CTY: reloaded (%s prefixes)", humanize.Comma(int64(db.Stats().Entries)))
	})
}

func labelStyleName(prefix bool) string {
	if prefix {
		return config.LabelStylePrefix
	}
	return config.LabelStyleCall
}

// statusLine renders the one-line console status.
func statusLine(st ingest.Stats, selected string, now time.Time) string {
	var b strings.Builder
	if st.Connected {
		fmt.Fprintf(&b, "%s %s:%d", st.Dialect, st.Host, st.Port)
	} else {
		b.WriteString("disconnected")
	}
	fmt.Fprintf(&b, " | %d held", st.Held)
	if !st.LastActivity.IsZero() {
		fmt.Fprintf(&b, " | last activity %s", humanize.RelTime(st.LastActivity, now, "ago", "from now"))
	}
	if selected != "" {
		b.WriteString(" | ")
		b.WriteString(selected)
	}
	return b.String()
}

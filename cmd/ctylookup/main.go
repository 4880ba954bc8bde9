package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"dxfeed/cty"
	"dxfeed/spot"

	"github.com/spf13/pflag"
)

func main() {
	dataPath := pflag.String("data", "data/cty/cty.plist", "path to cty.plist data file")
	pflag.Parse()

	db, err := cty.Load(*dataPath, cty.DefaultCacheEntries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading CTY database: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("loaded CTY database with %d entries\n", db.Stats().Entries)

	// Calls given as arguments are answered without prompting.
	if args := pflag.Args(); len(args) > 0 {
		for _, call := range args {
			lookup(db, call)
		}
		return
	}

	fmt.Println("enter callsigns (Ctrl+C to quit)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		call := strings.TrimSpace(scanner.Text())
		if call == "" {
			continue
		}
		lookup(db, call)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "input error: %v\n", err)
	}
}

func lookup(db *cty.DB, call string) {
	normalized := spot.NormalizeCallsign(call)
	info, ok := db.Lookup(normalized)
	if !ok {
		fmt.Printf("%s: no matching prefix\n", normalized)
		return
	}
	fmt.Printf("%s -> prefix=%s, country=%s, CQ=%d, ITU=%d, lat=%.4f, lon=%.4f\n",
		normalized, info.Prefix, info.Country, info.CQZone, info.ITUZone, info.Latitude, info.Longitude)
}

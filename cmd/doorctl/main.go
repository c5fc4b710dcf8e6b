// Command doorctl is a field debug tool for a running accessd
// installation: dump-cache prints the on-disk access cache and
// master-card table for a zone, and pulse watches one or more GPIO
// pins for edge transitions the way a technician would when wiring a
// new reader.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/pidoors/accessd/internal/cachestore"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "dump-cache":
		dumpCache(os.Args[2:])
	case "pulse":
		pulse(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: doorctl dump-cache -dir <path> -zone <name>")
	fmt.Fprintln(os.Stderr, "       doorctl pulse -pins GPIO4,GPIO17")
}

func dumpCache(args []string) {
	fs := flag.NewFlagSet("dump-cache", flag.ExitOnError)
	dir := fs.String("dir", "/var/lib/accessd", "state directory holding the access cache and master card table")
	zone := fs.String("zone", "", "zone name (selects <dir>/<zone>_access_cache.json)")
	fs.Parse(args)

	if *zone == "" {
		fmt.Fprintln(os.Stderr, "doorctl: dump-cache requires -zone")
		os.Exit(2)
	}

	store := cachestore.New(*dir, *zone)
	store.LoadAccessCache()
	store.LoadMasterCards()

	out := struct {
		AccessCache cachestore.AccessCache     `json:"access_cache"`
		MasterCards cachestore.MasterCardTable `json:"master_cards"`
	}{
		AccessCache: store.Snapshot(),
		MasterCards: store.MasterCards(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "doorctl: encode: %v\n", err)
		os.Exit(1)
	}
}

func pulse(args []string) {
	fs := flag.NewFlagSet("pulse", flag.ExitOnError)
	pinsFlag := fs.String("pins", "", "comma-separated GPIO pin names to watch (e.g. GPIO4,GPIO17)")
	fs.Parse(args)

	if *pinsFlag == "" {
		fmt.Fprintln(os.Stderr, "doorctl: pulse requires -pins")
		os.Exit(2)
	}

	if _, err := host.Init(); err != nil {
		log.Fatalf("doorctl: initialize periph host: %v", err)
	}

	var pins []gpio.PinIO
	for _, name := range strings.Split(*pinsFlag, ",") {
		name = strings.TrimSpace(name)
		p := gpioreg.ByName(name)
		if p == nil {
			log.Printf("doorctl: unknown pin %q, skipping", name)
			continue
		}
		pins = append(pins, p)
	}
	if len(pins) == 0 {
		log.Fatal("doorctl: no valid pins to watch")
	}

	stopCh := make(chan struct{})
	for _, p := range pins {
		go watchPin(p, stopCh)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	close(stopCh)
	time.Sleep(100 * time.Millisecond)
	fmt.Println("doorctl: stopped")
}

func watchPin(p gpio.PinIO, stopCh <-chan struct{}) {
	if err := p.In(gpio.PullDown, gpio.BothEdges); err != nil {
		log.Printf("doorctl: configure pin %s: %v", p, err)
		return
	}
	fmt.Printf("pin %s initial state: %s\n", p, p.Read())
	for {
		select {
		case <-stopCh:
			return
		default:
			if p.WaitForEdge(100 * time.Millisecond) {
				fmt.Printf("edge on %s: %s\n", p, p.Read())
			}
		}
	}
}

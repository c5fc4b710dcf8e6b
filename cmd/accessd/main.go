// Command accessd is the door-access controller daemon: it loads
// zone.json/config.json from its state directory, builds every
// component, and runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"periph.io/x/host/v3"

	"github.com/pidoors/accessd/internal/config"
	"github.com/pidoors/accessd/internal/supervisor"
)

func main() {
	stateDir := flag.String("state-dir", "/var/lib/accessd", "directory containing zone.json, config.json, and the access cache")
	flag.Parse()

	if _, err := host.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "accessd: initialize periph host: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*stateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "accessd: load config: %v\n", err)
		os.Exit(1)
	}

	sup, err := supervisor.New(cfg, *stateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "accessd: initialize: %v\n", err)
		os.Exit(1)
	}

	// Supervisor.Run owns the full signal-driven Init → Running →
	// Stopping → Stopped lifecycle; it returns once SIGINT/SIGTERM is
	// handled or ctx is cancelled.
	if err := sup.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "accessd: %v\n", err)
		os.Exit(1)
	}
}

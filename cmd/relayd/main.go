package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/relaycast/relaycast/internal/adminapi"
	"github.com/relaycast/relaycast/internal/adminws"
	"github.com/relaycast/relaycast/internal/config"
	"github.com/relaycast/relaycast/internal/fetch"
	"github.com/relaycast/relaycast/internal/headerparser"
	"github.com/relaycast/relaycast/internal/mountreg"
	"github.com/relaycast/relaycast/internal/relay"
	"github.com/relaycast/relaycast/internal/sourcepipe"
	"github.com/relaycast/relaycast/internal/stats"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the relay config file (default: relay.config in the working directory)")
	flag.Parse()

	log.Printf("Starting relaycast relay control plane v%s...", Version)

	relay.InitRelayLog(".")
	defer relay.CloseRelayLog()

	path := *configPath
	if path == "" {
		workDir, _ := os.Getwd()
		path = filepath.Join(workDir, "relay.config")
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfgStore := config.NewStore(cfg)

	log.Printf("configuration loaded: %d static relays, master=%s:%d, admin=%s",
		len(cfg.Relays), cfg.MasterServer, cfg.MasterServerPort, cfg.AdminAPIAddr)

	registry := mountreg.New()
	header := headerparser.New()
	statsPub := stats.New()
	pipeline := sourcepipe.New()
	slaves := relay.NewSlaveRegistry()

	hub := adminws.NewHub()
	hubStop := make(chan struct{})
	go hub.Run(hubStop)

	var controlLoop *relay.ControlLoop
	supervisor := relay.NewSupervisor(cfgStore, registry, pipeline, header, statsPub, nil, hub, func() {
		if controlLoop != nil {
			controlLoop.RequestRescan()
		}
	})

	fetcher := fetch.New()
	poller := relay.NewPoller(cfgStore, fetcher, supervisor, slaves)

	controlLoop = relay.NewControlLoop(cfgStore, path, supervisor, poller, slaves, 5)
	if err := controlLoop.Start(); err != nil {
		log.Fatalf("failed to start control loop: %v", err)
	}

	adminServer := adminapi.NewServer(cfg.AdminAPIAddr, supervisor, slaves, controlLoop.RequestRescan)
	adminServer.RegisterHub(hub)

	go func() {
		if err := adminServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin API server error: %v", err)
		}
	}()
	log.Printf("admin API listening on %s", cfg.AdminAPIAddr)

	log.Println("relaycast is running")
	log.Println("press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("shutdown signal received, stopping relaycast...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down admin API server: %v", err)
	}
	close(hubStop)
	controlLoop.Stop()

	log.Println("relaycast stopped")
}

// Command warsim runs the authoritative strategic war server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/frontline/internal/api"
	"github.com/talgya/frontline/internal/config"
	"github.com/talgya/frontline/internal/engine"
	"github.com/talgya/frontline/internal/persistence"
	"github.com/talgya/frontline/internal/telemetry"
	"github.com/talgya/frontline/internal/world"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("Frontline strategic war server",
		"tick", cfg.Match.Tick, "factions", cfg.Match.Factions, "auto_start", cfg.Match.AutoStart)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("trace flush failed", "error", err)
		}
	}()

	// ── Map ───────────────────────────────────────────────────────────
	graph, capitals, err := loadMap(cfg)
	if err != nil {
		slog.Error("failed to build map", "error", err)
		os.Exit(1)
	}
	for t, c := range world.TypeCounts(graph) {
		slog.Info("nodes", "type", t, "count", c)
	}

	// ── Journal ───────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.Journal.Enabled {
		if cfg.Journal.Path != persistence.MemoryPath {
			if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o755); err != nil {
				slog.Error("failed to create journal directory", "error", err)
				os.Exit(1)
			}
		}
		db, err = persistence.Open(cfg.Journal.Path)
		if err != nil {
			slog.Error("failed to open journal", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("journal opened", "path", cfg.Journal.Path)
	}

	// ── Simulation ────────────────────────────────────────────────────
	sim, err := engine.NewSimulation(cfg.Engine(), graph, capitals, time.Now().UTC())
	if err != nil {
		slog.Error("failed to create simulation", "error", err)
		os.Exit(1)
	}
	eng := engine.NewEngine(sim)

	journalDone := make(chan struct{})
	if db != nil {
		subID, ch := sim.Bus.Subscribe()
		go func() {
			defer close(journalDone)
			if err := db.Follow(ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("journal stopped", "error", err)
			}
		}()
		defer sim.Bus.Unsubscribe(subID)
	} else {
		close(journalDone)
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	apiServer := &api.Server{
		Eng:     eng,
		Journal: db,
		Config:  cfg.Server,
	}
	go func() {
		if err := apiServer.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("engine stopped", "error", err)
	}
	<-journalDone

	snap := eng.Snapshot()
	slog.Info("war server stopped", "tick", snap.Tick, "sim_time", snap.Clock, "state", snap.State,
		"dropped_events", humanize.Comma(int64(sim.Bus.Dropped())))
}

// loadMap reads the configured map file, or generates one when none is set.
func loadMap(cfg config.Config) (*world.Graph, map[world.FactionID]world.NodeID, error) {
	if cfg.Map.File != "" {
		slog.Info("loading map", "file", cfg.Map.File)
		return world.LoadMapFile(cfg.Map.File)
	}

	slog.Info("generating war map", "radius", cfg.Map.Radius, "seed", cfg.Map.Seed)
	gen, err := world.Generate(cfg.GenConfig())
	if err != nil {
		return nil, nil, err
	}
	return gen.Graph, map[world.FactionID]world.NodeID{
		"red":  gen.Capitals[0],
		"blue": gen.Capitals[1],
	}, nil
}

// Command warbot runs an autonomous faction commander against a warsim
// server. It observes the war, decides on orders with fixed rules, and acts
// through the public player API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/talgya/frontline/internal/commander"
	"github.com/talgya/frontline/internal/config"
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

	slog.Info("Frontline commander starting",
		"server", cfg.Bot.Server,
		"player", cfg.Bot.Name,
		"faction", cfg.Bot.Faction,
		"interval", cfg.Bot.Interval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := commander.New(cfg.Bot.Server, commander.Params{
		Player:     cfg.Bot.Name,
		Faction:    world.FactionID(cfg.Bot.Faction),
		Reserve:    cfg.Bot.Reserve,
		BattleCost: cfg.War.InitiationCost,
		FortifyMax: cfg.Bot.FortifyMax,
	}, cfg.Bot.Memory)

	if err := c.Run(ctx, cfg.Bot.Interval); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("commander stopped", "error", err)
		os.Exit(1)
	}
	fmt.Println("Commander stopped.")
}

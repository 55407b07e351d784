// Package config loads runtime settings from the environment (and an optional
// .env file) and converts them into each subsystem's configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/talgya/frontline/internal/capture"
	"github.com/talgya/frontline/internal/economy"
	"github.com/talgya/frontline/internal/engine"
	"github.com/talgya/frontline/internal/squads"
	"github.com/talgya/frontline/internal/war"
	"github.com/talgya/frontline/internal/world"
)

// Prefix is prepended to every variable name.
const Prefix = "WARSIM_"

// Config is the full runtime configuration.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Server    Server    `envPrefix:"SERVER_"`
	Map       Map       `envPrefix:"MAP_"`
	Match     Match     `envPrefix:"MATCH_"`
	Squads    Squads    `envPrefix:"SQUADS_"`
	Capture   Capture   `envPrefix:"CAPTURE_"`
	Economy   Economy   `envPrefix:"ECONOMY_"`
	War       War       `envPrefix:"WAR_"`
	Journal   Journal   `envPrefix:"JOURNAL_"`
	Telemetry Telemetry `envPrefix:"OTEL_"`
	Bot       Bot       `envPrefix:"BOT_"`
}

type Server struct {
	Addr          string  `env:"ADDR"           envDefault:":8080"`
	AdminKey      string  `env:"ADMIN_KEY"`
	RelayKey      string  `env:"RELAY_KEY"`
	AllowedOrigin string  `env:"ALLOWED_ORIGIN" envDefault:"*"`
	RateLimit     float64 `env:"RATE_LIMIT"     envDefault:"5"`
	RateBurst     int     `env:"RATE_BURST"     envDefault:"10"`
}

// Map selects a map file or the procedural generator.
type Map struct {
	File   string `env:"FILE"`
	Radius int    `env:"RADIUS" envDefault:"3"`
	Seed   int64  `env:"SEED"   envDefault:"42"`
}

type Match struct {
	Tick         time.Duration `env:"TICK"          envDefault:"100ms"`
	Factions     int           `env:"FACTIONS"      envDefault:"2"`
	AutoStart    bool          `env:"AUTO_START"    envDefault:"true"`
	Seed         int64         `env:"SEED"`
	SpawnHistory int           `env:"SPAWN_HISTORY" envDefault:"50"`
}

type Squads struct {
	PerPlayer     int           `env:"PER_PLAYER"     envDefault:"3"`
	MaxManpower   int           `env:"MAX_MANPOWER"   envDefault:"50"`
	Speed         float64       `env:"SPEED"          envDefault:"10"`
	MinTravel     time.Duration `env:"MIN_TRAVEL"     envDefault:"10s"`
	MaxTravel     time.Duration `env:"MAX_TRAVEL"     envDefault:"60s"`
	DefaultTravel time.Duration `env:"DEFAULT_TRAVEL" envDefault:"15s"`
	CancelWindow  float64       `env:"CANCEL_WINDOW"  envDefault:"0.5"`
}

type Capture struct {
	EvalInterval     time.Duration `env:"EVAL_INTERVAL"     envDefault:"500ms"`
	Duration         time.Duration `env:"DURATION"          envDefault:"60s"`
	ProgressInterval time.Duration `env:"PROGRESS_INTERVAL" envDefault:"1s"`
	DecayFactor      float64       `env:"DECAY_FACTOR"      envDefault:"0.5"`
}

type Economy struct {
	Cap             int            `env:"CAP"              envDefault:"10000"`
	StartingBalance int            `env:"STARTING_BALANCE" envDefault:"200"`
	CycleInterval   time.Duration  `env:"CYCLE_INTERVAL"   envDefault:"60s"`
	BaselineBonus   int            `env:"BASELINE_BONUS"   envDefault:"10"`
	HistoryLimit    int            `env:"HISTORY_LIMIT"    envDefault:"100"`
	BaseGeneration  map[string]int `env:"BASE_GENERATION"  envDefault:"standard:10,capital:20,strategic:15,resource:25"`
}

type War struct {
	MaxBattles           int           `env:"MAX_BATTLES"            envDefault:"3"`
	InitiationCost       int           `env:"INITIATION_COST"        envDefault:"100"`
	BattleTimeout        time.Duration `env:"BATTLE_TIMEOUT"         envDefault:"10m"`
	DefenderBonus        float64       `env:"DEFENDER_BONUS"         envDefault:"10"`
	DefaultControlChange float64       `env:"DEFAULT_CONTROL_CHANGE" envDefault:"25"`
	FortifyRate          float64       `env:"FORTIFY_RATE"           envDefault:"0.5"`
	VictoryRule          string        `env:"VICTORY_RULE"`
	MinNodes             int           `env:"MIN_NODES"              envDefault:"15"`
	MinAvgControl        float64       `env:"MIN_AVG_CONTROL"        envDefault:"80"`
	TokenThreshold       int           `env:"TOKEN_THRESHOLD"        envDefault:"5000"`
}

// Journal configures the SQLite event journal. ":memory:" keeps it in process.
type Journal struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	Path    string `env:"PATH"    envDefault:":memory:"`
}

// Telemetry enables OTLP tracing when Endpoint is set.
type Telemetry struct {
	Endpoint    string `env:"ENDPOINT"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"warsim"`
}

// Bot configures the autonomous commander.
type Bot struct {
	Server     string        `env:"SERVER"      envDefault:"http://localhost:8080"`
	Name       string        `env:"NAME"        envDefault:"warbot"`
	Faction    string        `env:"FACTION"`
	Interval   time.Duration `env:"INTERVAL"    envDefault:"5s"`
	Reserve    int           `env:"RESERVE"     envDefault:"100"`
	FortifyMax int           `env:"FORTIFY_MAX" envDefault:"50"`
	Memory     string        `env:"MEMORY"`
}

// Load reads .env files (missing files are fine) and parses the environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}
	return Parse(nil)
}

// Parse reads configuration from vars, or from the process environment when
// vars is nil.
func Parse(vars map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: Prefix}
	if vars != nil {
		opts.Environment = vars
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.Match.Tick <= 0:
		return errors.New("match tick must be positive")
	case c.Squads.CancelWindow < 0 || c.Squads.CancelWindow > 1:
		return fmt.Errorf("cancel window %v outside [0,1]", c.Squads.CancelWindow)
	case c.Capture.DecayFactor < 0:
		return fmt.Errorf("decay factor %v is negative", c.Capture.DecayFactor)
	case c.Economy.Cap <= 0:
		return errors.New("token cap must be positive")
	}
	for name := range c.Economy.BaseGeneration {
		if _, err := world.ParseNodeType(name); err != nil {
			return fmt.Errorf("base generation: %w", err)
		}
	}
	return nil
}

// Level returns the slog level named by LogLevel, defaulting to info.
func (c Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// GenConfig returns the procedural map settings.
func (c Config) GenConfig() world.GenConfig {
	g := world.DefaultGenConfig()
	g.Radius = c.Map.Radius
	g.Seed = c.Map.Seed
	return g
}

// Engine converts the match rules into the simulation configuration.
func (c Config) Engine() engine.Config {
	base := make(map[world.NodeType]int, len(c.Economy.BaseGeneration))
	for name, v := range c.Economy.BaseGeneration {
		t, _ := world.ParseNodeType(name)
		base[t] = v
	}
	rule := c.War.VictoryRule
	if rule == "" {
		rule = war.DefaultVictoryRule
	}
	return engine.Config{
		TickInterval: c.Match.Tick,
		Factions:     c.Match.Factions,
		AutoStart:    c.Match.AutoStart,
		Seed:         c.Match.Seed,
		SpawnHistory: c.Match.SpawnHistory,
		Squads: squads.Config{
			PerPlayer:     c.Squads.PerPlayer,
			MaxManpower:   c.Squads.MaxManpower,
			Speed:         c.Squads.Speed,
			MinTravel:     c.Squads.MinTravel,
			MaxTravel:     c.Squads.MaxTravel,
			DefaultTravel: c.Squads.DefaultTravel,
			CancelWindow:  c.Squads.CancelWindow,
		},
		Economy: economy.Config{
			Cap:             c.Economy.Cap,
			StartingBalance: c.Economy.StartingBalance,
			CycleInterval:   c.Economy.CycleInterval,
			BaselineBonus:   c.Economy.BaselineBonus,
			HistoryLimit:    c.Economy.HistoryLimit,
			BaseGeneration:  base,
		},
		Capture: capture.Config{
			EvalInterval:     c.Capture.EvalInterval,
			Duration:         c.Capture.Duration,
			ProgressInterval: c.Capture.ProgressInterval,
			DecayFactor:      c.Capture.DecayFactor,
		},
		War: war.Config{
			MaxBattles:           c.War.MaxBattles,
			InitiationCost:       c.War.InitiationCost,
			BattleTimeout:        c.War.BattleTimeout,
			DefenderBonus:        c.War.DefenderBonus,
			DefaultControlChange: c.War.DefaultControlChange,
			FortifyRate:          c.War.FortifyRate,
			VictoryRule:          rule,
			MinNodes:             c.War.MinNodes,
			MinAvgControl:        c.War.MinAvgControl,
			TokenThreshold:       c.War.TokenThreshold,
		},
	}
}

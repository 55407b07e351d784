package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/squads"
	"github.com/talgya/frontline/internal/war"
	"github.com/talgya/frontline/internal/world"
)

// Command is a player or operator action applied by the authority between
// ticks. Every command either applies fully or returns a typed error and
// changes nothing.
type Command interface {
	Name() string
}

// JoinPlayer assigns a player to a faction and creates their squads at the
// faction capital. An empty Faction picks the smallest side.
type JoinPlayer struct {
	Player  string          `json:"player"`
	Faction world.FactionID `json:"faction,omitempty"`
}

// LeavePlayer removes a player and destroys their squads.
type LeavePlayer struct {
	Player string `json:"player"`
}

type MoveSquad struct {
	Player string       `json:"player"`
	Squad  int          `json:"squad"`
	Target world.NodeID `json:"target"`
}

type CancelMovement struct {
	Player string `json:"player"`
	Squad  int    `json:"squad"`
}

type Resupply struct {
	Player string `json:"player"`
	Squad  int    `json:"squad"`
	Amount int    `json:"amount"`
}

type RequestBattle struct {
	Player string       `json:"player"`
	Node   world.NodeID `json:"node"`
}

// RequestSpawnTicket asks for one reinforcement at node for the player's faction.
type RequestSpawnTicket struct {
	Player string       `json:"player"`
	Node   world.NodeID `json:"node"`
}

// ReportBattleResult is sent by the tactical engine when a battle ends.
type ReportBattleResult struct {
	Node   world.NodeID `json:"node"`
	Result war.Result   `json:"result"`
}

type Fortify struct {
	Player string       `json:"player"`
	Node   world.NodeID `json:"node"`
	Tokens int          `json:"tokens"`
}

// SetSpeed changes wall-clock pacing. Zero pauses. Handled by the Engine.
type SetSpeed struct {
	Speed float64 `json:"speed"`
}

// GrantTokens is an operator intervention that credits a faction treasury.
type GrantTokens struct {
	Faction world.FactionID `json:"faction"`
	Amount  int             `json:"amount"`
	Reason  string          `json:"reason,omitempty"`
}

type StartWar struct{}

type ResetWar struct{}

func (JoinPlayer) Name() string         { return "join_player" }
func (LeavePlayer) Name() string        { return "leave_player" }
func (MoveSquad) Name() string          { return "move_squad" }
func (CancelMovement) Name() string     { return "cancel_movement" }
func (Resupply) Name() string           { return "resupply" }
func (RequestBattle) Name() string      { return "request_battle" }
func (RequestSpawnTicket) Name() string { return "request_spawn_ticket" }
func (ReportBattleResult) Name() string { return "report_battle_result" }
func (Fortify) Name() string            { return "fortify" }
func (SetSpeed) Name() string           { return "set_speed" }
func (GrantTokens) Name() string        { return "grant_tokens" }
func (StartWar) Name() string           { return "start_war" }
func (ResetWar) Name() string           { return "reset_war" }

// JoinResult is returned for JoinPlayer.
type JoinResult struct {
	Player  string          `json:"player"`
	Faction world.FactionID `json:"faction"`
	Squads  []squads.Squad  `json:"squads"`
}

// ResupplyResult is returned for Resupply.
type ResupplyResult struct {
	Squad squads.Squad `json:"squad"`
	Added int          `json:"added"`
}

// FortifyResult is returned for Fortify.
type FortifyResult struct {
	Node    world.NodeID `json:"node"`
	Control float64      `json:"control"`
}

// PlayerPayload accompanies player.joined and player.left.
type PlayerPayload struct {
	Player  string          `json:"player"`
	Faction world.FactionID `json:"faction"`
}

// Handle validates and applies cmd, then publishes a fresh snapshot.
func (s *Simulation) Handle(ctx context.Context, cmd Command) (any, error) {
	_, span := tracer.Start(ctx, "engine.command")
	defer span.End()
	span.SetAttributes(attribute.String("command", cmd.Name()))

	out, err := s.apply(cmd)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Debug("command rejected", "command", cmd.Name(), "code", apperrors.CodeOf(err), "error", err)
		return nil, err
	}
	s.publish()
	return out, nil
}

func (s *Simulation) apply(cmd Command) (any, error) {
	now := s.now
	switch c := cmd.(type) {
	case JoinPlayer:
		return s.join(c)

	case LeavePlayer:
		faction, ok := s.Members.Leave(c.Player)
		if !ok {
			return nil, unknownPlayer(c.Player)
		}
		if err := s.Roster.RemovePlayer(c.Player); err != nil {
			slog.Warn("player had no squads", "player", c.Player, "error", err)
		}
		s.Bus.Emit(events.PlayerLeft, fmt.Sprintf("%s left %s", c.Player, faction),
			PlayerPayload{Player: c.Player, Faction: faction})
		return PlayerPayload{Player: c.Player, Faction: faction}, nil

	case MoveSquad:
		l, err := s.ledger(c.Player)
		if err != nil {
			return nil, err
		}
		if err := l.Move(c.Squad, c.Target, now); err != nil {
			return nil, err
		}
		return l.Squad(c.Squad)

	case CancelMovement:
		l, err := s.ledger(c.Player)
		if err != nil {
			return nil, err
		}
		if err := l.CancelMovement(c.Squad, now); err != nil {
			return nil, err
		}
		return l.Squad(c.Squad)

	case Resupply:
		l, err := s.ledger(c.Player)
		if err != nil {
			return nil, err
		}
		added, err := l.Resupply(c.Squad, c.Amount)
		if err != nil {
			return nil, err
		}
		sq, _ := l.Squad(c.Squad)
		return ResupplyResult{Squad: sq, Added: added}, nil

	case RequestBattle:
		faction, err := s.factionOf(c.Player)
		if err != nil {
			return nil, err
		}
		return s.War.RequestBattle(c.Node, faction, now)

	case RequestSpawnTicket:
		if !s.War.State().Active() {
			return nil, war.ErrNotActive
		}
		faction, err := s.factionOf(c.Player)
		if err != nil {
			return nil, err
		}
		return s.Occupancy.RequestSpawnTicket(c.Node, faction, c.Player, now)

	case ReportBattleResult:
		if err := s.War.EndBattle(c.Node, c.Result, now); err != nil {
			return nil, err
		}
		n, _ := s.Graph.Node(c.Node)
		return n, nil

	case Fortify:
		faction, err := s.factionOf(c.Player)
		if err != nil {
			return nil, err
		}
		control, err := s.War.Fortify(c.Node, faction, c.Tokens)
		if err != nil {
			return nil, err
		}
		return FortifyResult{Node: c.Node, Control: control}, nil

	case GrantTokens:
		reason := c.Reason
		if reason == "" {
			reason = "operator grant"
		}
		added, err := s.Economy.Add(c.Faction, c.Amount, reason)
		if err != nil {
			return nil, err
		}
		slog.Info("tokens granted", "faction", c.Faction, "added", added, "reason", reason)
		return s.Economy.Balance(c.Faction), nil

	case StartWar:
		if err := s.startWar(); err != nil {
			return nil, err
		}
		return s.War.State(), nil

	case ResetWar:
		s.resetWar()
		return s.War.State(), nil

	default:
		return nil, fmt.Errorf("unsupported command %s", cmd.Name())
	}
}

func (s *Simulation) join(c JoinPlayer) (JoinResult, error) {
	if c.Player == "" {
		return JoinResult{}, apperrors.New(apperrors.CodeUnknownPlayer, "player name required")
	}
	if s.War.State() == war.Ended {
		return JoinResult{}, war.ErrNotActive
	}
	faction, err := s.Members.Join(c.Player, c.Faction)
	if err != nil {
		return JoinResult{}, err
	}
	l, err := s.Roster.AddPlayer(c.Player, faction, s.capitals[faction])
	if err != nil {
		s.Members.Leave(c.Player)
		return JoinResult{}, err
	}

	slog.Info("player joined", "player", c.Player, "faction", faction)
	s.Bus.Emit(events.PlayerJoined, fmt.Sprintf("%s joined %s", c.Player, faction),
		PlayerPayload{Player: c.Player, Faction: faction})
	return JoinResult{Player: c.Player, Faction: faction, Squads: l.Squads()}, nil
}

func (s *Simulation) factionOf(player string) (world.FactionID, error) {
	f, ok := s.Members.FactionOf(player)
	if !ok {
		return world.NoFaction, unknownPlayer(player)
	}
	return f, nil
}

func (s *Simulation) ledger(player string) (*squads.Ledger, error) {
	if s.War.State() == war.Ended {
		return nil, war.ErrNotActive
	}
	return s.Roster.Ledger(player)
}

func unknownPlayer(player string) error {
	return apperrors.WithMetadata(apperrors.CodeUnknownPlayer,
		fmt.Sprintf("unknown player %s", player), map[string]string{"player": player})
}

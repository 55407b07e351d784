package war

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/world"
)

// Treasury reasons recorded by the orchestrator.
const (
	ReasonBattle  = "battle initiation"
	ReasonFortify = "fortification"
)

var (
	ErrNotActive      = apperrors.New(apperrors.CodeWarNotActive, "war is not active")
	ErrAlreadyStarted = apperrors.New(apperrors.CodeWarAlreadyStarted, "war already started")
	ErrNotAttackable  = apperrors.New(apperrors.CodeNodeNotAttackable, "node cannot be attacked")
	ErrBattleLimit    = apperrors.New(apperrors.CodeBattleLimitReached, "battle limit reached")
	ErrBattleActive   = apperrors.New(apperrors.CodeBattleAlreadyActive, "battle already active")
	ErrUnknownBattle  = apperrors.New(apperrors.CodeUnknownBattle, "no battle at node")
	ErrInvalidResult  = apperrors.New(apperrors.CodeInvalidResult, "invalid battle result")
	ErrNotOwned       = apperrors.New(apperrors.CodeNodeNotOwned, "node not owned by faction")
	ErrUnderAttack    = apperrors.New(apperrors.CodeNodeUnderAttack, "node is under attack")
)

// Territory is the graph surface the orchestrator drives.
type Territory interface {
	Node(id world.NodeID) (world.Node, bool)
	Nodes() []world.Node
	SetControl(id world.NodeID, faction world.FactionID, pct float64) error
	SetContested(id world.NodeID, contested bool, attacker world.FactionID) error
	SetBattleActive(id world.NodeID, active bool) error
	CanBeAttackedBy(id world.NodeID, faction world.FactionID) bool
	ResetControl()
}

// Treasury funds battles and fortification.
type Treasury interface {
	Spend(faction world.FactionID, amount int, reason string) error
	Balance(faction world.FactionID) int
}

// Captures hands nodes over when a battle ends in a takeover.
type Captures interface {
	CompleteCapture(node world.NodeID, owner world.FactionID, now time.Time) error
}

// Pinner holds squads in place while a battle runs at their node.
type Pinner interface {
	SetBattle(node world.NodeID, active bool)
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Graph    Territory
	Treasury Treasury
	Captures Captures
	Squads   Pinner
}

// Orchestrator owns the war state and the active battle sessions.
type Orchestrator struct {
	cfg      Config
	rule     *Rule
	factions []world.FactionID
	deps     Deps
	emit     events.Emitter

	state    State
	sessions map[world.NodeID]*Session
	outcome  *Outcome
}

// New creates an orchestrator in Preparation. The victory rule is compiled here.
func New(cfg Config, factions []world.FactionID, deps Deps, emit events.Emitter) (*Orchestrator, error) {
	if emit == nil {
		emit = events.Discard
	}
	src := cfg.VictoryRule
	if src == "" {
		src = DefaultVictoryRule
	}
	rule, err := CompileRule(src)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:      cfg,
		rule:     rule,
		factions: slices.Clone(factions),
		deps:     deps,
		emit:     emit,
		state:    Preparation,
		sessions: make(map[world.NodeID]*Session),
	}, nil
}

// State returns the current war state.
func (o *Orchestrator) State() State {
	return o.state
}

// Outcome returns the final result once the war has ended.
func (o *Orchestrator) Outcome() (Outcome, bool) {
	if o.outcome == nil {
		return Outcome{}, false
	}
	return *o.outcome, true
}

// Sessions returns copies of the active battle sessions ordered by node.
func (o *Orchestrator) Sessions() []Session {
	out := make([]Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b Session) int { return int(a.Node - b.Node) })
	return out
}

func (o *Orchestrator) setState(to State) {
	if o.state == to {
		return
	}
	from := o.state
	o.state = to
	slog.Info("war state changed", "from", from, "to", to)
	o.emit.Emit(events.WarStateChanged, fmt.Sprintf("war %s → %s", from, to), StatePayload{From: from, To: to})
}

// Start resets the map, hands each faction its capital at full control, and
// opens the war.
func (o *Orchestrator) Start(now time.Time, capitals map[world.FactionID]world.NodeID) error {
	if o.state != Preparation {
		return ErrAlreadyStarted
	}
	for _, f := range o.factions {
		if _, ok := capitals[f]; !ok {
			return apperrors.WithMetadata(apperrors.CodeNoStartingNode,
				fmt.Sprintf("no capital for %s", f), map[string]string{"faction": string(f)})
		}
	}

	o.deps.Graph.ResetControl()
	for _, f := range o.factions {
		if err := o.deps.Graph.SetControl(capitals[f], f, 100); err != nil {
			return err
		}
	}
	clear(o.sessions)
	o.outcome = nil

	slog.Info("war started", "factions", len(o.factions), "at", now.Format(time.RFC3339))
	o.setState(Strategic)
	return nil
}

// Reset returns to Preparation so a new war can start.
func (o *Orchestrator) Reset() {
	for node := range o.sessions {
		_ = o.deps.Graph.SetBattleActive(node, false)
		o.pin(node, false)
	}
	clear(o.sessions)
	o.outcome = nil
	o.setState(Preparation)
}

func (o *Orchestrator) pin(node world.NodeID, active bool) {
	if o.deps.Squads != nil {
		o.deps.Squads.SetBattle(node, active)
	}
}

// RequestBattle opens a tactical battle for faction at node. The initiation
// cost is spent only when every other check passes.
func (o *Orchestrator) RequestBattle(node world.NodeID, faction world.FactionID, now time.Time) (Session, error) {
	if !o.state.Active() {
		return Session{}, ErrNotActive
	}
	n, ok := o.deps.Graph.Node(node)
	if !ok {
		return Session{}, apperrors.WithMetadata(apperrors.CodeUnknownNode,
			fmt.Sprintf("unknown node %d", node), map[string]string{"node": fmt.Sprint(node)})
	}
	if n.BattleActive {
		return Session{}, ErrBattleActive
	}
	if !o.deps.Graph.CanBeAttackedBy(node, faction) {
		return Session{}, apperrors.WithMetadata(apperrors.CodeNodeNotAttackable,
			fmt.Sprintf("%s cannot attack %s", faction, n.Name),
			map[string]string{"node": fmt.Sprint(node), "faction": string(faction)})
	}
	if len(o.sessions) >= o.cfg.MaxBattles {
		return Session{}, ErrBattleLimit
	}
	if err := o.deps.Treasury.Spend(faction, o.cfg.InitiationCost, ReasonBattle); err != nil {
		return Session{}, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		Node:      node,
		Attacker:  faction,
		Defender:  n.Owner,
		StartedAt: now,
		Active:    true,
	}
	o.sessions[node] = s
	if err := o.deps.Graph.SetBattleActive(node, true); err != nil {
		slog.Warn("mark battle active failed", "node", node, "error", err)
	}
	o.pin(node, true)

	slog.Info("battle started", "node", n.Name, "attacker", faction, "defender", n.Owner, "active", len(o.sessions))
	o.emit.Emit(events.BattleStarted, fmt.Sprintf("%s attacks %s", faction, n.Name), StartedPayload{Session: *s})
	if o.state == Strategic {
		o.setState(Battle)
	}
	return *s, nil
}

// EndBattle applies a tactical result. An attacker win strips control from
// the holder; at zero the node changes hands through the capture
// coordinator, otherwise it stays contested. A defender win adds the bonus.
func (o *Orchestrator) EndBattle(node world.NodeID, result Result, now time.Time) error {
	return o.endBattle(node, result, now, false)
}

func (o *Orchestrator) endBattle(node world.NodeID, result Result, now time.Time, timedOut bool) error {
	s, ok := o.sessions[node]
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeUnknownBattle,
			fmt.Sprintf("no battle at node %d", node), map[string]string{"node": fmt.Sprint(node)})
	}
	if result.Winner != s.Attacker && result.Winner != s.Defender {
		return apperrors.WithMetadata(apperrors.CodeInvalidResult,
			fmt.Sprintf("winner %q is not a side in the battle at node %d", result.Winner, node),
			map[string]string{"node": fmt.Sprint(node), "winner": string(result.Winner)})
	}

	o.setState(Processing)
	err := o.closeSession(s, result, now, timedOut)
	if len(o.sessions) > 0 {
		o.setState(Battle)
	} else {
		o.setState(Strategic)
	}
	return err
}

func (o *Orchestrator) closeSession(s *Session, result Result, now time.Time, timedOut bool) error {
	delete(o.sessions, s.Node)
	s.Active = false
	if err := o.deps.Graph.SetBattleActive(s.Node, false); err != nil {
		slog.Warn("clear battle active failed", "node", s.Node, "error", err)
	}
	o.pin(s.Node, false)

	takeover, err := o.applyResult(s, result, now)
	if err != nil {
		slog.Error("apply battle result failed", "node", s.Node, "error", err)
	}

	slog.Info("battle completed", "node", s.Node, "winner", result.Winner, "takeover", takeover, "timed_out", timedOut)
	o.emit.Emit(events.BattleCompleted, fmt.Sprintf("battle at node %d won by %s", s.Node, result.Winner),
		CompletedPayload{Session: *s, Result: result, Takeover: takeover, TimedOut: timedOut})
	return err
}

func (o *Orchestrator) applyResult(s *Session, result Result, now time.Time) (bool, error) {
	n, ok := o.deps.Graph.Node(s.Node)
	if !ok {
		return false, fmt.Errorf("node %d vanished", s.Node)
	}

	if result.Winner == s.Defender {
		if n.Owner == world.NoFaction {
			return false, nil
		}
		return false, o.deps.Graph.SetControl(s.Node, n.Owner, n.Control+o.cfg.DefenderBonus)
	}

	change := result.ControlChange
	if change <= 0 {
		change = o.cfg.DefaultControlChange
	}
	remaining := n.Control - change
	if n.Owner == world.NoFaction || remaining <= 0 {
		return true, o.deps.Captures.CompleteCapture(s.Node, s.Attacker, now)
	}
	if err := o.deps.Graph.SetControl(s.Node, n.Owner, remaining); err != nil {
		return false, err
	}
	return false, o.deps.Graph.SetContested(s.Node, true, s.Attacker)
}

// Tick forfeits timed-out battles to the defender and checks for victory.
func (o *Orchestrator) Tick(now time.Time) {
	if !o.state.Active() {
		return
	}
	for _, s := range o.Sessions() {
		if now.Sub(s.StartedAt) < o.cfg.BattleTimeout {
			continue
		}
		slog.Info("battle timed out", "node", s.Node, "attacker", s.Attacker, "after", now.Sub(s.StartedAt))
		result := Result{Winner: s.Defender, Loser: s.Attacker, Duration: now.Sub(s.StartedAt)}
		if err := o.endBattle(s.Node, result, now, true); err != nil {
			slog.Warn("timeout resolution failed", "node", s.Node, "error", err)
		}
	}
	o.CheckVictory(now)
}

// Standings computes each faction's victory inputs.
func (o *Orchestrator) Standings() map[world.FactionID]VictoryEnv {
	nodes := o.deps.Graph.Nodes()
	out := make(map[world.FactionID]VictoryEnv, len(o.factions))
	for _, f := range o.factions {
		env := VictoryEnv{
			TotalNodes:     len(nodes),
			Tokens:         o.deps.Treasury.Balance(f),
			MinNodes:       o.cfg.MinNodes,
			MinAvgControl:  o.cfg.MinAvgControl,
			TokenThreshold: o.cfg.TokenThreshold,
		}
		total := 0.0
		for _, n := range nodes {
			if n.Owner == f {
				env.NodesHeld++
				total += n.Control
			}
		}
		if env.NodesHeld > 0 {
			env.AvgControl = total / float64(env.NodesHeld)
		}
		out[f] = env
	}
	return out
}

// CheckVictory ends the war when a faction satisfies the victory rule.
// Factions are checked in order; the first to qualify wins.
func (o *Orchestrator) CheckVictory(now time.Time) (world.FactionID, bool) {
	if !o.state.Active() {
		return world.NoFaction, false
	}
	standings := o.Standings()
	for _, f := range o.factions {
		env := standings[f]
		won, err := o.rule.Eval(env)
		if err != nil {
			slog.Error("victory rule failed", "faction", f, "error", err)
			return world.NoFaction, false
		}
		if !won {
			continue
		}
		reason := "territory"
		if env.Tokens >= env.TokenThreshold {
			reason = "treasury"
		}
		o.end(f, reason, now, standings)
		return f, true
	}
	return world.NoFaction, false
}

func (o *Orchestrator) end(winner world.FactionID, reason string, now time.Time, standings map[world.FactionID]VictoryEnv) {
	// Open sessions close in the winner's favor; a session the winner is not
	// part of goes to the defender.
	for _, s := range o.Sessions() {
		result := Result{Winner: s.Defender, Loser: s.Attacker, Duration: now.Sub(s.StartedAt)}
		if winner == s.Attacker {
			result.Winner, result.Loser = s.Attacker, s.Defender
		}
		if ss, ok := o.sessions[s.Node]; ok {
			_ = o.closeSession(ss, result, now, false)
		}
	}
	o.setState(Ended)

	out := &Outcome{
		Winner:  winner,
		Reason:  reason,
		EndedAt: now,
		Nodes:   make(map[world.FactionID]int, len(standings)),
		Tokens:  make(map[world.FactionID]int, len(standings)),
	}
	for f, env := range standings {
		out.Nodes[f] = env.NodesHeld
		out.Tokens[f] = env.Tokens
	}
	o.outcome = out

	slog.Info("war ended", "winner", winner, "reason", reason,
		"nodes", out.Nodes[winner], "tokens", humanize.Comma(int64(out.Tokens[winner])))
	o.emit.Emit(events.WarEnded, fmt.Sprintf("%s wins by %s", winner, reason), *out)
}

// Fortify spends tokens to raise control over a held node.
func (o *Orchestrator) Fortify(node world.NodeID, faction world.FactionID, tokens int) (float64, error) {
	if !o.state.Active() {
		return 0, ErrNotActive
	}
	n, ok := o.deps.Graph.Node(node)
	if !ok {
		return 0, apperrors.WithMetadata(apperrors.CodeUnknownNode,
			fmt.Sprintf("unknown node %d", node), map[string]string{"node": fmt.Sprint(node)})
	}
	if n.Owner != faction {
		return 0, ErrNotOwned
	}
	if n.Contested || n.BattleActive {
		return 0, ErrUnderAttack
	}
	if tokens <= 0 {
		return 0, apperrors.New(apperrors.CodeInvalidAmount, "amount must be positive")
	}
	if n.Control >= 100 {
		return n.Control, nil
	}

	// Don't charge for control beyond 100.
	if o.cfg.FortifyRate > 0 {
		needed := int((100 - n.Control) / o.cfg.FortifyRate)
		if float64(needed)*o.cfg.FortifyRate < 100-n.Control {
			needed++
		}
		tokens = min(tokens, needed)
	}
	if err := o.deps.Treasury.Spend(faction, tokens, ReasonFortify); err != nil {
		return 0, err
	}
	control := n.Control + float64(tokens)*o.cfg.FortifyRate
	if err := o.deps.Graph.SetControl(node, faction, control); err != nil {
		return 0, err
	}
	after, _ := o.deps.Graph.Node(node)

	o.emit.Emit(events.NodeFortified, fmt.Sprintf("%s fortified %s to %.0f%%", faction, n.Name, after.Control),
		FortifiedPayload{Node: node, Faction: faction, Tokens: tokens, Control: after.Control})
	return after.Control, nil
}

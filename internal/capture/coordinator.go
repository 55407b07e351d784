package capture

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/squads"
	"github.com/talgya/frontline/internal/world"
)

// Occupancy is the per-tick presence view the coordinator evaluates against.
type Occupancy interface {
	Nodes() []world.NodeID
	Manpower(node world.NodeID) map[world.FactionID]int
}

// Territory is the part of the graph the coordinator reads and mutates.
type Territory interface {
	Node(id world.NodeID) (world.Node, bool)
	SetControl(id world.NodeID, faction world.FactionID, pct float64) error
	SetContested(id world.NodeID, contested bool, attacker world.FactionID) error
	NearestOwned(from world.NodeID, faction world.FactionID) (world.NodeID, bool)
}

// Retreater forces losing squads off a captured node.
type Retreater interface {
	SquadsAt(node world.NodeID, faction world.FactionID) []squads.Squad
	Retreat(squadID string, target world.NodeID, now time.Time) error
}

// Coordinator owns every active capture attempt.
type Coordinator struct {
	cfg     Config
	graph   Territory
	occ     Occupancy
	retreat Retreater
	emit    events.Emitter

	attempts map[world.NodeID]*Attempt
	lastEval time.Time
}

// NewCoordinator creates a coordinator with no attempts.
func NewCoordinator(cfg Config, graph Territory, occ Occupancy, retreat Retreater, emit events.Emitter) *Coordinator {
	if emit == nil {
		emit = events.Discard
	}
	return &Coordinator{
		cfg:      cfg,
		graph:    graph,
		occ:      occ,
		retreat:  retreat,
		emit:     emit,
		attempts: make(map[world.NodeID]*Attempt),
	}
}

// Reset drops every attempt and restarts the evaluation clock.
func (c *Coordinator) Reset() {
	clear(c.attempts)
	c.lastEval = time.Time{}
}

// Attempt returns a copy of the node's attempt.
func (c *Coordinator) Attempt(node world.NodeID) (Attempt, bool) {
	a, ok := c.attempts[node]
	if !ok {
		return Attempt{}, false
	}
	return a.clone(), true
}

// Attempts returns copies of every active attempt ordered by node.
func (c *Coordinator) Attempts() []Attempt {
	out := make([]Attempt, 0, len(c.attempts))
	for _, a := range c.attempts {
		out = append(out, a.clone())
	}
	slices.SortFunc(out, func(a, b Attempt) int { return int(a.Node - b.Node) })
	return out
}

// Tick evaluates when the evaluation interval has elapsed. It reports
// whether an evaluation ran.
func (c *Coordinator) Tick(now time.Time) bool {
	if !c.lastEval.IsZero() && now.Sub(c.lastEval) < c.cfg.EvalInterval {
		return false
	}
	c.Evaluate(now)
	return true
}

// Evaluate advances every node's state machine by the time since the last
// evaluation. Nodes with an active battle belong to the tactical engine and
// are skipped.
func (c *Coordinator) Evaluate(now time.Time) {
	var dt time.Duration
	if !c.lastEval.IsZero() {
		dt = max(now.Sub(c.lastEval), 0)
	}
	c.lastEval = now

	for _, id := range c.occ.Nodes() {
		n, ok := c.graph.Node(id)
		if !ok {
			slog.Warn("capture evaluation for unknown node", "node", id)
			continue
		}
		if n.BattleActive {
			continue
		}
		c.evaluateNode(n, c.occ.Manpower(id), dt, now)
	}
}

func (c *Coordinator) evaluateNode(n world.Node, manpower map[world.FactionID]int, dt time.Duration, now time.Time) {
	var attackers []world.FactionID
	for f, m := range manpower {
		if f != n.Owner && m > 0 {
			attackers = append(attackers, f)
		}
	}
	slices.Sort(attackers)
	defenders := 0
	if n.Owner != world.NoFaction {
		defenders = manpower[n.Owner]
	}
	a := c.attempts[n.ID]

	switch {
	case len(attackers) == 0:
		if a == nil {
			// A battle can leave the flag behind with nobody on the node.
			if n.Contested {
				c.release(n)
			}
			return
		}
		if a.State == Contested {
			c.cancel(a, "defender holds")
			return
		}
		c.decay(a, dt, now)

	case len(attackers) == 1 && defenders == 0:
		f := attackers[0]
		if a != nil && a.State == Contested {
			if a.participated(f) {
				c.complete(n, f, now)
				return
			}
			c.cancel(a, "contest abandoned")
			a = nil
		}
		if a != nil && a.Attacker != f {
			c.cancel(a, "replaced by "+string(f))
			a = nil
		}
		if a == nil {
			c.start(n, f, now)
			return
		}
		c.advance(n, a, dt, now)

	case len(attackers) == 1:
		f := attackers[0]
		if a != nil && ((a.State == Capturing && a.Attacker != f) || (a.State == Contested && !a.participated(f))) {
			c.cancel(a, "replaced by "+string(f))
			a = nil
		}
		if a == nil {
			a = c.start(n, f, now)
		}
		a.Attacker = f
		a.Unresolved = false
		c.contest(n, a, now)

	default:
		if a == nil {
			a = c.start(n, attackers[0], now)
		}
		for _, f := range attackers {
			a.join(f)
		}
		a.Attacker = primary(a.Attacker, attackers, manpower)
		a.Unresolved = true
		c.contest(n, a, now)
	}
}

// primary picks the attacker with the largest manpower, keeping the current
// primary on ties and otherwise the lowest faction ID.
func primary(current world.FactionID, attackers []world.FactionID, manpower map[world.FactionID]int) world.FactionID {
	best := world.NoFaction
	for _, f := range attackers {
		switch {
		case best == world.NoFaction, manpower[f] > manpower[best]:
			best = f
		case manpower[f] == manpower[best] && f == current:
			best = f
		}
	}
	return best
}

func (c *Coordinator) start(n world.Node, attacker world.FactionID, now time.Time) *Attempt {
	a := &Attempt{
		ID:           uuid.NewString(),
		Node:         n.ID,
		Attacker:     attacker,
		Defender:     n.Owner,
		State:        Capturing,
		StartedAt:    now,
		Participants: []world.FactionID{attacker},
		lastProgress: now,
	}
	c.attempts[n.ID] = a

	slog.Info("capture started", "node", n.Name, "id", n.ID, "attacker", attacker, "defender", n.Owner)
	c.emit.Emit(events.CaptureStarted, fmt.Sprintf("%s attacking %s", attacker, n.Name), AttemptPayload{Attempt: a.clone()})
	return a
}

func (c *Coordinator) advance(n world.Node, a *Attempt, dt time.Duration, now time.Time) {
	a.elapsed = min(a.elapsed+dt, c.cfg.Duration)
	c.setProgress(a, now)
	if a.Progress >= 1 {
		c.complete(n, a.Attacker, now)
	}
}

// decay bleeds off abandoned progress. Only attempts strictly between zero
// and full progress decay; an attempt with no progress is cancelled outright.
func (c *Coordinator) decay(a *Attempt, dt time.Duration, now time.Time) {
	if a.Progress <= 0 || a.Progress >= 1 {
		c.cancel(a, "abandoned")
		return
	}
	a.elapsed -= time.Duration(float64(dt) * c.cfg.DecayFactor)
	if a.elapsed <= 0 {
		a.elapsed = 0
		a.Progress = 0
		c.cancel(a, "decayed")
		return
	}
	c.setProgress(a, now)
}

func (c *Coordinator) setProgress(a *Attempt, now time.Time) {
	if c.cfg.Duration <= 0 {
		a.Progress = 1
	} else {
		a.Progress = min(max(float64(a.elapsed)/float64(c.cfg.Duration), 0), 1)
	}
	if now.Sub(a.lastProgress) >= c.cfg.ProgressInterval {
		a.lastProgress = now
		c.emit.Emit(events.CaptureProgress,
			fmt.Sprintf("node %d capture %.0f%%", a.Node, a.Progress*100), AttemptPayload{Attempt: a.clone()})
	}
}

func (c *Coordinator) contest(n world.Node, a *Attempt, now time.Time) {
	if err := c.graph.SetContested(n.ID, true, a.Attacker); err != nil {
		slog.Warn("mark contested failed", "node", n.ID, "error", err)
	}
	if a.State == Contested {
		return
	}
	a.State = Contested
	a.ContestedAt = now

	slog.Info("node contested", "node", n.Name, "id", n.ID, "attacker", a.Attacker, "defender", n.Owner, "unresolved", a.Unresolved)
	c.emit.Emit(events.CaptureContested, fmt.Sprintf("%s contested by %s", n.Name, a.Attacker),
		ContestedPayload{Attempt: a.clone(), PrepareTactical: true})
}

func (c *Coordinator) release(n world.Node) {
	if err := c.graph.SetContested(n.ID, false, world.NoFaction); err != nil {
		slog.Warn("clear contested failed", "node", n.ID, "error", err)
		return
	}
	slog.Info("contest lapsed", "node", n.Name, "id", n.ID, "owner", n.Owner)
}

func (c *Coordinator) cancel(a *Attempt, reason string) {
	if a.State == Contested {
		if err := c.graph.SetContested(a.Node, false, world.NoFaction); err != nil {
			slog.Warn("clear contested failed", "node", a.Node, "error", err)
		}
	}
	a.State = Cancelled
	delete(c.attempts, a.Node)

	slog.Debug("capture cancelled", "node", a.Node, "attacker", a.Attacker, "reason", reason)
	c.emit.Emit(events.CaptureCancelled, fmt.Sprintf("capture of node %d cancelled: %s", a.Node, reason),
		AttemptPayload{Attempt: a.clone(), Reason: reason})
}

func (c *Coordinator) complete(n world.Node, owner world.FactionID, now time.Time) {
	if err := c.CompleteCapture(n.ID, owner, now); err != nil {
		slog.Error("complete capture failed", "node", n.ID, "owner", owner, "error", err)
	}
}

// CompleteCapture hands node to newOwner at full control. Squads of the
// previous owner still holding the node retreat to its nearest remaining
// node; with nowhere to go they stay put.
func (c *Coordinator) CompleteCapture(node world.NodeID, newOwner world.FactionID, now time.Time) error {
	n, ok := c.graph.Node(node)
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeUnknownNode,
			fmt.Sprintf("unknown node %d", node), map[string]string{"node": fmt.Sprint(node)})
	}

	prev := n.Owner
	var retreated []string
	if prev != world.NoFaction && prev != newOwner {
		losing := c.retreat.SquadsAt(node, prev)
		if len(losing) > 0 {
			target, ok := c.graph.NearestOwned(node, prev)
			if !ok {
				slog.Warn("no retreat destination", "node", n.Name, "faction", prev, "squads", len(losing))
			} else {
				for _, s := range losing {
					if err := c.retreat.Retreat(s.ID, target, now); err != nil {
						slog.Warn("retreat failed", "squad", s.ID, "error", err)
						continue
					}
					retreated = append(retreated, s.ID)
				}
			}
		}
	}

	if err := c.graph.SetControl(node, newOwner, 100); err != nil {
		return err
	}
	if err := c.graph.SetContested(node, false, world.NoFaction); err != nil {
		return err
	}

	payload := CompletedPayload{Node: node, Owner: newOwner, PreviousOwner: prev, Retreated: retreated}
	if a, ok := c.attempts[node]; ok {
		a.State = Completed
		a.Progress = 1
		payload.AttemptID = a.ID
		delete(c.attempts, node)
	}

	slog.Info("capture completed", "node", n.Name, "id", node, "owner", newOwner, "previous", prev, "retreated", len(retreated))
	c.emit.Emit(events.CaptureCompleted, fmt.Sprintf("%s taken by %s", n.Name, newOwner), payload)
	return nil
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/frontline/internal/capture"
	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/occupancy"
	"github.com/talgya/frontline/internal/squads"
	"github.com/talgya/frontline/internal/war"
	"github.com/talgya/frontline/internal/world"
)

// queryLimit reads ?limit= within (0, ceiling], falling back to def.
func queryLimit(r *http.Request, def, ceiling int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= ceiling {
			return n
		}
	}
	return def
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Eng.Snapshot()
	bus := s.Eng.Simulation().Bus

	status := map[string]any{
		"name":           "Frontline",
		"tick":           snap.Tick,
		"sim_time":       snap.Clock,
		"state":          snap.State,
		"speed":          s.Eng.Speed(),
		"nodes":          len(snap.Nodes),
		"factions":       len(snap.Factions),
		"squads":         len(snap.Squads),
		"captures":       len(snap.Captures),
		"battles":        len(snap.Battles),
		"next_cycle":     snap.NextCycle,
		"next_cycle_in":  snap.NextCycle.Sub(snap.At).Round(time.Second).String(),
		"dropped_events": bus.Dropped(),
		"journal":        s.Journal != nil,
	}
	if snap.Outcome != nil {
		status["outcome"] = snap.Outcome
	}
	writeJSON(w, status)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Eng.Snapshot())
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.Eng.Snapshot().Nodes
	if owner := r.URL.Query().Get("owner"); owner != "" {
		filtered := make([]world.Node, 0, len(nodes))
		for _, n := range nodes {
			if string(n.Owner) == owner {
				filtered = append(filtered, n)
			}
		}
		nodes = filtered
	}
	writeJSON(w, nodes)
}

// handleNodeDetail returns one node with everything happening on it.
func (s *Server) handleNodeDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid node id", http.StatusBadRequest)
		return
	}
	snap := s.Eng.Snapshot()
	node, ok := snap.Node(world.NodeID(id))
	if !ok {
		writeError(w, world.ErrUnknownNode)
		return
	}

	type detail struct {
		Node      world.Node               `json:"node"`
		Occupancy *occupancy.NodeOccupancy `json:"occupancy,omitempty"`
		Capture   *capture.Attempt         `json:"capture,omitempty"`
		Battle    *war.Session             `json:"battle,omitempty"`
		Squads    []squads.Squad           `json:"squads"`
	}
	d := detail{Node: node, Squads: []squads.Squad{}}
	for i := range snap.Occupancy {
		if snap.Occupancy[i].Node == node.ID {
			d.Occupancy = &snap.Occupancy[i]
		}
	}
	for i := range snap.Captures {
		if snap.Captures[i].Node == node.ID {
			d.Capture = &snap.Captures[i]
		}
	}
	for i := range snap.Battles {
		if snap.Battles[i].Node == node.ID {
			d.Battle = &snap.Battles[i]
		}
	}
	for _, sq := range snap.Squads {
		if sq.Node == node.ID || sq.Destination == node.ID {
			d.Squads = append(d.Squads, sq)
		}
	}
	writeJSON(w, d)
}

func (s *Server) handleFactions(w http.ResponseWriter, r *http.Request) {
	snap := s.Eng.Snapshot()
	type factionEntry struct {
		ID         world.FactionID `json:"id"`
		Name       string          `json:"name"`
		Color      string          `json:"color"`
		Capital    world.NodeID    `json:"capital"`
		Players    int             `json:"players"`
		Balance    int             `json:"balance"`
		Treasury   string          `json:"treasury"`
		NodesHeld  int             `json:"nodes_held"`
		AvgControl float64         `json:"avg_control"`
	}
	out := make([]factionEntry, 0, len(snap.Factions))
	for _, f := range snap.Factions {
		out = append(out, factionEntry{
			ID:         f.ID,
			Name:       f.Name,
			Color:      f.Color,
			Capital:    f.Capital,
			Players:    f.Players,
			Balance:    f.Balance,
			Treasury:   humanize.Comma(int64(f.Balance)),
			NodesHeld:  f.NodesHeld,
			AvgControl: f.AvgControl,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleSquads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	player, faction := q.Get("player"), q.Get("faction")

	out := []squads.Squad{}
	for _, sq := range s.Eng.Snapshot().Squads {
		if player != "" && sq.Owner != player {
			continue
		}
		if faction != "" && string(sq.Faction) != faction {
			continue
		}
		out = append(out, sq)
	}
	writeJSON(w, out)
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Eng.Snapshot().Captures)
}

func (s *Server) handleBattles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Eng.Snapshot().Battles)
}

// handleEvents serves recent events from the in-memory ring.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 1000)
	bus := s.Eng.Simulation().Bus

	var list []events.Event
	if kind := r.URL.Query().Get("kind"); kind != "" {
		list = bus.Filter(events.Kind(kind))
		if len(list) > limit {
			list = list[len(list)-limit:]
		}
	} else {
		list = bus.Recent(limit)
	}
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, list)
}

// handleHistory serves journaled events, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		http.Error(w, "journal not available", http.StatusServiceUnavailable)
		return
	}
	recs, err := s.Journal.RecentEvents(queryLimit(r, 100, 5000), r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleBattleHistory(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		http.Error(w, "journal not available", http.StatusServiceUnavailable)
		return
	}
	recs, err := s.Journal.BattleHistory(queryLimit(r, 50, 1000))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, recs)
}

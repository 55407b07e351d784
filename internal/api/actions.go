package api

import (
	"net/http"

	"github.com/talgya/frontline/internal/engine"
)

// Each action handler decodes its command body and hands it to the engine.
// Rejections come back as {"error", "code"} with the mapped status.

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var cmd engine.JoinPlayer
	if decode(w, r, &cmd) {
		s.submit(w, r, cmd)
	}
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var cmd engine.LeavePlayer
	if decode(w, r, &cmd) {
		s.submit(w, r, cmd)
	}
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var cmd engine.MoveSquad
	if decode(w, r, &cmd) {
		s.submit(w, r, cmd)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var cmd engine.CancelMovement
	if decode(w, r, &cmd) {
		s.submit(w, r, cmd)
	}
}

func (s *Server) handleResupply(w http.ResponseWriter, r *http.Request) {
	var cmd engine.Resupply
	if decode(w, r, &cmd) {
		s.submit(w, r, cmd)
	}
}

func (s *Server) handleRequestBattle(w http.ResponseWriter, r *http.Request) {
	var cmd engine.RequestBattle
	if decode(w, r, &cmd) {
		s.submit(w, r, cmd)
	}
}

func (s *Server) handleTicket(w http.ResponseWriter, r *http.Request) {
	var cmd engine.RequestSpawnTicket
	if decode(w, r, &cmd) {
		s.submit(w, r, cmd)
	}
}

func (s *Server) handleFortify(w http.ResponseWriter, r *http.Request) {
	var cmd engine.Fortify
	if decode(w, r, &cmd) {
		s.submit(w, r, cmd)
	}
}

// handleBattleResult is called by the tactical engine when a battle ends.
func (s *Server) handleBattleResult(w http.ResponseWriter, r *http.Request) {
	var cmd engine.ReportBattleResult
	if decode(w, r, &cmd) {
		s.submit(w, r, cmd)
	}
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var cmd engine.GrantTokens
	if !decode(w, r, &cmd) {
		return
	}
	out, err := s.Eng.Submit(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"faction": cmd.Faction, "balance": out})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.submitState(w, r, engine.StartWar{})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.submitState(w, r, engine.ResetWar{})
}

func (s *Server) submitState(w http.ResponseWriter, r *http.Request, cmd engine.Command) {
	out, err := s.Eng.Submit(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"state": out})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req engine.SetSpeed
	if !decode(w, r, &req) {
		return
	}
	if req.Speed < 0 || req.Speed > 1000 {
		http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
		return
	}
	out, err := s.Eng.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"speed": out})
}

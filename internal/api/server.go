// Package api provides the HTTP API for the war.
// GET endpoints are public (read-only observation). Player actions are public
// but rate limited per IP. Operator and tactical-engine endpoints require the
// admin bearer token; the SSE stream requires the relay token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/config"
	"github.com/talgya/frontline/internal/engine"
	"github.com/talgya/frontline/internal/persistence"
)

const (
	maxSSEConns  = 8
	maxBodyBytes = 1 << 16
)

// Server serves the war state over HTTP.
type Server struct {
	Eng     *engine.Engine
	Journal *persistence.DB // optional; history endpoints return 503 without it
	Config  config.Server

	sseConns int32
	wsConns  int32
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	actions := NewRateLimiter(s.Config.RateLimit, s.Config.RateBurst)
	limited := func(h http.HandlerFunc) http.HandlerFunc { return RateLimitMiddleware(actions, h) }

	mux := http.NewServeMux()

	// Public observation.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/v1/nodes", s.handleNodes)
	mux.HandleFunc("GET /api/v1/node/{id}", s.handleNodeDetail)
	mux.HandleFunc("GET /api/v1/factions", s.handleFactions)
	mux.HandleFunc("GET /api/v1/squads", s.handleSquads)
	mux.HandleFunc("GET /api/v1/captures", s.handleCaptures)
	mux.HandleFunc("GET /api/v1/battles", s.handleBattles)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/history/battles", s.handleBattleHistory)
	mux.HandleFunc("GET /api/v1/ws", s.handleWebSocket)

	// SSE streaming (relay token).
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	// Player actions.
	mux.HandleFunc("POST /api/v1/players", limited(s.handleJoin))
	mux.HandleFunc("POST /api/v1/players/leave", limited(s.handleLeave))
	mux.HandleFunc("POST /api/v1/squads/move", limited(s.handleMove))
	mux.HandleFunc("POST /api/v1/squads/cancel", limited(s.handleCancel))
	mux.HandleFunc("POST /api/v1/squads/resupply", limited(s.handleResupply))
	mux.HandleFunc("POST /api/v1/battles", limited(s.handleRequestBattle))
	mux.HandleFunc("POST /api/v1/tickets", limited(s.handleTicket))
	mux.HandleFunc("POST /api/v1/fortify", limited(s.handleFortify))

	// Operator and tactical engine.
	mux.HandleFunc("POST /api/v1/battles/result", s.adminOnly(s.handleBattleResult))
	mux.HandleFunc("POST /api/v1/admin/grant", s.adminOnly(s.handleGrant))
	mux.HandleFunc("POST /api/v1/admin/start", s.adminOnly(s.handleStart))
	mux.HandleFunc("POST /api/v1/admin/reset", s.adminOnly(s.handleReset))
	mux.HandleFunc("POST /api/v1/admin/speed", s.adminOnly(s.handleSpeed))

	return corsMiddleware(s.Config.AllowedOrigin, mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", srv.Addr,
		"admin_auth", s.Config.AdminKey != "", "relay_auth", s.Config.RelayKey != "", "journal", s.Journal != nil)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// corsMiddleware adds CORS headers. allowed is "*" or a comma-separated
// list of origins.
func corsMiddleware(allowed string, next http.Handler) http.Handler {
	origins := map[string]bool{}
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (origins["*"] || origins[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// adminOnly requires the admin bearer token.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Config.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no WARSIM_SERVER_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if bearer(r) != s.Config.AdminKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// submit hands cmd to the engine and writes the result or the rejection.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, cmd engine.Command) {
	out, err := s.Eng.Submit(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, out)
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

type errorBody struct {
	Error    string            `json:"error"`
	Code     apperrors.Code    `json:"code"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// writeError maps domain codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error(), Code: apperrors.CodeOf(err)}
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		body.Metadata = ae.Metadata
	}

	status := body.Code.HTTPStatus()
	switch {
	case errors.Is(err, engine.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "code", body.Code, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

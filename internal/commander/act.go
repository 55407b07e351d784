package commander

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/engine"
)

// routes maps player commands to their action endpoints.
var routes = map[string]string{
	engine.JoinPlayer{}.Name():         "/api/v1/players",
	engine.LeavePlayer{}.Name():        "/api/v1/players/leave",
	engine.MoveSquad{}.Name():          "/api/v1/squads/move",
	engine.CancelMovement{}.Name():     "/api/v1/squads/cancel",
	engine.Resupply{}.Name():           "/api/v1/squads/resupply",
	engine.RequestBattle{}.Name():      "/api/v1/battles",
	engine.RequestSpawnTicket{}.Name(): "/api/v1/tickets",
	engine.Fortify{}.Name():            "/api/v1/fortify",
}

// Rejection is a command the authority refused.
type Rejection struct {
	Status  int
	Code    apperrors.Code
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected (%d %s): %s", r.Status, r.Code, r.Message)
}

// Actor submits orders through the player action API.
type Actor struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL.
func NewActor(baseURL string) *Actor {
	return &Actor{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Act posts cmd and returns the raw result. A refused command comes back as
// a *Rejection.
func (a *Actor) Act(ctx context.Context, cmd engine.Command) (json.RawMessage, error) {
	path, ok := routes[cmd.Name()]
	if !ok {
		return nil, fmt.Errorf("no route for %s", cmd.Name())
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", cmd.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		rej := &Rejection{Status: resp.StatusCode, Message: string(bytes.TrimSpace(respBody))}
		var e struct {
			Error string         `json:"error"`
			Code  apperrors.Code `json:"code"`
		}
		if json.Unmarshal(respBody, &e) == nil && e.Code != "" {
			rej.Code, rej.Message = e.Code, e.Error
		}
		return nil, rej
	}
	return respBody, nil
}

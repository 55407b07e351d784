package commander

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/talgya/frontline/internal/apperrors"
	"github.com/talgya/frontline/internal/world"
)

const (
	maxRecords  = 10
	avoidCycles = 3 // how many recent cycles a refused target is skipped for
)

// Refusal is one order the authority turned down.
type Refusal struct {
	Command string         `json:"command"`
	Node    world.NodeID   `json:"node"`
	Code    apperrors.Code `json:"code"`
}

// CycleRecord captures what happened in a single commander cycle.
type CycleRecord struct {
	Tick      uint64    `json:"tick"`
	Posture   Posture   `json:"posture"`
	Balance   int       `json:"balance"`
	NodesHeld int       `json:"nodes_held"`
	Orders    int       `json:"orders"`
	Refused   []Refusal `json:"refused,omitempty"`
}

// CycleMemory manages a ring of recent cycle records.
type CycleMemory struct {
	Records []CycleRecord `json:"records"`
}

// LoadMemory reads the memory file from disk. Returns empty memory if the
// path is empty or the file is missing.
func LoadMemory(path string) *CycleMemory {
	if path == "" {
		return &CycleMemory{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &CycleMemory{}
	}
	var mem CycleMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		slog.Warn("commander memory corrupted, starting fresh", "error", err)
		return &CycleMemory{}
	}
	return &mem
}

// Save writes the memory to disk.
func (m *CycleMemory) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	return nil
}

// Record adds a cycle record, trimming to maxRecords.
func (m *CycleMemory) Record(r CycleRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// Refused reports whether cmd against node was turned down recently.
func (m *CycleMemory) Refused(cmd string, node world.NodeID) bool {
	start := max(0, len(m.Records)-avoidCycles)
	for _, r := range m.Records[start:] {
		for _, f := range r.Refused {
			if f.Command == cmd && f.Node == node {
				return true
			}
		}
	}
	return false
}

// Package persistence keeps a SQLite journal of war events and battle
// results for history queries. The journal is a record, never the source of
// truth: the authority runs entirely in memory.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/frontline/internal/events"
	"github.com/talgya/frontline/internal/war"
	"github.com/talgya/frontline/internal/world"
)

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

const (
	flushEvery = time.Second
	flushBatch = 100
)

// DB wraps a SQLite connection for the journal.
type DB struct {
	conn *sqlx.DB
}

// EventRecord is a journaled event.
type EventRecord struct {
	Seq         uint64          `db:"seq" json:"seq"`
	AtMillis    int64           `db:"at_ms" json:"-"`
	At          time.Time       `db:"-" json:"at"`
	Kind        string          `db:"kind" json:"kind"`
	Domain      string          `db:"domain" json:"domain"`
	Description string          `db:"description" json:"description"`
	PayloadText string          `db:"payload" json:"-"`
	Payload     json.RawMessage `db:"-" json:"payload,omitempty"`
}

// BattleRecord is one finished battle.
type BattleRecord struct {
	ID            string          `db:"id" json:"id"`
	Node          world.NodeID    `db:"node" json:"node"`
	Attacker      world.FactionID `db:"attacker" json:"attacker"`
	Defender      world.FactionID `db:"defender" json:"defender"`
	Winner        world.FactionID `db:"winner" json:"winner"`
	StartedMillis int64           `db:"started_ms" json:"-"`
	EndedMillis   int64           `db:"ended_ms" json:"-"`
	StartedAt     time.Time       `db:"-" json:"started_at"`
	EndedAt       time.Time       `db:"-" json:"ended_at"`
	ControlChange float64         `db:"control_change" json:"control_change"`
	Takeover      bool            `db:"takeover" json:"takeover"`
	TimedOut      bool            `db:"timed_out" json:"timed_out"`
}

// Open opens or creates a SQLite database at the given path. MemoryPath
// gives a journal that lives as long as the DB.
func Open(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == MemoryPath {
		dsn = path
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER NOT NULL,
		at_ms INTEGER NOT NULL,
		kind TEXT NOT NULL,
		domain TEXT NOT NULL,
		description TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS battles (
		id TEXT PRIMARY KEY,
		node INTEGER NOT NULL,
		attacker TEXT NOT NULL,
		defender TEXT NOT NULL,
		winner TEXT NOT NULL,
		started_ms INTEGER NOT NULL,
		ended_ms INTEGER NOT NULL,
		control_change REAL NOT NULL,
		takeover INTEGER NOT NULL,
		timed_out INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS war_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_seq ON events(seq);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	CREATE INDEX IF NOT EXISTS idx_battles_ended ON battles(ended_ms);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveEvents appends events in one transaction. Battle completions are also
// written to the battles table and the war outcome to metadata.
func (db *DB) SaveEvents(batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range batch {
		var payload []byte
		if e.Payload != nil {
			payload, err = json.Marshal(e.Payload)
			if err != nil {
				return fmt.Errorf("encode event %d payload: %w", e.Seq, err)
			}
		}
		_, err = tx.Exec(
			"INSERT INTO events (seq, at_ms, kind, domain, description, payload) VALUES (?, ?, ?, ?, ?, ?)",
			e.Seq, e.At.UnixMilli(), string(e.Kind), e.Kind.Domain(), e.Description, string(payload),
		)
		if err != nil {
			return fmt.Errorf("insert event %d: %w", e.Seq, err)
		}

		switch p := e.Payload.(type) {
		case war.CompletedPayload:
			if err := insertBattle(tx, p, e.At); err != nil {
				return err
			}
		case war.Outcome:
			if _, err := tx.Exec("INSERT OR REPLACE INTO war_meta (key, value) VALUES (?, ?)",
				"outcome", string(payload)); err != nil {
				return fmt.Errorf("save outcome: %w", err)
			}
		}
	}

	return tx.Commit()
}

func insertBattle(tx *sqlx.Tx, p war.CompletedPayload, ended time.Time) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO battles
		(id, node, attacker, defender, winner, started_ms, ended_ms, control_change, takeover, timed_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Session.ID, p.Session.Node, string(p.Session.Attacker), string(p.Session.Defender),
		string(p.Result.Winner), p.Session.StartedAt.UnixMilli(), ended.UnixMilli(),
		p.Result.ControlChange, p.Takeover, p.TimedOut,
	)
	if err != nil {
		return fmt.Errorf("insert battle %s: %w", p.Session.ID, err)
	}
	return nil
}

// Follow journals events from ch until ctx is done or ch is closed. Writes
// are batched; whatever is pending is flushed before returning.
func (db *DB) Follow(ctx context.Context, ch <-chan events.Event) error {
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	var pending []events.Event
	flush := func() {
		if err := db.SaveEvents(pending); err != nil {
			slog.Error("journal write failed", "events", len(pending), "error", err)
		}
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				flush()
				return nil
			}
			pending = append(pending, e)
			if len(pending) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// SaveMeta stores a key-value pair in war metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO war_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM war_meta WHERE key = ?", key)
	return value, err
}

// RecentEvents returns the most recent events, newest first. A non-empty
// kind restricts the result to that kind.
func (db *DB) RecentEvents(limit int, kind string) ([]EventRecord, error) {
	var out []EventRecord
	var err error
	if kind == "" {
		err = db.conn.Select(&out,
			"SELECT seq, at_ms, kind, domain, description, payload FROM events ORDER BY seq DESC LIMIT ?",
			limit)
	} else {
		err = db.conn.Select(&out,
			"SELECT seq, at_ms, kind, domain, description, payload FROM events WHERE kind = ? ORDER BY seq DESC LIMIT ?",
			kind, limit)
	}
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].At = time.UnixMilli(out[i].AtMillis).UTC()
		if out[i].PayloadText != "" {
			out[i].Payload = json.RawMessage(out[i].PayloadText)
		}
	}
	return out, nil
}

// BattleHistory returns finished battles, most recent first.
func (db *DB) BattleHistory(limit int) ([]BattleRecord, error) {
	var out []BattleRecord
	err := db.conn.Select(&out,
		`SELECT id, node, attacker, defender, winner, started_ms, ended_ms, control_change, takeover, timed_out
		FROM battles ORDER BY ended_ms DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].StartedAt = time.UnixMilli(out[i].StartedMillis).UTC()
		out[i].EndedAt = time.UnixMilli(out[i].EndedMillis).UTC()
	}
	return out, nil
}

// Outcome returns the journaled war outcome, if the war has ended.
func (db *DB) Outcome() (war.Outcome, bool, error) {
	raw, err := db.GetMeta("outcome")
	if errors.Is(err, sql.ErrNoRows) {
		return war.Outcome{}, false, nil
	}
	if err != nil {
		return war.Outcome{}, false, err
	}
	var out war.Outcome
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return war.Outcome{}, false, fmt.Errorf("decode outcome: %w", err)
	}
	return out, true, nil
}

// Package journal keeps an append-only PostgreSQL record of announcement
// outcomes for operators. It is never read back into the registry.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Outcome is the result of one announcement.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Event is a single journal row.
type Event struct {
	ID      uuid.UUID `json:"id"`
	Client  string    `json:"client"`
	Domain  string    `json:"domain"`
	Port    uint16    `json:"port"`
	Name    string    `json:"name"`
	Outcome Outcome   `json:"outcome"`
	At      time.Time `json:"at"`
}

// Journal writes events through database/sql.
type Journal struct {
	db *sql.DB
}

// Open connects to url with the pgx driver, pings it and applies migrations.
func Open(ctx context.Context, url string) (*Journal, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal db: %w", err)
	}
	j := New(db)
	if err := j.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Migrate creates the announcements table when missing.
func (j *Journal) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS announcements (
			id UUID PRIMARY KEY,
			client TEXT NOT NULL,
			domain TEXT NOT NULL,
			port INTEGER NOT NULL,
			name TEXT NOT NULL,
			outcome TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS announcements_at_idx ON announcements (at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// Record appends ev, filling ID and At when unset.
func (j *Journal) Record(ctx context.Context, ev Event) error {
	if j == nil || j.db == nil {
		return nil
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO announcements (id, client, domain, port, name, outcome, at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID.String(), ev.Client, ev.Domain, int(ev.Port), ev.Name, string(ev.Outcome), ev.At,
	)
	if err != nil {
		return fmt.Errorf("record announcement: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, client, domain, port, name, outcome, at
		FROM announcements
		ORDER BY at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			ev      Event
			id      string
			port    int
			outcome string
		)
		if err := rows.Scan(&id, &ev.Client, &ev.Domain, &port, &ev.Name, &outcome, &ev.At); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("journal row id %q: %w", id, err)
		}
		ev.Port = uint16(port)
		ev.Outcome = Outcome(outcome)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Ping checks the connection.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Close releases the handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Package journal keeps a durable SQLite record of pipeline events: inbound
// messages, routing, capability failures and deliveries.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"relaybot/internal/bus"
)

// Entry is one journaled event.
type Entry struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source,omitempty"`
	EventID   string         `json:"eventId,omitempty"`
	SenderID  string         `json:"senderId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// SQLiteJournal stores entries in a single SQLite file.
type SQLiteJournal struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*SQLiteJournal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteJournal{db: db, logger: logger}, nil
}

// Record appends an entry. ID and CreatedAt are filled in when empty.
func (j *SQLiteJournal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	payload := []byte("{}")
	if len(e.Payload) > 0 {
		var err error
		if payload, err = json.Marshal(e.Payload); err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries (id, type, source, event_id, sender_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.Source, e.EventID, e.SenderID, string(payload), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Recent returns the newest n entries, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, type, source, event_id, sender_id, payload, created_at
		 FROM entries ORDER BY created_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			payload string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &e.EventID, &e.SenderID, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if payload != "" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				j.logger.Warn("journal payload unreadable", "id", e.ID, "err", err)
			}
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than before and reports how many were removed.
func (j *SQLiteJournal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM entries WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune entries: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored entries.
func (j *SQLiteJournal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Subscribe journals every event emitted on eb and returns the handler ID
// for EventBus.Off.
func (j *SQLiteJournal) Subscribe(eb *bus.EventBus) string {
	return eb.On("*", func(ev bus.Event) {
		err := j.Record(context.Background(), Entry{
			Type:      ev.Type,
			Source:    ev.Source,
			EventID:   ev.EventID,
			SenderID:  ev.SenderID,
			Payload:   ev.Payload,
			CreatedAt: ev.Timestamp,
		})
		if err != nil {
			j.logger.Error("journal write failed", "event", ev.Type, "err", err)
		}
	})
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
  event_id  TEXT PRIMARY KEY,
  timestamp TEXT NOT NULL,
  type      TEXT NOT NULL,
  player_id TEXT,
  room_name TEXT,
  payload   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_player ON events(player_id, timestamp);
`

// DB holds separate read and write connections. With WAL mode readers do
// not block the writer; a single write connection serializes inserts the
// way SQLite wants them anyway.
type DB struct {
	reader *sql.DB
	writer *sql.DB
}

// Open opens (creating if needed) the history database.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("history db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	writer, err := sql.Open("sqlite3", path+"?_journal=WAL&_busy_timeout=5000&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	if _, err := writer.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := writer.Exec(schemaSQL); err != nil {
		writer.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	reader, err := sql.Open("sqlite3", path+"?_journal=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(2)

	return &DB{reader: reader, writer: writer}, nil
}

func (d *DB) Close() error {
	var errs []error
	if err := d.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}
	if err := d.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Record is one journaled event row.
type Record struct {
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	PlayerID  string    `json:"playerId,omitempty"`
	RoomName  string    `json:"roomName,omitempty"`
	Payload   any       `json:"payload"`
}

// QueryFilters narrows a journal query. Zero values mean no filter.
type QueryFilters struct {
	Type     string
	PlayerID string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// Insert journals one event. A missing event id gets a fresh UUID.
func (d *DB) Insert(rec Record) error {
	if rec.EventID == "" {
		rec.EventID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	_, err = d.writer.Exec(`
		INSERT INTO events (event_id, timestamp, type, player_id, room_name, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.EventID, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Type, rec.PlayerID, rec.RoomName, string(payload))
	return err
}

// Query returns matching rows newest first, plus the unpaged total.
func (d *DB) Query(filters QueryFilters) ([]Record, int, error) {
	where, args := buildWhere(filters)

	var total int
	if err := d.reader.QueryRow("SELECT COUNT(*) FROM events "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.reader.Query(`
		SELECT event_id, timestamp, type, player_id, room_name, payload
		FROM events `+where+`
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, filters.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			rec       Record
			timestamp string
			playerID  sql.NullString
			roomName  sql.NullString
			payload   string
		)
		if err := rows.Scan(&rec.EventID, &timestamp, &rec.Type, &playerID, &roomName, &payload); err != nil {
			return nil, 0, err
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		rec.PlayerID = playerID.String
		rec.RoomName = roomName.String
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Prune deletes rows older than the cutoff. Returns rows deleted.
func (d *DB) Prune(cutoff time.Time) (int64, error) {
	result, err := d.writer.Exec(
		"DELETE FROM events WHERE timestamp < ?",
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func buildWhere(filters QueryFilters) (string, []any) {
	conditions := []string{}
	args := []any{}

	if filters.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filters.Type)
	}
	if filters.PlayerID != "" {
		conditions = append(conditions, "player_id = ?")
		args = append(args, filters.PlayerID)
	}
	if !filters.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filters.Since.UTC().Format(time.RFC3339Nano))
	}
	if !filters.Until.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filters.Until.UTC().Format(time.RFC3339Nano))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// Package store provides the persistence tiers for bin state: a SQLite
// primary database (which also holds notifications, the waste-item audit log
// and bin assignments) and a JSON file used as the fallback tier.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// ErrCorrupt is returned when stored bin state fails validation.
var ErrCorrupt = errors.New("store: corrupt bin state")

// DefaultNotificationLimit is the notification history kept per session key.
const DefaultNotificationLimit = 100

// Schema for the bin-sensor database.
const schema = `
CREATE TABLE IF NOT EXISTS bin_levels (
    session_key     TEXT NOT NULL,
    category        TEXT NOT NULL,
    fill_level      INTEGER NOT NULL,
    status          TEXT NOT NULL,
    last_event_ns   INTEGER,
    updated_ns      INTEGER NOT NULL,
    PRIMARY KEY (session_key, category)
);

CREATE TABLE IF NOT EXISTS notifications (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_key     TEXT NOT NULL,
    category        TEXT NOT NULL,
    level           INTEGER NOT NULL,
    severity        TEXT NOT NULL,
    message         TEXT NOT NULL,
    created_ns      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_session ON notifications(session_key, id);

CREATE TABLE IF NOT EXISTS waste_items (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    bin_id          TEXT NOT NULL,
    category        TEXT NOT NULL,
    operator        TEXT NOT NULL,
    recorded_ns     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_waste_items_bin ON waste_items(bin_id, recorded_ns);

CREATE TABLE IF NOT EXISTS bin_assignments (
    operator        TEXT NOT NULL,
    bin_id          TEXT NOT NULL,
    name            TEXT NOT NULL DEFAULT '',
    location        TEXT NOT NULL DEFAULT '',
    assigned_ns     INTEGER NOT NULL,
    PRIMARY KEY (operator, bin_id)
);
`

// Assignment is a bin assigned to an operator.
type Assignment struct {
	BinID    string `json:"bin_id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// SQLite is the primary persistence tier.
type SQLite struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and applies the schema.
func Open(path string) (*SQLite, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Name identifies the tier in logs and metrics.
func (s *SQLite) Name() string { return "primary" }

// Read returns the stored state for key. found is false when nothing is stored.
// Rows that do not form a valid four-bin state yield ErrCorrupt.
func (s *SQLite) Read(ctx context.Context, key string) (logic.BinState, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, fill_level, status, last_event_ns
		FROM bin_levels WHERE session_key = ?`, key)
	if err != nil {
		return logic.BinState{}, false, fmt.Errorf("query bin levels: %w", err)
	}
	defer rows.Close()

	var bins []logic.CategoryBin
	for rows.Next() {
		var b logic.CategoryBin
		var cat, status string
		var lastNs sql.NullInt64
		if err := rows.Scan(&cat, &b.FillLevel, &status, &lastNs); err != nil {
			return logic.BinState{}, false, fmt.Errorf("scan bin level: %w", err)
		}
		b.Category = logic.Category(cat)
		b.Status = logic.Status(status)
		if lastNs.Valid {
			b.LastEventAt = time.Unix(0, lastNs.Int64).UTC()
		}
		bins = append(bins, b)
	}
	if err := rows.Err(); err != nil {
		return logic.BinState{}, false, fmt.Errorf("iterate bin levels: %w", err)
	}

	if len(bins) == 0 {
		return logic.BinState{}, false, nil
	}

	state, err := logic.FromBins(bins)
	if err != nil {
		return logic.BinState{}, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return state, true, nil
}

// Write replaces the stored state for key with all four bins in one transaction.
func (s *SQLite) Write(ctx context.Context, key string, state logic.BinState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bin_levels (session_key, category, fill_level, status, last_event_ns, updated_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key, category) DO UPDATE SET
			fill_level = excluded.fill_level,
			status = excluded.status,
			last_event_ns = excluded.last_event_ns,
			updated_ns = excluded.updated_ns`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, b := range state.Bins {
		var lastNs sql.NullInt64
		if !b.LastEventAt.IsZero() {
			lastNs = sql.NullInt64{Int64: b.LastEventAt.UnixNano(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, key, string(b.Category), b.FillLevel, string(b.Status), lastNs, now); err != nil {
			return fmt.Errorf("upsert %s: %w", b.Category, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AppendNotification stores n for key and trims the history to the newest limit rows.
func (s *SQLite) AppendNotification(ctx context.Context, key string, n logic.Notification, limit int) error {
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notifications (session_key, category, level, severity, message, created_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		key, string(n.Category), n.Level, string(n.Severity), n.Message, n.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE session_key = ? AND id NOT IN (
			SELECT id FROM notifications WHERE session_key = ? ORDER BY id DESC LIMIT ?
		)`, key, key, limit,
	); err != nil {
		return fmt.Errorf("trim notifications: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RecentNotifications returns up to limit notifications for key, oldest first.
func (s *SQLite) RecentNotifications(ctx context.Context, key string, limit int) ([]logic.Notification, error) {
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, level, severity, message, created_ns FROM (
			SELECT id, category, level, severity, message, created_ns
			FROM notifications WHERE session_key = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []logic.Notification
	for rows.Next() {
		var n logic.Notification
		var cat, sev string
		var createdNs int64
		if err := rows.Scan(&cat, &n.Level, &sev, &n.Message, &createdNs); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Category = logic.Category(cat)
		n.Severity = logic.Severity(sev)
		n.CreatedAt = time.Unix(0, createdNs).UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// AppendWasteItem inserts one audit row.
func (s *SQLite) AppendWasteItem(ctx context.Context, rec logic.WasteItemRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO waste_items (bin_id, category, operator, recorded_ns)
		VALUES (?, ?, ?, ?)`,
		rec.BinID, string(rec.Category), rec.OperatorIdentity, rec.RecordedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert waste item: %w", err)
	}
	return nil
}

// WasteItems returns every audit row for binID, oldest first.
func (s *SQLite) WasteItems(ctx context.Context, binID string) ([]logic.WasteItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bin_id, category, operator, recorded_ns
		FROM waste_items WHERE bin_id = ? ORDER BY recorded_ns ASC, id ASC`, binID)
	if err != nil {
		return nil, fmt.Errorf("query waste items: %w", err)
	}
	defer rows.Close()

	var out []logic.WasteItemRecord
	for rows.Next() {
		var r logic.WasteItemRecord
		var cat string
		var ns int64
		if err := rows.Scan(&r.BinID, &cat, &r.OperatorIdentity, &ns); err != nil {
			return nil, fmt.Errorf("scan waste item: %w", err)
		}
		r.Category = logic.Category(cat)
		r.RecordedAt = time.Unix(0, ns).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// AssignBin assigns a bin to an operator, replacing name and location if already assigned.
func (s *SQLite) AssignBin(ctx context.Context, operator string, a Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bin_assignments (operator, bin_id, name, location, assigned_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(operator, bin_id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location`,
		operator, a.BinID, a.Name, a.Location, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("assign bin: %w", err)
	}
	return nil
}

// Assignments returns the bins assigned to operator, oldest assignment first.
func (s *SQLite) Assignments(ctx context.Context, operator string) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bin_id, name, location FROM bin_assignments
		WHERE operator = ? ORDER BY assigned_ns ASC, bin_id ASC`, operator)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.BinID, &a.Name, &a.Location); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

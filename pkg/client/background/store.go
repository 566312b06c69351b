package background

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const badgeKey = "badge_count"

// Entry is one staged notification
type Entry struct {
	ID         string
	Payload    Payload
	ReceivedAt time.Time
	Handled    bool
}

type storedPayload struct {
	Variant Variant `json:"variant"`
	Action  Action  `json:"action"`
}

// Store is the durable pending queue plus a small key-value table, shared by
// the background task and the foreground app through the file system only
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the SQLite database at path
func OpenStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// background task and app may race on the file; one writer per process
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Close closes the database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append adds a new unhandled entry; entries are never overwritten
func (s *Store) Append(ctx context.Context, p Payload, receivedAt time.Time) (Entry, error) {
	raw, err := json.Marshal(storedPayload{Variant: p.Variant, Action: p.Action})
	if err != nil {
		return Entry{}, err
	}
	e := Entry{ID: uuid.NewString(), Payload: p, ReceivedAt: receivedAt}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending(id, payload, received_at, handled) VALUES(?,?,?,0)`,
		e.ID, string(raw), receivedAt.UnixMilli(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("append pending notification: %w", err)
	}
	return e, nil
}

// Unhandled returns unhandled entries in arrival order
func (s *Store) Unhandled(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, received_at FROM pending WHERE handled = 0 ORDER BY received_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			id, raw string
			ms      int64
		)
		if err := rows.Scan(&id, &raw, &ms); err != nil {
			return nil, err
		}
		var sp storedPayload
		if err := json.Unmarshal([]byte(raw), &sp); err != nil {
			return nil, fmt.Errorf("decode pending %s: %w", id, err)
		}
		out = append(out, Entry{
			ID:         id,
			Payload:    Payload{Variant: sp.Variant, Action: sp.Action},
			ReceivedAt: time.UnixMilli(ms),
		})
	}
	return out, rows.Err()
}

// MarkHandled flags the entry as processed
func (s *Store) MarkHandled(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pending SET handled = 1 WHERE id = ?`, id)
	return err
}

// Purge deletes entries received before cutoff, handled or not, together with
// completion marks recorded before cutoff. It returns the number of entries removed.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM pending WHERE received_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM completed WHERE completed_at < ?`, cutoff.UnixMilli()); err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// Completed reports whether key was marked completed
func (s *Store) Completed(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM completed WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// MarkCompleted records that the action behind key finished at at
func (s *Store) MarkCompleted(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completed(key, completed_at) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET completed_at=excluded.completed_at`,
		key, at.UnixMilli(),
	)
	return err
}

// Get reads a key; ok is false when it is not set
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set writes a key
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// IncrBadge adds delta to the cached badge counter and returns the new value
func (s *Store) IncrBadge(ctx context.Context, delta int) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + ? AS TEXT)`,
		badgeKey, strconv.Itoa(delta), delta,
	)
	if err != nil {
		return 0, err
	}
	return s.Badge(ctx)
}

// Badge returns the cached badge counter
func (s *Store) Badge(ctx context.Context) (int, error) {
	v, ok, err := s.Get(ctx, badgeKey)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.Atoi(v)
}

// ResetBadge clears the badge counter, e.g. after the list screen was opened
func (s *Store) ResetBadge(ctx context.Context) error {
	return s.Set(ctx, badgeKey, "0")
}

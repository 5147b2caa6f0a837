package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite turn audit log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "dialogo.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and avoids "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// --- Turns ---

const turnColumns = `id, sender_id, created_at, message, intent, stage, confidence,
	needs_clarification, response, error, path, fallback_phase, duration_ms`

// SaveTurn inserts a finished turn.
func (s *Store) SaveTurn(t Turn) error {
	path, err := json.Marshal(t.Path)
	if err != nil {
		return fmt.Errorf("encoding path: %w", err)
	}
	if t.Path == nil {
		path = []byte("[]")
	}
	_, err = s.db.Exec(`INSERT INTO turns (`+turnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SenderID, formatTime(t.CreatedAt), t.Message, t.Intent, t.Stage, t.Confidence,
		t.NeedsClarification, t.Response, t.Error, string(path), t.FallbackPhase, t.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting turn %s: %w", t.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(r rowScanner) (Turn, error) {
	var t Turn
	var createdAt, path string
	if err := r.Scan(&t.ID, &t.SenderID, &createdAt, &t.Message, &t.Intent, &t.Stage, &t.Confidence,
		&t.NeedsClarification, &t.Response, &t.Error, &path, &t.FallbackPhase, &t.DurationMS); err != nil {
		return Turn{}, err
	}
	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Turn{}, fmt.Errorf("parsing created_at: %w", err)
	}
	t.CreatedAt = ts
	if err := json.Unmarshal([]byte(path), &t.Path); err != nil {
		return Turn{}, fmt.Errorf("parsing path: %w", err)
	}
	return t, nil
}

// GetTurn returns the turn with the given id or ErrNotFound.
func (s *Store) GetTurn(id string) (Turn, error) {
	t, err := scanTurn(s.db.QueryRow(`SELECT `+turnColumns+` FROM turns WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Turn{}, ErrNotFound
	}
	if err != nil {
		return Turn{}, err
	}
	return t, nil
}

// ListTurns returns the most recent turns matching f, newest first.
func (s *Store) ListTurns(f TurnFilter) ([]Turn, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	var where []string
	var args []any
	if f.SenderID != "" {
		where = append(where, "sender_id = ?")
		args = append(args, f.SenderID)
	}
	if f.Intent != "" {
		where = append(where, "intent = ?")
		args = append(args, f.Intent)
	}
	query := `SELECT ` + turnColumns + ` FROM turns`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// DeleteTurnsBefore removes turns created before cutoff and returns how many
// were deleted.
func (s *Store) DeleteTurnsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM turns WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting turns: %w", err)
	}
	return res.RowsAffected()
}

// CountTurns returns the number of stored turns.
func (s *Store) CountTurns() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

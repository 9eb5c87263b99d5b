// Package store persists rulesets and match runs in SQLite.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"matchbox/internal/analysis"
)

// Store is a SQLite-backed archive of ruleset sources and engine runs.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rulesets (
		name TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		compiled_ok INTEGER NOT NULL DEFAULT 0,
		diagnostics_json TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS match_runs (
		id TEXT PRIMARY KEY,
		ruleset TEXT NOT NULL,
		subject_json TEXT NOT NULL,
		result_json TEXT,
		outcome TEXT NOT NULL,
		arm_index INTEGER NOT NULL DEFAULT -1,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_ruleset ON match_runs(ruleset);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON match_runs(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// HashSource returns the hex sha256 of ruleset source text.
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// ========== Rulesets ==========

// RulesetRecord is a saved ruleset source with its last compile status.
type RulesetRecord struct {
	Name        string
	Source      string
	ContentHash string
	CompiledOK  bool
	Diagnostics []analysis.Diagnostic
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SaveRuleset inserts or updates a ruleset by name. A missing ContentHash is
// computed from Source; created_at survives updates.
func (s *Store) SaveRuleset(rec *RulesetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ContentHash == "" {
		rec.ContentHash = HashSource(rec.Source)
	}
	// Times are stored in UTC so the text ordering stays chronological.
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	diagJSON, _ := json.Marshal(rec.Diagnostics)

	_, err := s.db.Exec(`
		INSERT INTO rulesets (name, source, content_hash, compiled_ok, diagnostics_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			source = excluded.source,
			content_hash = excluded.content_hash,
			compiled_ok = excluded.compiled_ok,
			diagnostics_json = excluded.diagnostics_json,
			updated_at = excluded.updated_at
	`, rec.Name, rec.Source, rec.ContentHash, rec.CompiledOK, string(diagJSON),
		rec.CreatedAt.UTC(), rec.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to save ruleset %q: %w", rec.Name, err)
	}
	return nil
}

// GetRuleset retrieves a ruleset by name. A missing name returns (nil, nil).
func (s *Store) GetRuleset(name string) (*RulesetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec RulesetRecord
	var diagJSON sql.NullString

	err := s.db.QueryRow(`
		SELECT name, source, content_hash, compiled_ok, diagnostics_json, created_at, updated_at
		FROM rulesets WHERE name = ?
	`, name).Scan(&rec.Name, &rec.Source, &rec.ContentHash, &rec.CompiledOK,
		&diagJSON, &rec.CreatedAt, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ruleset %q: %w", name, err)
	}

	if diagJSON.Valid {
		json.Unmarshal([]byte(diagJSON.String), &rec.Diagnostics)
	}
	return &rec, nil
}

// ListRulesets retrieves every saved ruleset, ordered by name.
func (s *Store) ListRulesets() ([]RulesetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT name, source, content_hash, compiled_ok, diagnostics_json, created_at, updated_at
		FROM rulesets
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RulesetRecord
	for rows.Next() {
		var rec RulesetRecord
		var diagJSON sql.NullString
		if err := rows.Scan(&rec.Name, &rec.Source, &rec.ContentHash, &rec.CompiledOK,
			&diagJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			continue
		}
		if diagJSON.Valid {
			json.Unmarshal([]byte(diagJSON.String), &rec.Diagnostics)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteRuleset removes a saved ruleset. Recorded runs are kept.
func (s *Store) DeleteRuleset(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM rulesets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete ruleset %q: %w", name, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("ruleset %q not found", name)
	}
	return nil
}

// ========== Match runs ==========

// Outcome labels for recorded runs.
const (
	OutcomeMatched = "matched"
	OutcomeNoMatch = "no-match"
	OutcomeError   = "error"
)

// Run is one recorded engine application.
type Run struct {
	ID        string
	Ruleset   string
	Subject   string // JSON encoding of the subject
	Result    string // JSON encoding of the result, empty unless matched
	Outcome   string
	ArmIndex  int
	Duration  time.Duration
	CreatedAt time.Time
}

// RecordRun stores one run. An empty ID gets a fresh UUID.
func (s *Store) RecordRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO match_runs (id, ruleset, subject_json, result_json, outcome, arm_index, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Ruleset, run.Subject, run.Result, run.Outcome, run.ArmIndex,
		run.Duration.Milliseconds(), run.CreatedAt.UTC())

	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecentRuns retrieves runs newest first, filtered to one ruleset when
// ruleset is non-empty.
func (s *Store) RecentRuns(ruleset string, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var query string
	var args []any
	if ruleset != "" {
		query = `
			SELECT id, ruleset, subject_json, result_json, outcome, arm_index, duration_ms, created_at
			FROM match_runs WHERE ruleset = ? ORDER BY created_at DESC LIMIT ?`
		args = []any{ruleset, limit}
	} else {
		query = `
			SELECT id, ruleset, subject_json, result_json, outcome, arm_index, duration_ms, created_at
			FROM match_runs ORDER BY created_at DESC LIMIT ?`
		args = []any{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var result sql.NullString
		var durationMs int64
		if err := rows.Scan(&run.ID, &run.Ruleset, &run.Subject, &result,
			&run.Outcome, &run.ArmIndex, &durationMs, &run.CreatedAt); err != nil {
			continue
		}
		run.Result = result.String
		run.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PruneRuns deletes runs older than the given age and reports how many.
func (s *Store) PruneRuns(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UTC()
	result, err := s.db.Exec(`DELETE FROM match_runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// Stats returns row counts per table.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"rulesets", "match_runs"} {
		var count int64
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count); err != nil {
			return nil, err
		}
		stats[table] = count
	}
	return stats, nil
}

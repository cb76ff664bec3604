// Package overrides keeps per-task field overrides that must win over
// whatever the Task API returns, such as colors the backend does not store.
package overrides

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"

	_ "modernc.org/sqlite"
)

// Store maps task id to a Partial. It is memory-only unless opened on a
// sqlite file.
type Store struct {
	mu    sync.RWMutex
	items map[string]model.Partial
	db    *sql.DB
}

func NewMemory() *Store {
	return &Store{items: make(map[string]model.Partial)}
}

// Open loads the overrides persisted at path. An empty path gives a
// memory-only store.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return NewMemory(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("overrides: mkdir: %w", err)
	}
	// modernc.org/sqlite registers as "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("overrides: open %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("overrides: %s: %w", p, err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{items: make(map[string]model.Partial), db: db}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	appLog.Info("overrides loaded", "path", path, "count", len(s.items))
	return s, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS overrides (
		task_id TEXT PRIMARY KEY,
		partial_json TEXT NOT NULL,
		updated_at_unixms INTEGER NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("overrides: migrate: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, partial_json FROM overrides`)
	if err != nil {
		return fmt.Errorf("overrides: load: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return fmt.Errorf("overrides: scan: %w", err)
		}
		var p model.Partial
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			appLog.Warn("skipping corrupt override", "task_id", id, "err", err)
			continue
		}
		s.items[id] = p
	}
	return rows.Err()
}

// Set merges p into the override for id; fields set in p replace earlier
// values, others are kept. The in-memory value is updated even when
// persisting fails.
func (s *Store) Set(ctx context.Context, id string, p model.Partial) error {
	if id == "" || p.IsZero() {
		return nil
	}
	s.mu.Lock()
	merged := s.items[id].Merge(p)
	s.items[id] = merged
	db := s.db
	s.mu.Unlock()

	if db == nil {
		return nil
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("overrides: encode %s: %w", id, err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO overrides (task_id, partial_json, updated_at_unixms)
		VALUES (?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET partial_json = excluded.partial_json, updated_at_unixms = excluded.updated_at_unixms`,
		id, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("overrides: persist %s: %w", id, err)
	}
	return nil
}

func (s *Store) Get(id string) (model.Partial, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[id]
	return p, ok
}

// Delete forgets the override of a removed task.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM overrides WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("overrides: delete %s: %w", id, err)
	}
	return nil
}

// Snapshot returns a copy of all overrides.
func (s *Store) Snapshot() map[string]model.Partial {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Partial, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}

// IDs lists the overridden task ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.items))
	for k := range s.items {
		ids = append(ids, k)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Merge applies the overrides onto fetched records. Records are copied;
// override fields win.
func (s *Store) Merge(records []model.Record) []model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Record, len(records))
	for i, r := range records {
		if p, ok := s.items[r.ID()]; ok {
			out[i] = p.ApplyTo(r)
			continue
		}
		out[i] = r
	}
	return out
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

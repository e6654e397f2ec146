// Package memory implements the semantic memory collaborator: persistent
// conversation turns with vector search, backed by SQLite.
package memory

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

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/embedding"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/logging"
)

// Entry is one stored memory.
type Entry struct {
	ID         int64     `json:"id"`
	Text       string    `json:"text"`
	SessionID  string    `json:"session_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Similarity float64   `json:"similarity,omitempty"` // populated by Search
}

// SearchOptions scope and gate a semantic search.
type SearchOptions struct {
	SessionID     string // empty = all sessions
	Limit         int
	MinSimilarity float64
}

// Store is the memory/vector-search collaborator contract.
type Store interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]Entry, error)
	StoreTurn(ctx context.Context, entry Entry) error
	Close() error
}

// SQLiteStore persists memories in SQLite with one serialized embedding per
// row. Ranking happens in-process with cosine similarity, which is fine at
// personal-assistant scale; the sqlite_vec build tag swaps in the vec
// extension for larger corpora.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	engine embedding.Engine
}

// NewSQLiteStore opens (and migrates) the memory database at path.
func NewSQLiteStore(path string, engine embedding.Engine) (*SQLiteStore, error) {
	log := logging.Get(logging.CategoryStore)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debugf("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debugf("failed to set journal_mode=WAL: %v", err)
	}

	s := &SQLiteStore{db: db, engine: engine}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	log.Infof("memory store ready at %s", path)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL,
		embedding TEXT,
		session_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// StoreTurn embeds and persists one conversation turn. Without an embedding
// engine the text is stored keyword-only and excluded from semantic search.
func (s *SQLiteStore) StoreTurn(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var embJSON interface{}
	if s.engine != nil {
		vec, err := s.engine.Embed(ctx, entry.Text)
		if err != nil {
			return fmt.Errorf("failed to embed memory: %w", err)
		}
		data, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		embJSON = string(data)
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.Exec(
		"INSERT INTO memories (text, embedding, session_id, created_at) VALUES (?, ?, ?, ?)",
		entry.Text, embJSON, entry.SessionID, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	logging.Get(logging.CategoryStore).Debugf("stored memory turn (session=%s, len=%d)", entry.SessionID, len(entry.Text))
	return nil
}

// Search embeds the query and returns entries above MinSimilarity, best
// first, optionally scoped to one session.
func (s *SQLiteStore) Search(ctx context.Context, query string, opts SearchOptions) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.engine == nil {
		return nil, fmt.Errorf("semantic search requires an embedding engine")
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	sqlQuery := "SELECT id, text, embedding, session_id, created_at FROM memories WHERE embedding IS NOT NULL"
	args := []interface{}{}
	if opts.SessionID != "" {
		sqlQuery += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("memory search query failed: %w", err)
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		var entry Entry
		var embJSON string
		var sessionID sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Text, &embJSON, &sessionID, &entry.Timestamp); err != nil {
			continue
		}
		entry.SessionID = sessionID.String

		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		if sim < opts.MinSimilarity {
			continue
		}
		entry.Similarity = sim
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	logging.Get(logging.CategoryStore).Debugf("memory search %q returned %d results (session=%q)", query, len(results), opts.SessionID)
	return results, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

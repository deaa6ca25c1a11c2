package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteBM25Index implements BM25Index using an in-memory SQLite FTS5 table.
//
// Ranking uses FTS5's built-in bm25() with its own k1/b constants; the
// BM25Config only affects MemoryBM25Index. The query is rewritten so that
// any query term matches (OR semantics), mirroring the other backends.
type SQLiteBM25Index struct {
	mu       sync.RWMutex
	db       *sql.DB
	config   BM25Config
	closed   bool
	position map[string]int
}

var _ BM25Index = (*SQLiteBM25Index)(nil)

// NewSQLiteBM25Index creates a new in-memory FTS5 index.
func NewSQLiteBM25Index(config BM25Config) (*SQLiteBM25Index, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A :memory: database lives on one connection; keep exactly one open.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -16384",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	idx := &SQLiteBM25Index{
		db:       db,
		config:   config,
		position: make(map[string]int),
	}

	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return idx, nil
}

// initSchema creates the FTS5 table. Content is pre-split by Tokenize and
// joined with spaces; common interior punctuation is kept inside tokens.
func (s *SQLiteBM25Index) initSchema() error {
	schema := `
		CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
			doc_id UNINDEXED,
			content,
			tokenize = "unicode61 tokenchars '-./_#@+&:'"
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create FTS5 table: %w", err)
	}
	return nil
}

// Index adds documents to the index.
func (s *SQLiteBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_content (doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		content := strings.Join(Tokenize(doc.Content), " ")
		if _, err := stmt.ExecContext(ctx, doc.ID, content); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	for _, doc := range docs {
		if _, ok := s.position[doc.ID]; !ok {
			s.position[doc.ID] = len(s.position)
		}
	}
	return nil
}

// Search returns documents matching any query term.
func (s *SQLiteBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	match := buildMatchQuery(queryStr)
	if match == "" || limit <= 0 || len(s.position) == 0 {
		return []*BM25Result{}, nil
	}

	// bm25() is lower-is-better; negate so higher is better.
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, -bm25(fts_content) AS score
		FROM fts_content
		WHERE fts_content MATCH ?`, match)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []*BM25Result
	for rows.Next() {
		var r BM25Result
		if err := rows.Scan(&r.DocID, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return rankByPosition(results, s.position, limit), nil
}

// buildMatchQuery turns free text into an FTS5 OR query of quoted terms.
func buildMatchQuery(query string) string {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// Stats returns index statistics.
func (s *SQLiteBM25Index) Stats() *IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &IndexStats{}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fts_content`).Scan(&count); err != nil {
		return &IndexStats{}
	}

	return &IndexStats{DocumentCount: count}
}

// Close closes the database.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

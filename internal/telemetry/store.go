package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// maxZeroResultRows bounds the persisted zero-result history.
const maxZeroResultRows = 100

// SQLiteStore implements Store in a dedicated SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (creating if needed) the telemetry database at path.
// Use ":memory:" for a throwaway store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create telemetry dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	-- Degraded pipeline stages (aggregated daily)
	CREATE TABLE IF NOT EXISTS stage_degradations (
		date TEXT NOT NULL,
		stage TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, stage)
	);

	-- Top query terms (with frequency count)
	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	-- Zero-result queries (bounded FIFO)
	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Retrieval latency histogram (aggregated daily)
	CREATE TABLE IF NOT EXISTS retrieval_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// upsertDaily adds counts to a (date, key) keyed table inside one transaction.
func (s *SQLiteStore) upsertDaily(query, date string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for key, count := range counts {
		if _, err := stmt.Exec(date, key, count); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// sumByKey returns SUM(count) grouped by key for dates in [from, to].
func (s *SQLiteStore) sumByKey(query, from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

// SaveStageCounts adds daily degraded-stage counts.
func (s *SQLiteStore) SaveStageCounts(date string, counts map[string]int64) error {
	return s.upsertDaily(`
		INSERT INTO stage_degradations (date, stage, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, stage) DO UPDATE SET count = count + excluded.count
	`, date, counts)
}

// GetStageCounts retrieves degraded-stage counts for a date range.
func (s *SQLiteStore) GetStageCounts(from, to string) (map[string]int64, error) {
	return s.sumByKey(`
		SELECT stage, SUM(count) AS total
		FROM stage_degradations
		WHERE date >= ? AND date <= ?
		GROUP BY stage
	`, from, to)
}

// UpsertTermCounts updates term frequency counts.
func (s *SQLiteStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for term, count := range terms {
		if _, err := stmt.Exec(term, count); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetTopTerms retrieves the top N terms by frequency.
func (s *SQLiteStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddZeroResultQuery appends a query to the zero-result history, keeping
// only the newest maxZeroResultRows entries.
func (s *SQLiteStore) AddZeroResultQuery(query string, timestamp time.Time) error {
	if _, err := s.db.Exec(`
		INSERT INTO zero_result_queries (query, timestamp)
		VALUES (?, ?)
	`, query, timestamp.UTC()); err != nil {
		return fmt.Errorf("insert zero-result query: %w", err)
	}

	if _, err := s.db.Exec(`
		DELETE FROM zero_result_queries
		WHERE id NOT IN (
			SELECT id FROM zero_result_queries
			ORDER BY id DESC
			LIMIT ?
		)
	`, maxZeroResultRows); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	return nil
}

// GetZeroResultQueries retrieves recent zero-result queries, newest first.
func (s *SQLiteStore) GetZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT query
		FROM zero_result_queries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// SaveLatencyCounts adds daily latency histogram counts.
func (s *SQLiteStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	plain := make(map[string]int64, len(counts))
	for b, c := range counts {
		plain[string(b)] = c
	}
	return s.upsertDaily(`
		INSERT INTO retrieval_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`, date, plain)
}

// GetLatencyCounts retrieves latency distribution for a date range.
func (s *SQLiteStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	plain, err := s.sumByKey(`
		SELECT bucket, SUM(count) AS total
		FROM retrieval_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, err
	}
	counts := make(map[LatencyBucket]int64, len(plain))
	for b, c := range plain {
		counts[LatencyBucket(b)] = c
	}
	return counts, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

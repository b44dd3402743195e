package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memory_records (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	context      TEXT NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	embedding    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_records_timestamp ON memory_records (timestamp_ms DESC);`

// SQLiteStore implements Store on a single SQLite file. Embeddings are
// stored as JSON and ranked in Go with Rank, since modernc.org/sqlite cannot
// load vector extensions.
type SQLiteStore struct {
	db   *sql.DB
	dims int
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for
// a throwaway store.
func NewSQLiteStore(path string, dims int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// One connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, dims: dims}, nil
}

func (s *SQLiteStore) Add(ctx context.Context, rec Record) error {
	if len(rec.Embedding) != s.dims {
		return fmt.Errorf("record %s has %d dimensions, store has %d: %w", rec.ID, len(rec.Embedding), s.dims, ErrDimensionMismatch)
	}

	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("marshaling context: %w", err)
	}
	embeddingJSON, err := json.Marshal(rec.Embedding)
	if err != nil {
		return fmt.Errorf("marshaling embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_records (id, user_id, context, timestamp_ms, embedding)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(contextJSON), rec.Timestamp, embeddingJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting memory record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, query []float32, limit int) ([]ScoredRecord, error) {
	if limit <= 0 {
		return []ScoredRecord{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, context, timestamp_ms, embedding FROM memory_records`)
	if err != nil {
		return nil, fmt.Errorf("querying memory records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec           Record
			contextJSON   string
			embeddingJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &contextJSON, &rec.Timestamp, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("scanning memory record: %w", err)
		}
		if err := json.Unmarshal([]byte(contextJSON), &rec.Context); err != nil {
			return nil, fmt.Errorf("decoding context of %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal(embeddingJSON, &rec.Embedding); err != nil {
			return nil, fmt.Errorf("decoding embedding of %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memory records: %w", err)
	}

	return Rank(records, query, limit), nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting memory records: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

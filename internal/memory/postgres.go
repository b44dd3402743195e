package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PostgresStore implements Store using pgx + pgvector. Similarity is
// computed in SQL with the cosine distance operator.
type PostgresStore struct {
	pool *pgxpool.Pool
	dims int
}

// NewPostgresStore creates a store over the memory_records table.
func NewPostgresStore(pool *pgxpool.Pool, dims int) *PostgresStore {
	return &PostgresStore{pool: pool, dims: dims}
}

const selectRecord = `SELECT id, user_id, context, timestamp_ms, embedding::text`

func (s *PostgresStore) Add(ctx context.Context, rec Record) error {
	if len(rec.Embedding) != s.dims {
		return fmt.Errorf("record %s has %d dimensions, store has %d: %w", rec.ID, len(rec.Embedding), s.dims, ErrDimensionMismatch)
	}

	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("marshaling context: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO memory_records (id, user_id, context, timestamp_ms, embedding)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, json.RawMessage(contextJSON), rec.Timestamp, pgvector.NewVector(rec.Embedding),
	)
	if err != nil {
		return fmt.Errorf("inserting memory record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, query []float32, limit int) ([]ScoredRecord, error) {
	if limit <= 0 {
		return []ScoredRecord{}, nil
	}

	var (
		rows pgx.Rows
		err  error
	)
	if len(query) != s.dims || CosineSimilarity(query, query) == 0 {
		rows, err = s.pool.Query(ctx,
			selectRecord+`, 0::float8 AS similarity
			 FROM memory_records
			 ORDER BY timestamp_ms DESC, id
			 LIMIT $1`,
			limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			selectRecord+`,
			        CASE WHEN vector_norm(embedding) = 0 THEN 0
			             ELSE 1 - (embedding <=> $1) END AS similarity
			 FROM memory_records
			 ORDER BY similarity DESC, timestamp_ms DESC, id
			 LIMIT $2`,
			pgvector.NewVector(query), limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("searching memory records: %w", err)
	}
	defer rows.Close()

	results := []ScoredRecord{}
	for rows.Next() {
		var (
			r           ScoredRecord
			contextJSON []byte
			vec         pgvector.Vector
		)
		if err := rows.Scan(&r.ID, &r.UserID, &contextJSON, &r.Timestamp, &vec, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning memory record: %w", err)
		}
		if err := json.Unmarshal(contextJSON, &r.Context); err != nil {
			return nil, fmt.Errorf("decoding context of %s: %w", r.ID, err)
		}
		r.Embedding = vec.Slice()
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memory_records`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting memory records: %w", err)
	}
	return count, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error {
	return nil
}

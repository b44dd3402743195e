package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores turn logs.
type Repository interface {
	Insert(ctx context.Context, log *TurnLog) error
	// ListByUser returns one page of the user's logs, newest first, and the
	// total number of matching logs.
	ListByUser(ctx context.Context, userID string, params ListParams) ([]TurnLog, int64, error)
}

// PostgresRepository handles turn_logs PostgreSQL operations.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Insert persists a single turn log. Redelivered events with the same
// message id and outcome are ignored.
func (r *PostgresRepository) Insert(ctx context.Context, log *TurnLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO turn_logs (id, message_id, user_id, outcome, reason, duration_ms, received_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (message_id, outcome) DO NOTHING`,
		log.ID, log.MessageID, log.UserID, log.Outcome, log.Reason, log.DurationMS, log.ReceivedAt, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting turn log: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, params ListParams) ([]TurnLog, int64, error) {
	params = params.normalized()

	conditions := []string{"user_id = $1"}
	args := []any{userID}
	argIdx := 2

	if params.Outcome != "" {
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", argIdx))
		args = append(args, params.Outcome)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	// Count query
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM turn_logs WHERE %s", where)
	var totalCount int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("counting turn logs: %w", err)
	}

	// Data query
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(
		`SELECT id, message_id, user_id, outcome, reason, duration_ms, received_at, created_at
		 FROM turn_logs WHERE %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying turn logs: %w", err)
	}
	defer rows.Close()

	logs := []TurnLog{}
	for rows.Next() {
		var l TurnLog
		if err := rows.Scan(&l.ID, &l.MessageID, &l.UserID, &l.Outcome, &l.Reason,
			&l.DurationMS, &l.ReceivedAt, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning turn log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating turn logs: %w", err)
	}

	return logs, totalCount, nil
}

// DefaultMaxPerUser bounds MemoryRepository.
const DefaultMaxPerUser = 1000

// MemoryRepository keeps the most recent logs of each user in process.
type MemoryRepository struct {
	mu         sync.RWMutex
	logs       map[string][]TurnLog // oldest first
	seen       map[string]bool      // message_id + outcome
	maxPerUser int
}

// NewMemoryRepository creates a MemoryRepository. A non-positive maxPerUser
// uses DefaultMaxPerUser.
func NewMemoryRepository(maxPerUser int) *MemoryRepository {
	if maxPerUser <= 0 {
		maxPerUser = DefaultMaxPerUser
	}
	return &MemoryRepository{
		logs:       make(map[string][]TurnLog),
		seen:       make(map[string]bool),
		maxPerUser: maxPerUser,
	}
}

func (r *MemoryRepository) Insert(_ context.Context, log *TurnLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := log.MessageID + "\x00" + log.Outcome
	if r.seen[key] {
		return nil
	}
	r.seen[key] = true

	logs := append(r.logs[log.UserID], *log)
	if len(logs) > r.maxPerUser {
		for _, dropped := range logs[:len(logs)-r.maxPerUser] {
			delete(r.seen, dropped.MessageID+"\x00"+dropped.Outcome)
		}
		logs = append([]TurnLog(nil), logs[len(logs)-r.maxPerUser:]...)
	}
	r.logs[log.UserID] = logs
	return nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string, params ListParams) ([]TurnLog, int64, error) {
	params = params.normalized()

	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.logs[userID]
	var matched []TurnLog
	for i := len(all) - 1; i >= 0; i-- {
		if params.Outcome == "" || all[i].Outcome == params.Outcome {
			matched = append(matched, all[i])
		}
	}

	total := int64(len(matched))
	start := min((params.Page-1)*params.PageSize, len(matched))
	end := min(start+params.PageSize, len(matched))

	page := make([]TurnLog, end-start)
	copy(page, matched[start:end])
	return page, total, nil
}

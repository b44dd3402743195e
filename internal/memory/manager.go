package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/recall/internal/embedding"
	"github.com/aiox-platform/recall/internal/metrics"
)

// Manager stores exchanges and answers recency and similarity queries
// scoped to one user.
type Manager struct {
	store    Store
	embedder embedding.Embedder
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager. Zero fields in cfg take their defaults.
func NewManager(store Store, embedder embedding.Embedder, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		embedder: embedder,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective limits.
func (m *Manager) Config() Config {
	return m.cfg
}

// StoreMemory embeds the exchange and appends it as a new record.
func (m *Manager) StoreMemory(ctx context.Context, userID string, exchange []string) (*Record, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", ErrInvalidArguments)
	}
	if len(exchange) == 0 {
		return nil, fmt.Errorf("context is required: %w", ErrInvalidArguments)
	}

	vec, err := m.embedder.Embed(ctx, strings.Join(exchange, "\n"))
	if err != nil {
		metrics.MemoryErrorsTotal.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("%w: embedding context: %w", ErrStorage, err)
	}

	rec := Record{
		ID:        uuid.New().String(),
		UserID:    userID,
		Context:   append([]string(nil), exchange...),
		Timestamp: m.now().UnixMilli(),
		Embedding: vec,
	}
	if err := m.store.Add(ctx, rec); err != nil {
		metrics.MemoryErrorsTotal.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("%w: appending record: %w", ErrStorage, err)
	}

	metrics.MemoriesStoredTotal.Inc()
	m.logger.Debug("memory stored", "user_id", userID, "id", rec.ID)
	return &rec, nil
}

// RetrieveMemories returns the user's recent records, newest first. Only
// the newest min(limit, MaxResults) records of the whole store are
// considered, and records older than MaxMemoryAge are dropped.
func (m *Manager) RetrieveMemories(ctx context.Context, userID string, limit int) ([]Record, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", ErrInvalidArguments)
	}
	if limit <= 0 {
		limit = m.cfg.DefaultLimit
	}

	start := time.Now()
	results, err := m.store.Search(ctx, nil, min(limit, m.cfg.MaxResults))
	metrics.MemorySearchDuration.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MemoryErrorsTotal.WithLabelValues("retrieve").Inc()
		return nil, fmt.Errorf("%w: searching recent records: %w", ErrRetrieval, err)
	}

	cutoff := m.now().Add(-m.cfg.MaxMemoryAge).UnixMilli()
	records := []Record{}
	for _, r := range results {
		if r.UserID == userID && r.Timestamp >= cutoff {
			records = append(records, r.Record)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})
	return records, nil
}

// FindSimilarMemories returns the user's records among the limit records
// most similar to queryText, with their similarity attached. Age is not
// considered.
func (m *Manager) FindSimilarMemories(ctx context.Context, userID, queryText string, limit int) ([]ScoredRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", ErrInvalidArguments)
	}
	if queryText == "" {
		return nil, fmt.Errorf("query text is required: %w", ErrInvalidArguments)
	}
	if limit <= 0 {
		limit = m.cfg.DefaultLimit
	}

	vec, err := m.embedder.Embed(ctx, queryText)
	if err != nil {
		metrics.MemoryErrorsTotal.WithLabelValues("similar").Inc()
		return nil, fmt.Errorf("%w: embedding query: %w", ErrRetrieval, err)
	}

	start := time.Now()
	results, err := m.store.Search(ctx, vec, limit)
	metrics.MemorySearchDuration.WithLabelValues("similar").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MemoryErrorsTotal.WithLabelValues("similar").Inc()
		return nil, fmt.Errorf("%w: searching similar records: %w", ErrRetrieval, err)
	}

	scored := []ScoredRecord{}
	for _, r := range results {
		if r.UserID == userID {
			scored = append(scored, r)
		}
	}
	return scored, nil
}

// Count returns the number of records across all users.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

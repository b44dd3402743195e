package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
	"unicode/utf8"

	"github.com/dgraph-io/ristretto"

	"github.com/aiox-platform/recall/internal/metrics"
)

// Config controls the embedding Service.
type Config struct {
	Dimensions int
	// Timeout bounds a single remote call. Zero means no extra bound.
	Timeout time.Duration
	// CacheMaxCost is the byte budget for cached remote vectors. Zero disables caching.
	CacheMaxCost int64
}

// Service embeds text with a remote model and falls back to the local hash.
type Service struct {
	remote  RemoteFunc
	dims    int
	timeout time.Duration
	cache   *ristretto.Cache
	logger  *slog.Logger
}

// NewService creates a Service. remote may be nil.
func NewService(cfg Config, remote RemoteFunc, logger *slog.Logger) (*Service, error) {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		remote:  remote,
		dims:    cfg.Dimensions,
		timeout: cfg.Timeout,
		logger:  logger,
	}

	if remote != nil && cfg.CacheMaxCost > 0 {
		counters := cfg.CacheMaxCost / 256
		if counters < 1000 {
			counters = 1000
		}
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: counters,
			MaxCost:     cfg.CacheMaxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedding cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

// Dimensions returns the length of every vector this Service produces.
func (s *Service) Dimensions() int {
	return s.dims
}

// Embed returns a vector of length Dimensions(). It fails only for empty or
// non-UTF-8 input; remote failures are absorbed by the fallback.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text: %w", ErrEmbedding)
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("text is not valid UTF-8: %w", ErrEmbedding)
	}

	if s.remote != nil {
		if vec, ok := s.cached(text); ok {
			metrics.EmbeddingsTotal.WithLabelValues("cache").Inc()
			return vec, nil
		}

		vec, err := s.callRemote(ctx, text)
		if err == nil {
			s.store(text, vec)
			metrics.EmbeddingsTotal.WithLabelValues("remote").Inc()
			return vec, nil
		}
		s.logger.Warn("remote embedding failed, using fallback", "error", err)
	}

	metrics.EmbeddingsTotal.WithLabelValues("fallback").Inc()
	return Fallback(text, s.dims), nil
}

// Close releases the cache.
func (s *Service) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

func (s *Service) callRemote(ctx context.Context, text string) ([]float32, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	vec, err := s.remote(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != s.dims {
		return nil, fmt.Errorf("remote returned %d dimensions, want %d", len(vec), s.dims)
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("remote returned non-finite component")
		}
	}
	return vec, nil
}

func (s *Service) cached(text string) ([]float32, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok := s.cache.Get(text)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}

func (s *Service) store(text string, vec []float32) {
	if s.cache == nil {
		return
	}
	s.cache.Set(text, append([]float32(nil), vec...), int64(len(vec)*4))
	s.cache.Wait()
}

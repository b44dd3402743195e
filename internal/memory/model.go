package memory

import "errors"

// Record is one remembered exchange. Records are never mutated after Add.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Context   []string  `json:"context"`
	Timestamp int64     `json:"timestamp"` // milliseconds since epoch
	Embedding []float32 `json:"-"`
}

// ScoredRecord is a Record with its cosine similarity to a query.
type ScoredRecord struct {
	Record
	Similarity float64 `json:"similarity"`
}

var (
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrStorage          = errors.New("storage error")
	ErrRetrieval        = errors.New("retrieval error")
	// ErrDimensionMismatch is returned by stores when an embedding length
	// differs from the one the store was created with.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// StoreMemoryRequest is used by the API to store an exchange.
type StoreMemoryRequest struct {
	Context []string `json:"context" validate:"required,min=1,dive,required"`
}

// SearchMemoryRequest is used by the API to search by text similarity.
type SearchMemoryRequest struct {
	Query string `json:"query" validate:"required"`
	Limit int    `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
}

// Package audit persists the outcome of every bus-driven conversation turn
// so operators can see which messages were answered, throttled or dropped.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// TurnLog matches the turn_logs table schema.
type TurnLog struct {
	ID         uuid.UUID `json:"id"`
	MessageID  string    `json:"message_id"`
	UserID     string    `json:"user_id"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	ReceivedAt time.Time `json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListParams holds pagination and filtering parameters for turn log queries.
type ListParams struct {
	Outcome  string
	Page     int
	PageSize int
}

// DefaultListParams returns sensible defaults.
func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}

func (p ListParams) normalized() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > 100 {
		p.PageSize = 20
	}
	return p
}

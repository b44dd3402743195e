package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/aiox-platform/recall/internal/nats"
)

type failingRepo struct{ Repository }

func (failingRepo) Insert(context.Context, *TurnLog) error { return errors.New("db down") }

func testConsumer(repo Repository) *Consumer {
	c := NewConsumer(repo, nil)
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return c
}

func TestConsumer_Handle(t *testing.T) {
	repo := NewMemoryRepository(0)
	c := testConsumer(repo)

	received := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	data, err := json.Marshal(inats.TurnEvent{
		MessageID:  "m1",
		UserID:     "alice@example.com",
		Outcome:    inats.OutcomeFailed,
		Reason:     "generator timeout",
		Duration:   1500 * time.Millisecond,
		ReceivedAt: received,
		Timestamp:  received.Add(2 * time.Second),
	})
	require.NoError(t, err)

	require.NoError(t, c.handle(context.Background(), data))

	logs, total, err := repo.ListByUser(context.Background(), "alice@example.com", DefaultListParams())
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, "m1", logs[0].MessageID)
	assert.Equal(t, inats.OutcomeFailed, logs[0].Outcome)
	assert.Equal(t, "generator timeout", logs[0].Reason)
	assert.EqualValues(t, 1500, logs[0].DurationMS)
	assert.Equal(t, received, logs[0].ReceivedAt)
	assert.Equal(t, received.Add(2*time.Second), logs[0].CreatedAt)
}

func TestConsumer_HandleMalformed(t *testing.T) {
	c := testConsumer(NewMemoryRepository(0))

	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"missing message id", `{"user_id":"u","outcome":"replied"}`},
		{"missing user", `{"message_id":"m","outcome":"replied"}`},
		{"missing outcome", `{"message_id":"m","user_id":"u"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.handle(context.Background(), []byte(tt.data))
			assert.ErrorIs(t, err, errMalformed)
		})
	}
}

func TestConsumer_HandleRepositoryError(t *testing.T) {
	c := testConsumer(failingRepo{})

	err := c.handle(context.Background(), []byte(`{"message_id":"m","user_id":"u","outcome":"replied"}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, errMalformed)
}

func TestToLog_StampsMissingTimestamp(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	log := toLog(inats.TurnEvent{MessageID: "m", UserID: "u", Outcome: inats.OutcomeReplied}, now)
	assert.Equal(t, now, log.CreatedAt)
}

package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertLogs(t *testing.T, repo Repository, userID string, outcomes ...string) {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, o := range outcomes {
		require.NoError(t, repo.Insert(context.Background(), &TurnLog{
			MessageID: fmt.Sprintf("%s-%d", userID, i),
			UserID:    userID,
			Outcome:   o,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestMemoryRepository_NewestFirst(t *testing.T) {
	repo := NewMemoryRepository(0)
	insertLogs(t, repo, "alice", "replied", "rate_limited", "replied")
	insertLogs(t, repo, "bob", "replied")

	logs, total, err := repo.ListByUser(context.Background(), "alice", DefaultListParams())
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, logs, 3)
	assert.Equal(t, "alice-2", logs[0].MessageID)
	assert.Equal(t, "alice-0", logs[2].MessageID)
}

func TestMemoryRepository_FilterAndPaginate(t *testing.T) {
	repo := NewMemoryRepository(0)
	insertLogs(t, repo, "alice", "replied", "rate_limited", "replied", "replied", "failed")

	logs, total, err := repo.ListByUser(context.Background(), "alice", ListParams{Outcome: "replied", Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, logs, 2)
	assert.Equal(t, "alice-3", logs[0].MessageID)
	assert.Equal(t, "alice-2", logs[1].MessageID)

	logs, _, err = repo.ListByUser(context.Background(), "alice", ListParams{Outcome: "replied", Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "alice-0", logs[0].MessageID)

	logs, _, err = repo.ListByUser(context.Background(), "alice", ListParams{Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestMemoryRepository_DeduplicatesRedelivery(t *testing.T) {
	repo := NewMemoryRepository(0)
	log := TurnLog{MessageID: "m1", UserID: "alice", Outcome: "replied"}

	first, second := log, log
	require.NoError(t, repo.Insert(context.Background(), &first))
	require.NoError(t, repo.Insert(context.Background(), &second))

	_, total, err := repo.ListByUser(context.Background(), "alice", DefaultListParams())
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestMemoryRepository_Bounded(t *testing.T) {
	repo := NewMemoryRepository(2)
	insertLogs(t, repo, "alice", "replied", "replied", "failed")

	logs, total, err := repo.ListByUser(context.Background(), "alice", DefaultListParams())
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, "alice-2", logs[0].MessageID)
	assert.Equal(t, "alice-1", logs[1].MessageID)
}

func TestListParamsNormalized(t *testing.T) {
	p := ListParams{Page: 0, PageSize: 500}.normalized()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PageSize)
}

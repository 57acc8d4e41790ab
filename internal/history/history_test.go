package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertPendingThenComplete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.InsertPending(ctx, PendingRow{ClaimedModel: "claude-3-5-haiku-20241022", IsStreaming: false, RequestJSON: `{}`})
	require.NoError(t, err)
	require.NotZero(t, id)

	require.NoError(t, s.SetRouted(ctx, id, "openai", "gpt-4o-mini", `{"model":"gpt-4o-mini"}`))
	require.NoError(t, s.Complete(ctx, id, Completion{Status: "completed", InputTokens: 10, OutputTokens: 5, StopReason: "end_turn", ResponseJSON: `{}`}))

	rows, err := s.List(ctx, Filter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "completed", rows[0].Status)
	assert.Equal(t, 15, rows[0].TotalTokens, "total_tokens = input + output")
	assert.Equal(t, "gpt-4o-mini", rows[0].ConcreteModel)
}

func TestConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, found, err := s.GetConfig(ctx, "BIG_MODEL")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetConfig(ctx, "BIG_MODEL", "anthropic:claude-opus-4"))
	value, found, err := s.GetConfig(ctx, "BIG_MODEL")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "anthropic:claude-opus-4", value)

	require.NoError(t, s.SetConfig(ctx, "BIG_MODEL", "anthropic:claude-opus-4.1"))
	value, _, err = s.GetConfig(ctx, "BIG_MODEL")
	require.NoError(t, err)
	assert.Equal(t, "anthropic:claude-opus-4.1", value)
}

func TestSummaryAggregatesByModel(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id1, _ := s.InsertPending(ctx, PendingRow{ClaimedModel: "claude-opus-4"})
	require.NoError(t, s.SetRouted(ctx, id1, "openai", "gpt-4o", `{}`))
	require.NoError(t, s.Complete(ctx, id1, Completion{Status: "completed", InputTokens: 100, OutputTokens: 50}))

	id2, _ := s.InsertPending(ctx, PendingRow{ClaimedModel: "claude-opus-4"})
	require.NoError(t, s.SetRouted(ctx, id2, "openai", "gpt-4o", `{}`))
	require.NoError(t, s.Complete(ctx, id2, Completion{Status: "error", Error: "boom"}))

	summaries, err := s.Summary(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "gpt-4o", summaries[0].Model)
	assert.Equal(t, 2, summaries[0].Requests)
	assert.Equal(t, 1, summaries[0].Completed)
	assert.Equal(t, 0.5, summaries[0].SuccessRate)
	assert.Equal(t, 150, summaries[0].InputTokens+summaries[0].OutputTokens)
}

func TestListFiltersByDate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.InsertPending(ctx, PendingRow{ClaimedModel: "m"})
	require.NoError(t, err)

	rows, err := s.List(ctx, Filter{Limit: 10, Date: "1999-01-01"})
	require.NoError(t, err)
	assert.Empty(t, rows, "no rows should match an unrelated date filter")
}

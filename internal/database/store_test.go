package database

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { CloseDB(db) })

	return NewStore(db, nil)
}

func TestAppendMessage_AssignsSequentialIDs(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	bodies := []string{"first", "second", "third"}
	for _, body := range bodies {
		msg := &Message{ConversationID: "15551234567", Body: body, Kind: KindText}
		require.NoError(t, store.AppendMessage(ctx, msg))
	}

	history, err := store.History(ctx, "15551234567")
	require.NoError(t, err)
	require.Len(t, history, len(bodies))
	for i, msg := range history {
		require.Equal(t, int64(i+1), msg.Seq)
		require.Equal(t, bodies[i], msg.Body)
		require.False(t, msg.Outbound)
	}
}

func TestAppendMessage_Validation(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.Error(t, store.AppendMessage(ctx, nil))
	require.Error(t, store.AppendMessage(ctx, &Message{Body: "no conversation"}))
}

func TestAppendMessage_ConcurrentSameConversation(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	const writers = 50
	errCh := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := &Message{ConversationID: "15550000001", Body: "hi", Kind: KindText}
			errCh <- store.AppendMessage(ctx, msg)
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	history, err := store.History(ctx, "15550000001")
	require.NoError(t, err)
	require.Len(t, history, writers, "no message may be lost under concurrent appends")

	seqs := make([]int, 0, writers)
	for _, msg := range history {
		seqs = append(seqs, int(msg.Seq))
	}
	sort.Ints(seqs)
	for i, seq := range seqs {
		require.Equal(t, i+1, seq, "sequence ids must be a gapless 1..N run")
	}
}

func TestAppendMessage_IndependentConversations(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendMessage(ctx, &Message{ConversationID: "a", Body: "1"}))
	require.NoError(t, store.AppendMessage(ctx, &Message{ConversationID: "b", Body: "1"}))
	require.NoError(t, store.AppendMessage(ctx, &Message{ConversationID: "a", Body: "2"}))

	historyA, err := store.History(ctx, "a")
	require.NoError(t, err)
	require.Len(t, historyA, 2)
	require.Equal(t, int64(2), historyA[1].Seq)

	historyB, err := store.History(ctx, "b")
	require.NoError(t, err)
	require.Len(t, historyB, 1)
	require.Equal(t, int64(1), historyB[0].Seq)
}

func TestHistory_EmptyConversation(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	history, err := store.History(context.Background(), "unknown")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestSummaries_SortedByLastActivity(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	appendAt := func(conversation, body string, at time.Time, outbound bool) {
		t.Helper()
		require.NoError(t, store.AppendMessage(ctx, &Message{
			ConversationID: conversation,
			Body:           body,
			Kind:           KindText,
			Outbound:       outbound,
			CreatedAt:      at,
		}))
	}

	appendAt("old", "early", base.Add(-2*time.Hour), false)
	appendAt("recent", "first", base.Add(-time.Hour), false)
	appendAt("recent", "latest reply", base, true)

	summaries, err := store.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	require.Equal(t, "recent", summaries[0].ConversationID)
	require.Equal(t, "latest reply", summaries[0].LastBody)
	require.True(t, summaries[0].Outbound)
	require.Equal(t, "old", summaries[1].ConversationID)
}

func TestSaveFunnel_PersistsOrderedSteps(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	steps := []FunnelStep{
		{DelaySeconds: 0, Template: "welcome"},
		{DelaySeconds: 3600, Template: "followup"},
		{DelaySeconds: 86400, Template: "last_chance"},
	}
	require.NoError(t, store.SaveFunnel(ctx, "hello", steps))

	funnels, err := store.Funnels(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string][]FunnelStep{"hello": steps}, funnels)
}

func TestSaveFunnel_ReplacesExistingSteps(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFunnel(ctx, "promo", []FunnelStep{
		{DelaySeconds: 5, Template: "a"},
		{DelaySeconds: 10, Template: "b"},
	}))
	require.NoError(t, store.SaveFunnel(ctx, "promo", []FunnelStep{
		{DelaySeconds: 1, Template: "c"},
	}))

	funnels, err := store.Funnels(ctx)
	require.NoError(t, err)
	require.Equal(t, []FunnelStep{{DelaySeconds: 1, Template: "c"}}, funnels["promo"])
}

func TestDeleteFunnel(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFunnel(ctx, "hello", []FunnelStep{{DelaySeconds: 5, Template: "welcome"}}))
	require.NoError(t, store.DeleteFunnel(ctx, "hello"))

	funnels, err := store.Funnels(ctx)
	require.NoError(t, err)
	require.Empty(t, funnels)

	err = store.DeleteFunnel(ctx, "hello")
	require.ErrorIs(t, err, ErrFunnelNotFound)
}

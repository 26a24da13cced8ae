package leaderboard

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grass-leaderboard/internal/domain"
)

var epoch = time.Date(2025, 4, 12, 9, 0, 0, 0, time.UTC)

func entry(name string, score int64, offset time.Duration) domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		ID:        name,
		Username:  name,
		RawCount:  score,
		Score:     score,
		CreatedAt: epoch.Add(offset),
	}
}

func requireSorted(t *testing.T, entries []domain.LeaderboardEntry) {
	t.Helper()
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		require.False(t, domain.RanksAbove(cur, prev),
			"entry %d (%s score=%d) ranks above entry %d (%s score=%d)",
			i, cur.ID, cur.Score, i-1, prev.ID, prev.Score)
	}
}

func TestNewDefaultsCapacity(t *testing.T) {
	assert.Equal(t, 10, New(0).Capacity())
	assert.Equal(t, 3, New(3).Capacity())
}

func TestInsertKeepsOrder(t *testing.T) {
	b := New(10)
	b.Insert(entry("a", 5, 0))
	b.Insert(entry("b", 9, time.Second))
	b.Insert(entry("c", 7, 2*time.Second))

	top := b.Entries()
	require.Len(t, top, 3)
	assert.Equal(t, []string{"b", "c", "a"}, ids(top))
}

func TestInsertTieBreaksNewestFirst(t *testing.T) {
	b := New(10)
	b.Insert(entry("first", 8, 0))
	b.Insert(entry("second", 8, time.Minute))
	b.Insert(entry("third", 8, 30*time.Second))

	assert.Equal(t, []string{"second", "third", "first"}, ids(b.Entries()))
}

func TestInsertEvictsLowestWhenFull(t *testing.T) {
	b := New(10)
	for i := 0; i < 10; i++ {
		require.Empty(t, b.Insert(entry(fmt.Sprintf("p%d", i), int64(10+i), time.Duration(i)*time.Second)))
	}
	require.Equal(t, 10, b.Len())

	evicted := b.Insert(entry("winner", 100, time.Hour))

	require.Len(t, evicted, 1)
	assert.Equal(t, "p0", evicted[0].ID)
	assert.Equal(t, 10, b.Len())
	assert.Equal(t, "winner", b.Top(1)[0].ID)
}

func TestInsertBelowCutoffIsDiscarded(t *testing.T) {
	b := New(2)
	b.Insert(entry("a", 10, 0))
	b.Insert(entry("b", 20, time.Second))

	evicted := b.Insert(entry("c", 1, 2*time.Second))

	require.Len(t, evicted, 1)
	assert.Equal(t, "c", evicted[0].ID)
	assert.Equal(t, []string{"b", "a"}, ids(b.Entries()))
}

func TestInsertPropertyBoundedAndSorted(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	b := New(10)

	for i := 0; i < 500; i++ {
		score := int64(rng.Intn(40) - 5)
		offset := time.Duration(rng.Intn(60)) * time.Second
		b.Insert(entry(fmt.Sprintf("e%d", i), score, offset))

		entries := b.Entries()
		require.LessOrEqual(t, len(entries), 10)
		requireSorted(t, entries)
	}
}

func TestTopReturnsCopy(t *testing.T) {
	b := New(5)
	b.Insert(entry("a", 1, 0))

	top := b.Top(10)
	require.Len(t, top, 1)
	top[0].Score = 999

	assert.Equal(t, int64(1), b.Top(1)[0].Score)
}

func TestReferences(t *testing.T) {
	b := New(1)
	e := entry("a", 5, 0)
	e.ImageFilename = "a.jpg"
	b.Insert(e)

	assert.True(t, b.References("a.jpg"))
	assert.False(t, b.References("b.jpg"))
	assert.False(t, b.References(""))

	b.Insert(entry("b", 50, time.Second))
	assert.False(t, b.References("a.jpg"))
}

func TestConcurrentInsert(t *testing.T) {
	b := New(10)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Insert(entry(fmt.Sprintf("c%d", i), int64(i), time.Duration(i)*time.Millisecond))
		}(i)
	}
	wg.Wait()

	entries := b.Entries()
	require.Len(t, entries, 10)
	requireSorted(t, entries)
	assert.Equal(t, int64(49), entries[0].Score)
	assert.Equal(t, int64(40), entries[9].Score)
}

func ids(entries []domain.LeaderboardEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// Package leaderboard holds the in-memory, size-capped ranking of entries.
package leaderboard

import (
	"sort"
	"sync"

	"github.com/grass-leaderboard/internal/domain"
)

// Board is a capped leaderboard kept sorted by score desc, then creation time desc.
// It is safe for concurrent use; every mutation goes through Insert.
type Board struct {
	mu       sync.RWMutex
	entries  []domain.LeaderboardEntry
	capacity int
}

// New creates an empty board retaining at most capacity entries
func New(capacity int) *Board {
	if capacity <= 0 {
		capacity = domain.DefaultBoardCap
	}
	return &Board{
		entries:  make([]domain.LeaderboardEntry, 0, capacity+1),
		capacity: capacity,
	}
}

// Capacity returns the maximum number of retained entries
func (b *Board) Capacity() int {
	return b.capacity
}

// Insert appends entry, re-sorts the whole board and truncates it to capacity.
// Entries that fell off the end are returned; they are gone from the board.
func (b *Board) Insert(entry domain.LeaderboardEntry) []domain.LeaderboardEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	sort.SliceStable(b.entries, func(i, j int) bool {
		return domain.RanksAbove(b.entries[i], b.entries[j])
	})

	if len(b.entries) <= b.capacity {
		return nil
	}

	evicted := make([]domain.LeaderboardEntry, len(b.entries)-b.capacity)
	copy(evicted, b.entries[b.capacity:])

	kept := make([]domain.LeaderboardEntry, b.capacity, b.capacity+1)
	copy(kept, b.entries[:b.capacity])
	b.entries = kept

	return evicted
}

// Top returns a copy of the first n entries; n <= 0 returns the whole board
func (b *Board) Top(n int) []domain.LeaderboardEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.entries) {
		n = len(b.entries)
	}
	out := make([]domain.LeaderboardEntry, n)
	copy(out, b.entries[:n])
	return out
}

// Entries returns a copy of the whole board in rank order
func (b *Board) Entries() []domain.LeaderboardEntry {
	return b.Top(0)
}

// Len returns the number of retained entries
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// References reports whether any retained entry points at the image filename
func (b *Board) References(filename string) bool {
	if filename == "" {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, e := range b.entries {
		if e.ImageFilename == filename {
			return true
		}
	}
	return false
}

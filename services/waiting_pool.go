package services

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// WaitingPool holds, per tournament, the users eligible for the next pairing
// round and when each was added.
type WaitingPool struct {
	clock clockwork.Clock
	mu    sync.Mutex
	pools map[int]map[int]time.Time
}

func NewWaitingPool(clock clockwork.Clock) *WaitingPool {
	return &WaitingPool{clock: clock, pools: make(map[int]map[int]time.Time)}
}

// Add keeps the original insertion time of users already waiting.
func (w *WaitingPool) Add(tournamentID, userID int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pool, ok := w.pools[tournamentID]
	if !ok {
		pool = make(map[int]time.Time)
		w.pools[tournamentID] = pool
	}
	if _, waiting := pool[userID]; !waiting {
		pool[userID] = w.clock.Now()
	}
}

func (w *WaitingPool) Remove(tournamentID int, userIDs ...int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pool, ok := w.pools[tournamentID]
	if !ok {
		return
	}
	for _, id := range userIDs {
		delete(pool, id)
	}
	if len(pool) == 0 {
		delete(w.pools, tournamentID)
	}
}

func (w *WaitingPool) Clear(tournamentID int) {
	w.mu.Lock()
	delete(w.pools, tournamentID)
	w.mu.Unlock()
}

func (w *WaitingPool) Contains(tournamentID, userID int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pools[tournamentID][userID]
	return ok
}

// Tournaments lists the ids of tournaments with at least one waiting user.
func (w *WaitingPool) Tournaments() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]int, 0, len(w.pools))
	for id := range w.pools {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// PoolSnapshot is a point-in-time copy of one tournament's pool.
type PoolSnapshot struct {
	// Users are ordered by insertion time, then id.
	Users  []int
	Oldest time.Time
}

func (s PoolSnapshot) Size() int { return len(s.Users) }

// OldestWait is how long the longest-waiting user has waited at now.
func (s PoolSnapshot) OldestWait(now time.Time) time.Duration {
	if len(s.Users) == 0 {
		return 0
	}
	return now.Sub(s.Oldest)
}

func (w *WaitingPool) Snapshot(tournamentID int) PoolSnapshot {
	w.mu.Lock()
	pool := w.pools[tournamentID]
	users := make([]int, 0, len(pool))
	added := make(map[int]time.Time, len(pool))
	for id, at := range pool {
		users = append(users, id)
		added[id] = at
	}
	w.mu.Unlock()

	sort.Slice(users, func(i, j int) bool {
		ai, aj := added[users[i]], added[users[j]]
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return users[i] < users[j]
	})
	snap := PoolSnapshot{Users: users}
	if len(users) > 0 {
		snap.Oldest = added[users[0]]
	}
	return snap
}

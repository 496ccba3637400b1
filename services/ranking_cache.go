package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/repositories"
)

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// ttlCache keeps one value per tournament for a short ttl. Concurrent rebuilds
// of the same generation share a single build; a failed build stores nothing.
type ttlCache[V any] struct {
	clock   clockwork.Clock
	ttl     time.Duration
	mu      sync.Mutex
	entries map[int]cacheEntry[V]
	gens    map[int]uint64
	group   singleflight.Group
}

func newTTLCache[V any](clock clockwork.Clock, ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[int]cacheEntry[V]),
		gens:    make(map[int]uint64),
	}
}

func (c *ttlCache[V]) get(ctx context.Context, id int, build func(ctx context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[id]; ok && c.clock.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}
	gen := c.gens[id]
	c.mu.Unlock()

	v, err, _ := c.group.Do(fmt.Sprintf("%d:%d", id, gen), func() (interface{}, error) {
		value, err := build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gens[id] == gen {
			c.entries[id] = cacheEntry[V]{value: value, expiresAt: c.clock.Now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// invalidate drops the entry and detaches any rebuild already in flight.
func (c *ttlCache[V]) invalidate(id int) {
	c.mu.Lock()
	delete(c.entries, id)
	c.gens[id]++
	c.mu.Unlock()
}

// RankingSnapshot is the ranking of a tournament with its players in rank order.
type RankingSnapshot struct {
	Ranking models.Ranking
	Sorted  []*models.Player
}

// RankOf returns the rank of userID, or the player count when unranked.
func (s *RankingSnapshot) RankOf(userID int) int {
	if r, ok := s.Ranking[userID]; ok {
		return r
	}
	return len(s.Sorted)
}

type RankingCache struct {
	players repositories.PlayerRepository
	cache   *ttlCache[*RankingSnapshot]
}

func NewRankingCache(players repositories.PlayerRepository, clock clockwork.Clock, ttl time.Duration) *RankingCache {
	return &RankingCache{players: players, cache: newTTLCache[*RankingSnapshot](clock, ttl)}
}

func (c *RankingCache) Get(ctx context.Context, tournamentID int) (*RankingSnapshot, error) {
	return c.cache.get(ctx, tournamentID, func(ctx context.Context) (*RankingSnapshot, error) {
		players, err := c.players.ListByTournament(ctx, tournamentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load players for ranking of tournament %d: %w", tournamentID, err)
		}
		ranking, sorted := models.BuildRanking(players)
		return &RankingSnapshot{Ranking: ranking, Sorted: sorted}, nil
	})
}

func (c *RankingCache) Invalidate(tournamentID int) {
	c.cache.invalidate(tournamentID)
}

// TopNCache caches the public top-N snapshot of each tournament.
type TopNCache struct {
	ranking *RankingCache
	size    int
	cache   *ttlCache[models.TournamentTop]
}

func NewTopNCache(ranking *RankingCache, size int, clock clockwork.Clock, ttl time.Duration) *TopNCache {
	return &TopNCache{ranking: ranking, size: size, cache: newTTLCache[models.TournamentTop](clock, ttl)}
}

func (c *TopNCache) Get(ctx context.Context, tournamentID int) (models.TournamentTop, error) {
	return c.cache.get(ctx, tournamentID, func(ctx context.Context) (models.TournamentTop, error) {
		snap, err := c.ranking.Get(ctx, tournamentID)
		if err != nil {
			return nil, err
		}
		return models.TopOf(snap.Sorted, c.size), nil
	})
}

func (c *TopNCache) Invalidate(tournamentID int) {
	c.cache.invalidate(tournamentID)
}

// StandingCaches groups the caches that every mutating transition must invalidate.
type StandingCaches struct {
	Ranking *RankingCache
	Top     *TopNCache
}

func (c StandingCaches) Invalidate(tournamentID int) {
	c.Ranking.Invalidate(tournamentID)
	c.Top.Invalidate(tournamentID)
}

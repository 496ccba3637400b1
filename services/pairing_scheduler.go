package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/Dosada05/arena/config"
	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/notify"
	"github.com/Dosada05/arena/pairing"
	"github.com/Dosada05/arena/repositories"
)

// redirectPayload tells a user which game to open.
type redirectPayload struct {
	TournamentID int    `json:"tournament_id"`
	GameID       string `json:"game_id"`
}

// PairingScheduler decides when a tournament runs a pairing round and executes it.
type PairingScheduler struct {
	algorithm pairing.Algorithm
	pairings  repositories.PairingRepository
	tours     repositories.TournamentRepository
	games     GameService
	bus       notify.Bus
	pool      *WaitingPool
	ranking   *RankingCache
	publisher *StandingPublisher
	kv        ExpiringKV
	clock     clockwork.Clock
	cfg       config.Arena
	logger    *slog.Logger
	batchSize metric.Int64Histogram

	mu            sync.Mutex
	lastOpponents map[int]map[int]int

	// games in flight, waited for on shutdown and in tests
	starting sync.WaitGroup
}

func NewPairingScheduler(
	algorithm pairing.Algorithm,
	pairings repositories.PairingRepository,
	tours repositories.TournamentRepository,
	games GameService,
	bus notify.Bus,
	pool *WaitingPool,
	ranking *RankingCache,
	publisher *StandingPublisher,
	kv ExpiringKV,
	clock clockwork.Clock,
	cfg config.Arena,
	logger *slog.Logger,
) *PairingScheduler {
	s := &PairingScheduler{
		algorithm:     algorithm,
		pairings:      pairings,
		tours:         tours,
		games:         games,
		bus:           bus,
		pool:          pool,
		ranking:       ranking,
		publisher:     publisher,
		kv:            kv,
		clock:         clock,
		cfg:           cfg,
		logger:        logger,
		lastOpponents: make(map[int]map[int]int),
	}
	hist, err := otel.Meter(instrumentationName).Int64Histogram(
		"arena.pairing.batch_size",
		metric.WithDescription("Number of pairings stored per round"),
	)
	if err != nil {
		logger.Error("failed to create pairing batch histogram", slog.Any("error", err))
	}
	s.batchSize = hist
	return s
}

// ShouldPair applies the trigger policy to a pool snapshot.
func (s *PairingScheduler) ShouldPair(ctx context.Context, tournamentID int, pool PoolSnapshot, activeHint int) bool {
	if pool.Size() <= 1 {
		return false
	}
	_, had, err := s.kv.Get(ctx, kvHadPairings+strconv.Itoa(tournamentID))
	if err != nil {
		s.logger.Warn("failed to read pairing marker", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		had = true
	}
	if !had {
		return true
	}
	if pool.OldestWait(s.clock.Now()) > s.cfg.PairingGrace {
		return true
	}
	return activeHint <= s.cfg.SmallTournamentThreshold &&
		float64(pool.Size())*s.cfg.SmallPoolMultiplier >= float64(activeHint)
}

// MaybeCreatePairings runs one round when the trigger policy allows it and
// returns the number of pairings stored.
func (s *PairingScheduler) MaybeCreatePairings(ctx context.Context, t *models.Tournament, pool PoolSnapshot, activeHint int) (int, error) {
	if !t.IsStarted() || !s.ShouldPair(ctx, t.ID, pool, activeHint) {
		return 0, nil
	}
	start := s.clock.Now()

	snap, err := s.ranking.Get(ctx, t.ID)
	if err != nil {
		return 0, err
	}
	candidates, err := s.algorithm.CreatePairings(ctx, pairing.Params{
		Tournament:    t,
		Waiting:       pool.Users,
		Ranking:       snap.Ranking,
		ActiveHint:    activeHint,
		LastOpponents: s.lastOpponentsOf(t.ID),
	})
	if err != nil {
		return 0, fmt.Errorf("pairing algorithm %s failed for tournament %d: %w", s.algorithm.GetName(), t.ID, err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	// Persisting a round is never cancelled once started.
	persistCtx := context.WithoutCancel(ctx)
	stored, err := s.pairings.InsertBatch(persistCtx, t.ID, candidates)
	if err != nil {
		return 0, fmt.Errorf("failed to store pairings of tournament %d: %w", t.ID, err)
	}

	paired := make([]int, 0, 2*len(candidates))
	for _, p := range candidates {
		paired = append(paired, p.User1, p.User2)
	}
	s.pool.Remove(t.ID, paired...)
	if len(stored) < len(candidates) {
		s.requeueDropped(persistCtx, t.ID, candidates)
	}
	if len(stored) == 0 {
		return 0, nil
	}
	s.rememberOpponents(t.ID, stored)

	for _, p := range stored {
		s.starting.Add(1)
		go s.startGame(persistCtx, t, p)
	}

	s.publisher.PairingCompleted(t)
	if err := s.kv.Set(persistCtx, kvHadPairings+strconv.Itoa(t.ID), "1", s.cfg.HadPairingsTTL); err != nil {
		s.logger.Warn("failed to mark pairing round", slog.Int("tournament_id", t.ID), slog.Any("error", err))
	}
	if err := s.UpdateFeaturedGame(persistCtx, t, snap); err != nil {
		s.logger.Warn("failed to update featured game", slog.Int("tournament_id", t.ID), slog.Any("error", err))
	}

	elapsed := s.clock.Since(start)
	if s.batchSize != nil {
		s.batchSize.Record(persistCtx, int64(len(stored)))
	}
	attrs := []any{slog.Int("tournament_id", t.ID), slog.Int("pairings", len(stored)), slog.Duration("elapsed", elapsed)}
	if elapsed > s.cfg.SlowPairingRound {
		s.logger.Warn("slow pairing round", attrs...)
	} else {
		s.logger.Info("pairing round", attrs...)
	}
	return len(stored), nil
}

func (s *PairingScheduler) startGame(ctx context.Context, t *models.Tournament, p *models.Pairing) {
	defer s.starting.Done()

	gameID, err := s.games.StartGame(ctx, t, p)
	if err != nil {
		s.logger.Error("game start failed, aborting pairing",
			slog.Int("tournament_id", t.ID), slog.String("pairing_id", p.ID), slog.Any("error", err))
		if abortErr := s.pairings.Abort(ctx, p.ID); abortErr != nil {
			s.logger.Error("failed to abort pairing, needs reconciliation",
				slog.Int("tournament_id", t.ID), slog.String("pairing_id", p.ID), slog.Any("error", abortErr))
			return
		}
		s.pool.Add(t.ID, p.User1)
		s.pool.Add(t.ID, p.User2)
		return
	}
	if gameID != "" && gameID != p.GameID {
		if err := s.pairings.SetGameID(ctx, p.ID, gameID); err != nil {
			s.logger.Error("failed to store game id",
				slog.Int("tournament_id", t.ID), slog.String("pairing_id", p.ID), slog.Any("error", err))
			return
		}
		p.GameID = gameID
	}

	msg := notify.Message{Type: notify.TypeRedirect, Payload: redirectPayload{TournamentID: t.ID, GameID: p.GameID}}
	s.bus.Publish(notify.UserRoom(p.User1), msg)
	s.bus.Publish(notify.UserRoom(p.User2), msg)
}

// requeueDropped puts back the users of dropped candidates unless they are busy in another game.
func (s *PairingScheduler) requeueDropped(ctx context.Context, tournamentID int, candidates []*models.Pairing) {
	playing, err := s.pairings.ListPlaying(ctx, tournamentID)
	if err != nil {
		s.logger.Warn("failed to requeue dropped users", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}
	busy := make(map[int]bool, 2*len(playing))
	for _, p := range playing {
		busy[p.User1], busy[p.User2] = true, true
	}
	for _, p := range candidates {
		for _, uid := range []int{p.User1, p.User2} {
			if !busy[uid] {
				s.pool.Add(tournamentID, uid)
			}
		}
	}
}

// Wait blocks until every game start of past rounds has completed.
func (s *PairingScheduler) Wait() {
	s.starting.Wait()
}

func (s *PairingScheduler) rememberOpponents(tournamentID int, stored []*models.Pairing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.lastOpponents[tournamentID]
	if !ok {
		m = make(map[int]int)
		s.lastOpponents[tournamentID] = m
	}
	for _, p := range stored {
		m[p.User1] = p.User2
		m[p.User2] = p.User1
	}
}

func (s *PairingScheduler) lastOpponentsOf(tournamentID int) map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]int, len(s.lastOpponents[tournamentID]))
	for k, v := range s.lastOpponents[tournamentID] {
		out[k] = v
	}
	return out
}

// Forget drops the in-memory state kept for a tournament.
func (s *PairingScheduler) Forget(tournamentID int) {
	s.mu.Lock()
	delete(s.lastOpponents, tournamentID)
	s.mu.Unlock()
}

// SelectFeatured picks the playing pairing with the lowest combined rank. The
// previous featured game is kept while it is still playing and tied for best.
func SelectFeatured(playing []*models.Pairing, rankOf func(userID int) int, previous *string) *models.Pairing {
	var best *models.Pairing
	bestScore := 0
	for _, p := range playing {
		if !p.IsPlaying() {
			continue
		}
		score := rankOf(p.User1) + rankOf(p.User2)
		if best == nil || score < bestScore {
			best, bestScore = p, score
		}
	}
	if best == nil || previous == nil {
		return best
	}
	for _, p := range playing {
		if p.IsPlaying() && p.GameID == *previous && rankOf(p.User1)+rankOf(p.User2) == bestScore {
			return p
		}
	}
	return best
}

// UpdateFeaturedGame recomputes and stores the featured game of t.
func (s *PairingScheduler) UpdateFeaturedGame(ctx context.Context, t *models.Tournament, snap *RankingSnapshot) error {
	playing, err := s.pairings.ListPlaying(ctx, t.ID)
	if err != nil {
		return err
	}
	featured := SelectFeatured(playing, snap.RankOf, t.FeaturedGameID)
	if featured == nil {
		return nil
	}
	if t.FeaturedGameID != nil && *t.FeaturedGameID == featured.GameID {
		return nil
	}
	gameID := featured.GameID
	if err := s.tours.SetFeaturedGame(ctx, t.ID, &gameID); err != nil {
		return err
	}
	t.FeaturedGameID = &gameID
	return nil
}

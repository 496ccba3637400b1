package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Dosada05/arena/config"
	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/notify"
	"github.com/Dosada05/arena/repositories"
)

// statePayload announces a status transition to a tournament room.
type statePayload struct {
	TournamentID int                     `json:"tournament_id"`
	Status       models.TournamentStatus `json:"status"`
	WinnerID     *int                    `json:"winner_id,omitempty"`
	ArchiveURL   string                  `json:"archive_url,omitempty"`
}

// Forgetter drops per-tournament in-memory state.
type Forgetter interface {
	Forget(tournamentID int)
}

// LifecycleController moves tournaments through created, started and finished.
type LifecycleController struct {
	tx          repositories.Transactor
	tournaments repositories.TournamentRepository
	players     repositories.PlayerRepository
	pairings    repositories.PairingRepository
	pool        *WaitingPool
	caches      StandingCaches
	sheets      *SheetUpdater
	publisher   *StandingPublisher
	action      *SerializedAction
	kv          ExpiringKV
	leaderboard LeaderboardIndexer
	trophies    TrophyAwarder
	archiver    ResultsArchiver
	bus         notify.Bus
	forget      []Forgetter
	cfg         config.Arena
	logger      *slog.Logger

	// trophies and archive uploads still running
	async sync.WaitGroup
}

// LifecycleDeps groups the collaborators of a LifecycleController.
type LifecycleDeps struct {
	Tx          repositories.Transactor
	Tournaments repositories.TournamentRepository
	Players     repositories.PlayerRepository
	Pairings    repositories.PairingRepository
	Pool        *WaitingPool
	Caches      StandingCaches
	Sheets      *SheetUpdater
	Publisher   *StandingPublisher
	Action      *SerializedAction
	KV          ExpiringKV
	Leaderboard LeaderboardIndexer
	Trophies    TrophyAwarder
	// Archiver is optional.
	Archiver ResultsArchiver
	Bus      notify.Bus
	Forget   []Forgetter
}

func NewLifecycleController(deps LifecycleDeps, cfg config.Arena, logger *slog.Logger) *LifecycleController {
	return &LifecycleController{
		tx:          deps.Tx,
		tournaments: deps.Tournaments,
		players:     deps.Players,
		pairings:    deps.Pairings,
		pool:        deps.Pool,
		caches:      deps.Caches,
		sheets:      deps.Sheets,
		publisher:   deps.Publisher,
		action:      deps.Action,
		kv:          deps.KV,
		leaderboard: deps.Leaderboard,
		trophies:    deps.Trophies,
		archiver:    deps.Archiver,
		bus:         deps.Bus,
		forget:      deps.Forget,
		cfg:         cfg,
		logger:      logger,
	}
}

func (c *LifecycleController) publishState(t *models.Tournament, archiveURL string) {
	c.bus.Publish(notify.TournamentRoom(t.ID), notify.Message{
		Type:    notify.TypeTournamentState,
		Payload: statePayload{TournamentID: t.ID, Status: t.Status, WinnerID: t.WinnerID, ArchiveURL: archiveURL},
	})
}

// Start opens a created tournament for pairing.
func (c *LifecycleController) Start(ctx context.Context, id int) error {
	_, err := c.action.Run(ctx, id, "start", GuardCreated, func(ctx context.Context, t *models.Tournament) error {
		if err := c.tournaments.UpdateStatus(ctx, nil, t.ID, models.StatusStarted); err != nil {
			return fmt.Errorf("failed to start tournament %d: %w", t.ID, err)
		}
		t.Status = models.StatusStarted
		c.caches.Invalidate(t.ID)
		c.seedPool(ctx, t.ID)
		c.publisher.PairingCompleted(t)
		c.publisher.TriggerGlobal()
		c.publishState(t, "")
		c.logger.Info("tournament started", slog.Int("tournament_id", t.ID), slog.Int("nb_players", t.NbPlayers))
		return nil
	})
	return err
}

// seedPool puts every present player in the waiting pool. Users who asked to
// be paired early keep their older entry.
func (c *LifecycleController) seedPool(ctx context.Context, id int) {
	players, err := c.players.ListByTournament(ctx, id)
	if err != nil {
		c.logger.Error("failed to seed waiting pool", slog.Int("tournament_id", id), slog.Any("error", err))
		return
	}
	for _, p := range players {
		if !p.Withdrawn {
			c.pool.Add(id, p.UserID)
		}
	}
}

// Finish closes a started tournament. A tournament where nobody ever played is destroyed instead.
func (c *LifecycleController) Finish(ctx context.Context, id int) error {
	_, err := c.action.Run(ctx, id, "finish", GuardStarted, func(ctx context.Context, t *models.Tournament) error {
		var nbPairings int
		var snap *RankingSnapshot
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			n, err := c.pairings.CountByTournament(gctx, t.ID)
			nbPairings = n
			return err
		})
		g.Go(func() error {
			s, err := c.caches.Ranking.Get(gctx, t.ID)
			snap = s
			return err
		})
		if err := g.Wait(); err != nil {
			return fmt.Errorf("failed to load final state of tournament %d: %w", t.ID, err)
		}
		if nbPairings == 0 {
			return c.destroy(ctx, t.ID)
		}

		var winnerID *int
		if len(snap.Sorted) > 0 {
			w := snap.Sorted[0].UserID
			winnerID = &w
		}
		var aborted int64
		err := c.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
			if err := c.tournaments.UpdateStatus(ctx, exec, t.ID, models.StatusFinished); err != nil {
				return err
			}
			if err := c.players.UnwithdrawAll(ctx, exec, t.ID); err != nil {
				return err
			}
			n, err := c.pairings.AbortAllPlaying(ctx, exec, t.ID)
			if err != nil {
				return err
			}
			aborted = n
			return c.tournaments.SetWinner(ctx, exec, t.ID, winnerID)
		})
		if err != nil {
			return fmt.Errorf("failed to finish tournament %d: %w", t.ID, err)
		}
		t.Status = models.StatusFinished
		t.WinnerID = winnerID

		c.pool.Clear(t.ID)
		c.caches.Invalidate(t.ID)
		c.forgetAll(t.ID)

		// final standings with un-withdrawn players
		final, err := c.caches.Ranking.Get(ctx, t.ID)
		if err != nil {
			c.logger.Error("failed to rebuild final ranking", slog.Int("tournament_id", t.ID), slog.Any("error", err))
			final = snap
		}
		standings := make([]models.RankedPlayer, len(final.Sorted))
		for i, p := range final.Sorted {
			standings[i] = models.RankedPlayer{Rank: i, Player: p}
		}

		if err := c.leaderboard.Index(ctx, t, standings); err != nil {
			c.logger.Error("failed to index leaderboard", slog.Int("tournament_id", t.ID), slog.Any("error", err))
		}
		c.trophies.InvalidateWinners(ctx)
		if t.IsPrized() {
			c.awardTrophies(t, standings)
		}
		c.archive(t, standings)

		c.publisher.TriggerGlobal()
		c.publishState(t, "")
		c.logger.Info("tournament finished",
			slog.Int("tournament_id", t.ID), slog.Int("pairings", nbPairings), slog.Int64("aborted", aborted))
		return nil
	})
	return err
}

func (c *LifecycleController) awardTrophies(t *models.Tournament, standings []models.RankedPlayer) {
	c.async.Add(1)
	go func() {
		defer c.async.Done()
		ctx := context.Background()
		for _, rp := range standings {
			kind, ok := TrophyFor(rp.Rank + 1)
			if !ok {
				return
			}
			if err := c.trophies.Award(ctx, rp.Player.UserID, kind, t); err != nil {
				c.logger.Error("failed to award trophy",
					slog.Int("tournament_id", t.ID), slog.Int("user_id", rp.Player.UserID),
					slog.String("trophy", string(kind)), slog.Any("error", err))
			}
		}
	}()
}

func (c *LifecycleController) archive(t *models.Tournament, standings []models.RankedPlayer) {
	if c.archiver == nil {
		return
	}
	c.async.Add(1)
	go func() {
		defer c.async.Done()
		url, err := c.archiver.Archive(context.Background(), t, standings)
		if err != nil {
			c.logger.Error("failed to archive results", slog.Int("tournament_id", t.ID), slog.Any("error", err))
			return
		}
		c.publishState(t, url)
	}()
}

// Wait blocks until background trophy and archive work is done.
func (c *LifecycleController) Wait() {
	c.async.Wait()
}

// Destroy deletes a tournament and everything attached to it. Destroying a
// missing tournament succeeds.
func (c *LifecycleController) Destroy(ctx context.Context, id int) error {
	return c.destroy(ctx, id)
}

func (c *LifecycleController) destroy(ctx context.Context, id int) error {
	err := c.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := c.pairings.DeleteByTournament(ctx, exec, id); err != nil {
			return err
		}
		if err := c.players.DeleteByTournament(ctx, exec, id); err != nil {
			return err
		}
		if err := c.tournaments.Delete(ctx, exec, id); err != nil && !errors.Is(err, repositories.ErrTournamentNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to destroy tournament %d: %w", id, err)
	}

	c.pool.Clear(id)
	c.caches.Invalidate(id)
	c.forgetAll(id)
	c.publisher.Forget(ctx, id)
	if err := c.kv.Delete(ctx, kvKilled+strconv.Itoa(id)); err != nil {
		c.logger.Warn("failed to drop kill mark", slog.Int("tournament_id", id), slog.Any("error", err))
	}
	if err := c.kv.Delete(ctx, kvHadPairings+strconv.Itoa(id)); err != nil {
		c.logger.Warn("failed to drop pairing marker", slog.Int("tournament_id", id), slog.Any("error", err))
	}
	if c.archiver != nil {
		if err := c.archiver.Remove(ctx, id); err != nil {
			c.logger.Warn("failed to remove archived results", slog.Int("tournament_id", id), slog.Any("error", err))
		}
	}
	c.publisher.TriggerGlobal()
	c.logger.Info("tournament destroyed", slog.Int("tournament_id", id))
	return nil
}

func (c *LifecycleController) forgetAll(id int) {
	for _, f := range c.forget {
		f.Forget(id)
	}
}

// Kill destroys a created tournament now and marks a started one for the kill sweep.
func (c *LifecycleController) Kill(ctx context.Context, id int) error {
	_, err := c.action.Run(ctx, id, "kill", GuardEnterable, func(ctx context.Context, t *models.Tournament) error {
		if t.IsCreated() {
			return c.destroy(ctx, t.ID)
		}
		if err := c.kv.Set(ctx, kvKilled+strconv.Itoa(t.ID), "1", c.cfg.KillMarkTTL); err != nil {
			return fmt.Errorf("failed to mark tournament %d as killed: %w", t.ID, err)
		}
		c.logger.Info("tournament marked for kill", slog.Int("tournament_id", t.ID))
		return nil
	})
	return err
}

// IsKilled reports whether a kill is pending for the tournament.
func (c *LifecycleController) IsKilled(ctx context.Context, id int) bool {
	_, ok, err := c.kv.Get(ctx, kvKilled+strconv.Itoa(id))
	if err != nil {
		c.logger.Warn("failed to read kill mark", slog.Int("tournament_id", id), slog.Any("error", err))
		return false
	}
	return ok
}

// SweepKilled destroys every tournament marked by Kill and returns how many were destroyed.
func (c *LifecycleController) SweepKilled(ctx context.Context) (int, error) {
	keys, err := c.kv.Keys(ctx, kvKilled)
	if err != nil {
		return 0, fmt.Errorf("failed to list kill marks: %w", err)
	}
	var errs []error
	n := 0
	for _, key := range keys {
		id, err := strconv.Atoi(strings.TrimPrefix(key, kvKilled))
		if err != nil {
			c.logger.Warn("dropping malformed kill mark", slog.String("key", key))
			_ = c.kv.Delete(ctx, key)
			continue
		}
		if err := c.destroy(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// RecomputeEntireTournament rebuilds every sheet from the pairing history.
func (c *LifecycleController) RecomputeEntireTournament(ctx context.Context, id int) error {
	_, err := c.action.Run(ctx, id, "recompute", GuardByID, func(ctx context.Context, t *models.Tournament) error {
		c.caches.Invalidate(t.ID)
		batch := make([]int, 0, c.cfg.RecomputeBatchSize)
		flush := func() error {
			g, gctx := errgroup.WithContext(ctx)
			for _, uid := range batch {
				uid := uid
				g.Go(func() error {
					_, err := c.sheets.Recompute(gctx, t, uid)
					return err
				})
			}
			batch = batch[:0]
			return g.Wait()
		}

		err := c.players.Stream(ctx, t.ID, func(p *models.Player) error {
			batch = append(batch, p.UserID)
			if len(batch) < c.cfg.RecomputeBatchSize {
				return nil
			}
			return flush()
		})
		if err == nil && len(batch) > 0 {
			err = flush()
		}
		c.caches.Invalidate(t.ID)
		if err != nil {
			return fmt.Errorf("failed to recompute tournament %d: %w", t.ID, err)
		}
		c.publisher.PairingCompleted(t)
		return nil
	})
	return err
}

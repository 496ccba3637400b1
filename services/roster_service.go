package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/Dosada05/arena/config"
	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/repositories"
)

// JoinRequest carries the caller-supplied parts of a join.
type JoinRequest struct {
	Code string `json:"code,omitempty"`
	Team *int   `json:"team,omitempty"`
	// AsLeader requires the user to captain the chosen team.
	AsLeader   bool `json:"as_leader,omitempty"`
	PairMeASAP bool `json:"pair_me_asap,omitempty"`
}

// PauseRecorder stores a re-entry pause for a user.
type PauseRecorder interface {
	RecordPause(ctx context.Context, userID int)
}

// countLimiter allows one player-count write per tournament per interval.
type countLimiter struct {
	clock   clockwork.Clock
	limit   rate.Limit
	mu      sync.Mutex
	perTour map[int]*rate.Limiter
}

func newCountLimiter(clock clockwork.Clock, perSecond float64) *countLimiter {
	return &countLimiter{clock: clock, limit: rate.Limit(perSecond), perTour: make(map[int]*rate.Limiter)}
}

func (l *countLimiter) allow(tournamentID int) bool {
	l.mu.Lock()
	lim, ok := l.perTour[tournamentID]
	if !ok {
		lim = rate.NewLimiter(l.limit, 1)
		l.perTour[tournamentID] = lim
	}
	l.mu.Unlock()
	return lim.AllowN(l.clock.Now(), 1)
}

func (l *countLimiter) forget(tournamentID int) {
	l.mu.Lock()
	delete(l.perTour, tournamentID)
	l.mu.Unlock()
}

// RosterManager admits and removes tournament participants.
type RosterManager struct {
	tournaments repositories.TournamentRepository
	players     repositories.PlayerRepository
	pairings    repositories.PairingRepository
	gate        *AccessGate
	membership  TeamMembership
	games       GameService
	pauses      PauseRecorder
	pool        *WaitingPool
	caches      StandingCaches
	sheets      *SheetUpdater
	publisher   *StandingPublisher
	action      *SerializedAction
	counts      *countLimiter
	cfg         config.Arena
	logger      *slog.Logger

	// roundTrigger runs a pairing round after a join fed the pool.
	roundTrigger func(ctx context.Context, tournamentID int)
}

func NewRosterManager(
	tournaments repositories.TournamentRepository,
	players repositories.PlayerRepository,
	pairings repositories.PairingRepository,
	gate *AccessGate,
	membership TeamMembership,
	games GameService,
	pauses PauseRecorder,
	pool *WaitingPool,
	caches StandingCaches,
	sheets *SheetUpdater,
	publisher *StandingPublisher,
	action *SerializedAction,
	clock clockwork.Clock,
	cfg config.Arena,
	logger *slog.Logger,
) *RosterManager {
	return &RosterManager{
		tournaments: tournaments,
		players:     players,
		pairings:    pairings,
		gate:        gate,
		membership:  membership,
		games:       games,
		pauses:      pauses,
		pool:        pool,
		caches:      caches,
		sheets:      sheets,
		publisher:   publisher,
		action:      action,
		counts:      newCountLimiter(clock, cfg.PlayerCountPerSec),
		cfg:         cfg,
		logger:      logger,
	}
}

// SetRoundTrigger registers the pairing round run once a join added the user
// to the pool of a started tournament or on request.
func (r *RosterManager) SetRoundTrigger(fn func(ctx context.Context, tournamentID int)) {
	r.roundTrigger = fn
}

// Join never returns an error: infrastructure failures and timeouts resolve to JoinNope.
func (r *RosterManager) Join(ctx context.Context, tournamentID int, user *models.Joiner, req JoinRequest) models.JoinResult {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.JoinTimeout)
	defer cancel()

	done := make(chan models.JoinResult, 1)
	go func() {
		res, pooled := r.join(ctx, tournamentID, user, req)
		done <- res
		if pooled && r.roundTrigger != nil {
			r.roundTrigger(context.WithoutCancel(ctx), tournamentID)
		}
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		r.logger.Warn("join timed out", slog.Int("tournament_id", tournamentID), slog.Int("user_id", user.ID))
		return models.JoinNope
	}
}

func (r *RosterManager) join(ctx context.Context, tournamentID int, user *models.Joiner, req JoinRequest) (models.JoinResult, bool) {
	result := models.JoinNope
	pooled := false
	ran, err := r.action.Run(ctx, tournamentID, "join", GuardEnterable, func(ctx context.Context, t *models.Tournament) error {
		existing, err := r.players.Find(ctx, t.ID, user.ID)
		if err != nil && !errors.Is(err, repositories.ErrPlayerNotFound) {
			return err
		}
		isRejoin := existing != nil

		verdict, err := r.gate.CanJoin(ctx, t, user, req.Code, isRejoin)
		if err != nil {
			return err
		}
		if !verdict.OK() {
			result = verdict
			return nil
		}

		var teamID *int
		if t.IsTeamBattle() {
			if isRejoin {
				teamID = existing.TeamID
			} else {
				ok, err := r.checkTeam(ctx, t, user.ID, req)
				if err != nil {
					return err
				}
				if !ok {
					result = models.JoinMissingTeam
					return nil
				}
				teamID = req.Team
			}
		}

		if isRejoin {
			err = r.players.Rejoin(ctx, t.ID, user.ID, user.Rating, user.Provisional)
		} else {
			err = r.players.Insert(ctx, &models.Player{
				TournamentID: t.ID,
				UserID:       user.ID,
				Username:     user.Username,
				Rating:       user.Rating,
				Provisional:  user.Provisional,
				TeamID:       teamID,
			})
			if errors.Is(err, repositories.ErrPlayerConflict) {
				err = r.players.Rejoin(ctx, t.ID, user.ID, user.Rating, user.Provisional)
			}
		}
		if err != nil {
			return err
		}

		r.caches.Invalidate(t.ID)
		r.touchNbPlayers(ctx, t.ID)
		// joining a running tournament means waiting for a game
		if req.PairMeASAP || t.IsStarted() {
			pooled = r.addToPoolUnlessPlaying(ctx, t.ID, user.ID) && t.IsStarted()
		}
		r.publisher.TriggerGlobal()
		result = models.JoinOk
		return nil
	})
	if err != nil {
		r.logger.Error("join failed", slog.Int("tournament_id", tournamentID), slog.Int("user_id", user.ID), slog.Any("error", err))
		return models.JoinNope, false
	}
	if !ran && r.missing(ctx, tournamentID) {
		return models.JoinTournamentNotFound, false
	}
	return result, pooled
}

// missing reports whether the tournament does not exist. Lookup failures count as present.
func (r *RosterManager) missing(ctx context.Context, tournamentID int) bool {
	_, err := r.tournaments.GetByID(ctx, tournamentID)
	return errors.Is(err, repositories.ErrTournamentNotFound)
}

func (r *RosterManager) checkTeam(ctx context.Context, t *models.Tournament, userID int, req JoinRequest) (bool, error) {
	if req.Team == nil || !t.TeamBattle.HasTeam(*req.Team) {
		return false, nil
	}
	member, err := r.membership.IsMember(ctx, *req.Team, userID)
	if err != nil || !member {
		return false, err
	}
	if req.AsLeader {
		return r.membership.IsLeader(ctx, *req.Team, userID)
	}
	return true, nil
}

// addToPoolUnlessPlaying reports whether the user was added.
func (r *RosterManager) addToPoolUnlessPlaying(ctx context.Context, tournamentID, userID int) bool {
	_, err := r.pairings.FindPlayingByUser(ctx, tournamentID, userID)
	switch {
	case errors.Is(err, repositories.ErrPairingNotFound):
		r.pool.Add(tournamentID, userID)
		return true
	case err != nil:
		r.logger.Warn("failed to check open pairing", slog.Int("tournament_id", tournamentID), slog.Int("user_id", userID), slog.Any("error", err))
	}
	return false
}

// Withdraw removes the player while the tournament is created and marks them
// withdrawn once it has started. Other states are a no-op.
func (r *RosterManager) Withdraw(ctx context.Context, tournamentID, userID int, isPause, isStalling bool) error {
	_, err := r.action.Run(ctx, tournamentID, "withdraw", GuardEnterable, func(ctx context.Context, t *models.Tournament) error {
		switch t.Status {
		case models.StatusCreated:
			if err := r.players.Delete(ctx, t.ID, userID); err != nil {
				if errors.Is(err, repositories.ErrPlayerNotFound) {
					return nil
				}
				return err
			}
			r.caches.Invalidate(t.ID)
			r.pool.Remove(t.ID, userID)
			r.publisher.TriggerGlobal()
			return r.SyncNbPlayers(ctx, t.ID)

		case models.StatusStarted:
			rank := -1
			if snap, err := r.caches.Ranking.Get(ctx, t.ID); err == nil {
				if rk, ok := snap.Ranking[userID]; ok {
					rank = rk
				}
			}
			if err := r.players.Withdraw(ctx, t.ID, userID); err != nil {
				if errors.Is(err, repositories.ErrPlayerNotFound) {
					return nil
				}
				return err
			}
			r.pool.Remove(t.ID, userID)
			r.caches.Invalidate(t.ID)
			if isStalling || (isPause && rank >= 0 && rank < r.cfg.PauseRankThreshold) {
				r.pauses.RecordPause(ctx, userID)
			}
		}
		return nil
	})
	return err
}

// EjectLame removes a user for misconduct. Every game they played is rewritten
// as a loss and every touched opponent is rescored.
func (r *RosterManager) EjectLame(ctx context.Context, tournamentID, userID int) error {
	_, err := r.action.Run(ctx, tournamentID, "ejectLame", GuardByID, func(ctx context.Context, t *models.Tournament) error {
		return r.removeWithForfeit(ctx, t, userID, false, true)
	})
	return err
}

// RemoveForTeamKick removes a user who left their team. Only open games are forfeited.
func (r *RosterManager) RemoveForTeamKick(ctx context.Context, tournamentID, userID int) error {
	_, err := r.action.Run(ctx, tournamentID, "removeForTeamKick", GuardEnterable, func(ctx context.Context, t *models.Tournament) error {
		return r.removeWithForfeit(ctx, t, userID, true, t.IsCreated())
	})
	return err
}

func (r *RosterManager) removeWithForfeit(ctx context.Context, t *models.Tournament, userID int, onlyPlaying, deleteRow bool) error {
	open, err := r.pairings.FindPlayingByUser(ctx, t.ID, userID)
	if err != nil && !errors.Is(err, repositories.ErrPairingNotFound) {
		return err
	}
	if open != nil {
		if err := r.games.ForceAbort(ctx, open.GameID); err != nil {
			r.logger.Warn("failed to abort game of removed player",
				slog.Int("tournament_id", t.ID), slog.String("game_id", open.GameID), slog.Any("error", err))
		}
	}

	touched, err := r.pairings.ForfeitByUser(ctx, t.ID, userID, onlyPlaying)
	if err != nil {
		return err
	}

	if deleteRow {
		err = r.players.Delete(ctx, t.ID, userID)
	} else {
		err = r.players.Withdraw(ctx, t.ID, userID)
	}
	if err != nil && !errors.Is(err, repositories.ErrPlayerNotFound) {
		return err
	}
	r.pool.Remove(t.ID, userID)
	r.caches.Invalidate(t.ID)

	opponents := make(map[int]bool)
	for _, p := range touched {
		opponents[p.Opponent(userID)] = true
	}
	var errs []error
	for opp := range opponents {
		if _, err := r.sheets.Recompute(ctx, t, opp); err != nil {
			errs = append(errs, fmt.Errorf("opponent %d: %w", opp, err))
		}
	}
	if !deleteRow {
		if _, err := r.sheets.Recompute(ctx, t, userID); err != nil {
			errs = append(errs, fmt.Errorf("removed player %d: %w", userID, err))
		}
	}
	r.caches.Invalidate(t.ID)
	if open != nil && t.IsStarted() {
		r.requeueOpponent(ctx, t.ID, open.Opponent(userID))
	}
	r.publisher.PairingCompleted(t)
	if err := r.SyncNbPlayers(ctx, t.ID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// requeueOpponent returns the opponent of a forfeited open game to the pool.
// The engine's later finish callback finds the pairing closed and requeues nobody.
func (r *RosterManager) requeueOpponent(ctx context.Context, tournamentID, userID int) {
	p, err := r.players.Find(ctx, tournamentID, userID)
	if err != nil {
		if !errors.Is(err, repositories.ErrPlayerNotFound) {
			r.logger.Warn("failed to load opponent of removed player",
				slog.Int("tournament_id", tournamentID), slog.Int("user_id", userID), slog.Any("error", err))
		}
		return
	}
	if !p.Withdrawn {
		r.addToPoolUnlessPlaying(ctx, tournamentID, userID)
	}
}

// touchNbPlayers refreshes the counter unless it was written less than an interval ago.
func (r *RosterManager) touchNbPlayers(ctx context.Context, tournamentID int) {
	if !r.counts.allow(tournamentID) {
		return
	}
	if err := r.SyncNbPlayers(ctx, tournamentID); err != nil {
		r.logger.Warn("failed to update player count", slog.Int("tournament_id", tournamentID), slog.Any("error", err))
	}
}

// SyncNbPlayers writes the current player count unconditionally.
func (r *RosterManager) SyncNbPlayers(ctx context.Context, tournamentID int) error {
	n, err := r.players.Count(ctx, tournamentID)
	if err != nil {
		return err
	}
	if err := r.tournaments.SetNbPlayers(ctx, tournamentID, n); err != nil && !errors.Is(err, repositories.ErrTournamentNotFound) {
		return err
	}
	return nil
}

// Forget drops per-tournament limiter state.
func (r *RosterManager) Forget(tournamentID int) {
	r.counts.forget(tournamentID)
}

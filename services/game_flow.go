package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/repositories"
)

// GameFlow applies game engine events to a tournament.
type GameFlow struct {
	players   repositories.PlayerRepository
	pairings  repositories.PairingRepository
	games     GameService
	pool      *WaitingPool
	caches    StandingCaches
	sheets    *SheetUpdater
	publisher *StandingPublisher
	action    *SerializedAction
	logger    *slog.Logger
}

func NewGameFlow(
	players repositories.PlayerRepository,
	pairings repositories.PairingRepository,
	games GameService,
	pool *WaitingPool,
	caches StandingCaches,
	sheets *SheetUpdater,
	publisher *StandingPublisher,
	action *SerializedAction,
	logger *slog.Logger,
) *GameFlow {
	return &GameFlow{
		players:   players,
		pairings:  pairings,
		games:     games,
		pool:      pool,
		caches:    caches,
		sheets:    sheets,
		publisher: publisher,
		action:    action,
		logger:    logger,
	}
}

func (g *GameFlow) pairingOf(ctx context.Context, gameID string) (*models.Pairing, error) {
	p, err := g.pairings.GetByGameID(ctx, gameID)
	if err != nil {
		if errors.Is(err, repositories.ErrPairingNotFound) {
			return nil, ErrPairingNotFound
		}
		return nil, err
	}
	return p, nil
}

// FinishGame terminates the pairing backing gameID. A nil winner is a draw.
// Repeated deliveries of the same result are ignored.
func (g *GameFlow) FinishGame(ctx context.Context, gameID string, winner *int, turns int) error {
	p, err := g.pairingOf(ctx, gameID)
	if err != nil {
		return err
	}
	if winner != nil && !p.Contains(*winner) {
		return fmt.Errorf("%w: winner %d does not play game %s", ErrValidationFailed, *winner, gameID)
	}

	_, err = g.action.Run(ctx, p.TournamentID, "finishGame", GuardStarted, func(ctx context.Context, t *models.Tournament) error {
		if err := g.pairings.Finish(ctx, p.ID, winner, turns); err != nil {
			if errors.Is(err, repositories.ErrPairingNotPlaying) {
				return nil
			}
			return err
		}

		// the ranking used for performance must not include the stale scores
		g.caches.Invalidate(t.ID)
		var errs []error
		for _, uid := range []int{p.User1, p.User2} {
			if _, err := g.sheets.Recompute(ctx, t, uid); err != nil {
				errs = append(errs, err)
			}
		}
		g.caches.Invalidate(t.ID)
		if err := errors.Join(errs...); err != nil {
			return err
		}

		for _, uid := range []int{p.User1, p.User2} {
			pl, err := g.players.Find(ctx, t.ID, uid)
			if err != nil {
				g.logger.Warn("failed to load player after game", slog.Int("tournament_id", t.ID), slog.Int("user_id", uid), slog.Any("error", err))
				continue
			}
			if !pl.Withdrawn {
				g.pool.Add(t.ID, uid)
			}
		}
		g.publisher.PairingCompleted(t)
		return nil
	})
	return err
}

// Berserk halves the user's clock in exchange for a bonus point on a win.
func (g *GameFlow) Berserk(ctx context.Context, gameID string, userID int) error {
	p, err := g.pairingOf(ctx, gameID)
	if err != nil {
		return err
	}
	side, ok := p.SideOf(userID)
	if !ok {
		return ErrForbiddenOperation
	}

	_, err = g.action.Run(ctx, p.TournamentID, "berserk", GuardStarted, func(ctx context.Context, t *models.Tournament) error {
		if !t.Berserkable {
			return ErrNotBerserkable
		}
		if !p.IsPlaying() || p.BerserkOf(userID) {
			return nil
		}
		accepted, err := g.games.RequestBerserk(ctx, p.GameID, side)
		if err != nil {
			return fmt.Errorf("game engine rejected berserk: %w", err)
		}
		if !accepted {
			return nil
		}
		return g.pairings.SetBerserk(ctx, p.ID, side)
	})
	return err
}

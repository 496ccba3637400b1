package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/repositories"
)

// SheetUpdater rewrites a player's derived score from their full pairing history.
type SheetUpdater struct {
	players  repositories.PlayerRepository
	pairings repositories.PairingRepository
	ranking  *RankingCache
}

func NewSheetUpdater(players repositories.PlayerRepository, pairings repositories.PairingRepository, ranking *RankingCache) *SheetUpdater {
	return &SheetUpdater{players: players, pairings: pairings, ranking: ranking}
}

// Recompute is safe to re-run: it never applies deltas.
func (s *SheetUpdater) Recompute(ctx context.Context, t *models.Tournament, userID int) (models.Sheet, error) {
	history, err := s.pairings.ListByUser(ctx, t.ID, userID)
	if err != nil {
		return models.Sheet{}, fmt.Errorf("failed to load pairings of user %d: %w", userID, err)
	}
	sheet := models.BuildSheet(userID, history, t.Streakable)

	snap, err := s.ranking.Get(ctx, t.ID)
	if err != nil {
		return models.Sheet{}, err
	}
	ratings := make(map[int]int, len(snap.Sorted))
	for _, p := range snap.Sorted {
		ratings[p.UserID] = p.Rating
	}

	err = s.players.UpdateSheet(ctx, t.ID, userID, repositories.PlayerSheet{
		Score:       sheet.Total,
		Fire:        sheet.Fire,
		Performance: models.Performance(userID, history, ratings),
	})
	if errors.Is(err, repositories.ErrPlayerNotFound) {
		return models.Sheet{}, fmt.Errorf("%w: tournament %d has pairings for missing player %d", ErrInvariantViolation, t.ID, userID)
	}
	if err != nil {
		return models.Sheet{}, err
	}
	return sheet, nil
}

package services

import (
	"context"

	"github.com/Dosada05/arena/models"
)

// GameService is the game engine as seen by the orchestrator.
type GameService interface {
	// StartGame materializes the game backing a stored pairing and returns its id.
	StartGame(ctx context.Context, t *models.Tournament, p *models.Pairing) (string, error)
	ForceAbort(ctx context.Context, gameID string) error
	RequestBerserk(ctx context.Context, gameID string, side models.Side) (bool, error)
}

// ConditionVerifier evaluates the external gating rules of a tournament.
type ConditionVerifier interface {
	Verify(ctx context.Context, t *models.Tournament, user *models.Joiner) (models.Verdicts, error)
	// Rejoin is the relaxed check applied to users who already have a player row.
	Rejoin(ctx context.Context, t *models.Tournament, user *models.Joiner) (models.Verdicts, error)
}

// TeamMembership answers whether a user currently belongs to a team.
type TeamMembership interface {
	IsMember(ctx context.Context, teamID, userID int) (bool, error)
	IsLeader(ctx context.Context, teamID, userID int) (bool, error)
}

// LeaderboardIndexer receives the final standings of finished tournaments.
type LeaderboardIndexer interface {
	Index(ctx context.Context, t *models.Tournament, standings []models.RankedPlayer) error
}

// TrophyKind is a placement award of a prized tournament.
type TrophyKind string

const (
	TrophyMarathonWinner         TrophyKind = "marathonWinner"
	TrophyMarathonTopTen         TrophyKind = "marathonTopTen"
	TrophyMarathonTopFifty       TrophyKind = "marathonTopFifty"
	TrophyMarathonTopHundred     TrophyKind = "marathonTopHundred"
	TrophyMarathonTopFiveHundred TrophyKind = "marathonTopFiveHundred"
)

// TrophyFor returns the award of a 1-based placement, false past the last tier.
func TrophyFor(place int) (TrophyKind, bool) {
	switch {
	case place < 1:
		return "", false
	case place == 1:
		return TrophyMarathonWinner, true
	case place <= 10:
		return TrophyMarathonTopTen, true
	case place <= 50:
		return TrophyMarathonTopFifty, true
	case place <= 100:
		return TrophyMarathonTopHundred, true
	case place <= 500:
		return TrophyMarathonTopFiveHundred, true
	}
	return "", false
}

type TrophyAwarder interface {
	Award(ctx context.Context, userID int, kind TrophyKind, t *models.Tournament) error
	// InvalidateWinners drops any cached list of tournament winners.
	InvalidateWinners(ctx context.Context)
}

// PausePolicy is the global per-user join pause.
type PausePolicy interface {
	IsPaused(ctx context.Context, userID int) bool
}

// ResultsArchiver stores the final standings of a finished tournament.
type ResultsArchiver interface {
	Archive(ctx context.Context, t *models.Tournament, standings []models.RankedPlayer) (string, error)
	// Remove drops the archived standings of a destroyed tournament.
	Remove(ctx context.Context, tournamentID int) error
}

package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Dosada05/arena/models"
)

var ErrGameNotActive = errors.New("game is not active")

type localGame struct {
	tournamentID int
	berserk      map[models.Side]bool
}

// LocalGameEngine is an in-process GameService. Games are tracked until
// aborted; results arrive through the finish endpoint.
type LocalGameEngine struct {
	mu     sync.Mutex
	games  map[string]*localGame
	logger *slog.Logger
}

var _ GameService = (*LocalGameEngine)(nil)

func NewLocalGameEngine(logger *slog.Logger) *LocalGameEngine {
	return &LocalGameEngine{games: make(map[string]*localGame), logger: logger}
}

func (e *LocalGameEngine) StartGame(_ context.Context, t *models.Tournament, p *models.Pairing) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.games[p.GameID] = &localGame{tournamentID: t.ID, berserk: make(map[models.Side]bool, 2)}
	e.logger.Debug("game started", slog.Int("tournament_id", t.ID), slog.String("game_id", p.GameID))
	return p.GameID, nil
}

func (e *LocalGameEngine) ForceAbort(_ context.Context, gameID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.games, gameID)
	return nil
}

// RequestBerserk accepts once per side of an active game.
func (e *LocalGameEngine) RequestBerserk(_ context.Context, gameID string, side models.Side) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.games[gameID]
	if !ok {
		return false, ErrGameNotActive
	}
	if g.berserk[side] {
		return false, nil
	}
	g.berserk[side] = true
	return true, nil
}

// Active reports whether the game was started and not aborted.
func (e *LocalGameEngine) Active(gameID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.games[gameID]
	return ok
}

// LogLeaderboard writes final standings to the log.
type LogLeaderboard struct {
	logger *slog.Logger
	top    int
}

func NewLogLeaderboard(logger *slog.Logger, top int) *LogLeaderboard {
	return &LogLeaderboard{logger: logger, top: top}
}

func (l *LogLeaderboard) Index(_ context.Context, t *models.Tournament, standings []models.RankedPlayer) error {
	n := l.top
	if n > len(standings) {
		n = len(standings)
	}
	for _, rp := range standings[:n] {
		l.logger.Info("leaderboard entry",
			slog.Int("tournament_id", t.ID), slog.Int("rank", rp.Rank+1),
			slog.Int("user_id", rp.Player.UserID), slog.Int("score", rp.Player.Score))
	}
	return nil
}

// LogTrophies records awards in the log.
type LogTrophies struct {
	logger *slog.Logger
}

func NewLogTrophies(logger *slog.Logger) *LogTrophies {
	return &LogTrophies{logger: logger}
}

func (l *LogTrophies) Award(_ context.Context, userID int, kind TrophyKind, t *models.Tournament) error {
	l.logger.Info("trophy awarded", slog.Int("tournament_id", t.ID), slog.Int("user_id", userID), slog.String("trophy", string(kind)))
	return nil
}

func (l *LogTrophies) InvalidateWinners(context.Context) {
	l.logger.Debug("winners cache invalidated")
}

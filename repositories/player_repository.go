package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/arena/models"
)

var (
	ErrPlayerNotFound          = errors.New("player not found")
	ErrPlayerConflict          = errors.New("player conflict: user already joined this tournament")
	ErrPlayerTournamentInvalid = errors.New("player tournament conflict or invalid")
	ErrPlayerUserInvalid       = errors.New("player user conflict or invalid")
)

// PlayerSheet is the derived part of a player row rewritten on every recompute.
type PlayerSheet struct {
	Score       int
	Fire        bool
	Performance int
}

type PlayerRepository interface {
	Insert(ctx context.Context, p *models.Player) error
	// Rejoin refreshes the rating snapshot and clears the withdrawn flag. Score is untouched.
	Rejoin(ctx context.Context, tournamentID, userID, rating int, provisional bool) error
	Find(ctx context.Context, tournamentID, userID int) (*models.Player, error)
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Player, error)
	ListByTeam(ctx context.Context, tournamentID, teamID int) ([]*models.Player, error)
	// Stream iterates players in ranking order through a server-side cursor.
	Stream(ctx context.Context, tournamentID int, fn func(*models.Player) error) error
	Withdraw(ctx context.Context, tournamentID, userID int) error
	UnwithdrawAll(ctx context.Context, exec SQLExecutor, tournamentID int) error
	UpdateSheet(ctx context.Context, tournamentID, userID int, sheet PlayerSheet) error
	Count(ctx context.Context, tournamentID int) (int, error)
	CountActive(ctx context.Context, tournamentID int) (int, error)
	Delete(ctx context.Context, tournamentID, userID int) error
	DeleteByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) error
}

type postgresPlayerRepository struct {
	db *sql.DB
}

func NewPostgresPlayerRepository(db *sql.DB) PlayerRepository {
	return &postgresPlayerRepository{db: db}
}

func (r *postgresPlayerRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const playerColumns = `
	id, tournament_id, user_id, username, score, fire, rating, provisional,
	performance, team_id, withdrawn, created_at`

func scanPlayer(s rowScanner) (*models.Player, error) {
	p := &models.Player{}
	err := s.Scan(
		&p.ID, &p.TournamentID, &p.UserID, &p.Username, &p.Score, &p.Fire, &p.Rating, &p.Provisional,
		&p.Performance, &p.TeamID, &p.Withdrawn, &p.CreatedAt,
	)
	return p, err
}

func (r *postgresPlayerRepository) Insert(ctx context.Context, p *models.Player) error {
	query := `
		INSERT INTO arena_players (tournament_id, user_id, username, rating, provisional, team_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		p.TournamentID, p.UserID, p.Username, p.Rating, p.Provisional, p.TeamID,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if constraint, ok := pqConstraint(err, pqUniqueViolation); ok && constraint == "arena_players_tournament_id_user_id_key" {
			return ErrPlayerConflict
		}
		if constraint, ok := pqConstraint(err, pqForeignKeyViolation); ok {
			switch constraint {
			case "arena_players_tournament_id_fkey":
				return ErrPlayerTournamentInvalid
			case "arena_players_user_id_fkey":
				return ErrPlayerUserInvalid
			}
		}
		return fmt.Errorf("failed to insert player: %w", err)
	}
	return nil
}

func (r *postgresPlayerRepository) Rejoin(ctx context.Context, tournamentID, userID, rating int, provisional bool) error {
	query := `
		UPDATE arena_players SET rating = $1, provisional = $2, withdrawn = FALSE
		WHERE tournament_id = $3 AND user_id = $4`
	result, err := r.db.ExecContext(ctx, query, rating, provisional, tournamentID, userID)
	if err != nil {
		return fmt.Errorf("failed to rejoin player: %w", err)
	}
	return checkAffectedRows(result, ErrPlayerNotFound)
}

func (r *postgresPlayerRepository) Find(ctx context.Context, tournamentID, userID int) (*models.Player, error) {
	query := `SELECT` + playerColumns + ` FROM arena_players WHERE tournament_id = $1 AND user_id = $2`
	p, err := scanPlayer(r.db.QueryRowContext(ctx, query, tournamentID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to find player: %w", err)
	}
	return p, nil
}

func (r *postgresPlayerRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Player, error) {
	players := make([]*models.Player, 0)
	err := r.each(ctx, func(p *models.Player) error {
		players = append(players, p)
		return nil
	}, query, args...)
	if err != nil {
		return nil, err
	}
	return players, nil
}

func (r *postgresPlayerRepository) each(ctx context.Context, fn func(*models.Player) error, query string, args ...interface{}) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query players: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return fmt.Errorf("failed to scan player row: %w", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error during player rows iteration: %w", err)
	}
	return nil
}

const playerRankingOrder = ` ORDER BY score DESC, rating DESC, user_id ASC`

func (r *postgresPlayerRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Player, error) {
	query := `SELECT` + playerColumns + ` FROM arena_players WHERE tournament_id = $1` + playerRankingOrder
	return r.list(ctx, query, tournamentID)
}

func (r *postgresPlayerRepository) ListByTeam(ctx context.Context, tournamentID, teamID int) ([]*models.Player, error) {
	query := `SELECT` + playerColumns + ` FROM arena_players WHERE tournament_id = $1 AND team_id = $2` + playerRankingOrder
	return r.list(ctx, query, tournamentID, teamID)
}

func (r *postgresPlayerRepository) Stream(ctx context.Context, tournamentID int, fn func(*models.Player) error) error {
	query := `SELECT` + playerColumns + ` FROM arena_players WHERE tournament_id = $1` + playerRankingOrder
	return r.each(ctx, fn, query, tournamentID)
}

func (r *postgresPlayerRepository) Withdraw(ctx context.Context, tournamentID, userID int) error {
	query := `UPDATE arena_players SET withdrawn = TRUE WHERE tournament_id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, tournamentID, userID)
	if err != nil {
		return fmt.Errorf("failed to withdraw player: %w", err)
	}
	return checkAffectedRows(result, ErrPlayerNotFound)
}

func (r *postgresPlayerRepository) UnwithdrawAll(ctx context.Context, exec SQLExecutor, tournamentID int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE arena_players SET withdrawn = FALSE WHERE tournament_id = $1 AND withdrawn`
	if _, err := executor.ExecContext(ctx, query, tournamentID); err != nil {
		return fmt.Errorf("failed to unwithdraw players of tournament %d: %w", tournamentID, err)
	}
	return nil
}

func (r *postgresPlayerRepository) UpdateSheet(ctx context.Context, tournamentID, userID int, sheet PlayerSheet) error {
	query := `
		UPDATE arena_players SET score = $1, fire = $2, performance = $3
		WHERE tournament_id = $4 AND user_id = $5`
	result, err := r.db.ExecContext(ctx, query, sheet.Score, sheet.Fire, sheet.Performance, tournamentID, userID)
	if err != nil {
		return fmt.Errorf("failed to update sheet: %w", err)
	}
	return checkAffectedRows(result, ErrPlayerNotFound)
}

func (r *postgresPlayerRepository) Count(ctx context.Context, tournamentID int) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM arena_players WHERE tournament_id = $1`
	if err := r.db.QueryRowContext(ctx, query, tournamentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count players: %w", err)
	}
	return n, nil
}

func (r *postgresPlayerRepository) CountActive(ctx context.Context, tournamentID int) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM arena_players WHERE tournament_id = $1 AND NOT withdrawn`
	if err := r.db.QueryRowContext(ctx, query, tournamentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active players: %w", err)
	}
	return n, nil
}

func (r *postgresPlayerRepository) Delete(ctx context.Context, tournamentID, userID int) error {
	query := `DELETE FROM arena_players WHERE tournament_id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, tournamentID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	return checkAffectedRows(result, ErrPlayerNotFound)
}

func (r *postgresPlayerRepository) DeleteByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) error {
	executor := r.getExecutor(exec)
	query := `DELETE FROM arena_players WHERE tournament_id = $1`
	if _, err := executor.ExecContext(ctx, query, tournamentID); err != nil {
		return fmt.Errorf("failed to delete players of tournament %d: %w", tournamentID, err)
	}
	return nil
}

package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/arena/models"
)

var ErrTeamNotFound = errors.New("team not found")

type TeamRepository interface {
	GetByID(ctx context.Context, id int) (*models.Team, error)
	// IsMember reports whether the user currently belongs to the team.
	IsMember(ctx context.Context, teamID, userID int) (bool, error)
	// IsLeader reports whether the user is the team's captain.
	IsLeader(ctx context.Context, teamID, userID int) (bool, error)
}

type postgresTeamRepository struct {
	db *sql.DB
}

func NewPostgresTeamRepository(db *sql.DB) TeamRepository {
	return &postgresTeamRepository{db: db}
}

func (r *postgresTeamRepository) GetByID(ctx context.Context, id int) (*models.Team, error) {
	query := `SELECT id, name, captain_id, created_at FROM teams WHERE id = $1`
	t := &models.Team{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Name, &t.CaptainID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to get team %d: %w", id, err)
	}
	return t, nil
}

func (r *postgresTeamRepository) IsMember(ctx context.Context, teamID, userID int) (bool, error) {
	var member bool
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND team_id = $2)`
	if err := r.db.QueryRowContext(ctx, query, userID, teamID).Scan(&member); err != nil {
		return false, fmt.Errorf("failed to check team membership: %w", err)
	}
	return member, nil
}

func (r *postgresTeamRepository) IsLeader(ctx context.Context, teamID, userID int) (bool, error) {
	var leader bool
	query := `SELECT EXISTS (SELECT 1 FROM teams WHERE id = $1 AND captain_id = $2)`
	if err := r.db.QueryRowContext(ctx, query, teamID, userID).Scan(&leader); err != nil {
		return false, fmt.Errorf("failed to check team leadership: %w", err)
	}
	return leader, nil
}

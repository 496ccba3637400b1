package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/arena/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads the account data the access gate needs.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (*models.User, error)
}

type postgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) UserRepository {
	return &postgresUserRepository{db: db}
}

const userColumns = `
	id, nickname, team_id, role, rating, provisional, nb_rated_games, arena_banned, prize_banned, created_at`

func scanUser(s rowScanner, u *models.User) error {
	return s.Scan(
		&u.ID, &u.Nickname, &u.TeamID, &u.Role, &u.Rating, &u.Provisional,
		&u.NbRatedGames, &u.ArenaBanned, &u.PrizeBanned, &u.CreatedAt,
	)
}

func (r *postgresUserRepository) GetByID(ctx context.Context, id int) (*models.User, error) {
	query := `SELECT` + userColumns + ` FROM users WHERE id = $1`
	u := &models.User{}
	if err := scanUser(r.db.QueryRowContext(ctx, query, id), u); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return u, nil
}

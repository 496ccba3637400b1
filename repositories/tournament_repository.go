package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/arena/models"
)

var (
	ErrTournamentNotFound   = errors.New("tournament not found")
	ErrTournamentInvalidOrg = errors.New("invalid creator reference")
	ErrTournamentInvalid    = errors.New("tournament violates a check constraint")
)

type ListTournamentsFilter struct {
	Status    *models.TournamentStatus
	CreatedBy *int
	Limit     int
	Offset    int
}

type TournamentRepository interface {
	Create(ctx context.Context, tournament *models.Tournament) error
	GetByID(ctx context.Context, id int) (*models.Tournament, error)
	List(ctx context.Context, filter ListTournamentsFilter) ([]*models.Tournament, error)
	// ListVisible returns created and started tournaments, soonest first.
	ListVisible(ctx context.Context) ([]*models.Tournament, error)
	ListStarted(ctx context.Context) ([]*models.Tournament, error)
	// ListDue returns created tournaments whose start is due and started ones whose window has elapsed.
	ListDue(ctx context.Context, now time.Time) (toStart, toFinish []*models.Tournament, err error)
	Update(ctx context.Context, tournament *models.Tournament) error
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.TournamentStatus) error
	SetFeaturedGame(ctx context.Context, id int, gameID *string) error
	SetWinner(ctx context.Context, exec SQLExecutor, id int, winnerID *int) error
	SetNbPlayers(ctx context.Context, id int, nb int) error
	SetTeamBattle(ctx context.Context, id int, tb *models.TeamBattle) error
	Delete(ctx context.Context, exec SQLExecutor, id int) error
}

type postgresTournamentRepository struct {
	db *sql.DB
}

func NewPostgresTournamentRepository(db *sql.DB) TournamentRepository {
	return &postgresTournamentRepository{db: db}
}

func (r *postgresTournamentRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const tournamentColumns = `
	id, name, status, starts_at, minutes, clock_limit, clock_increment,
	rated, berserkable, streakable, category, password, conditions, team_battle,
	featured_game_id, nb_players, winner_id, created_by, created_at`

func scanTournament(s rowScanner) (*models.Tournament, error) {
	t := &models.Tournament{}
	var conditions, teamBattle []byte
	err := s.Scan(
		&t.ID, &t.Name, &t.Status, &t.StartsAt, &t.Minutes, &t.ClockLimit, &t.ClockIncrement,
		&t.Rated, &t.Berserkable, &t.Streakable, &t.Category, &t.Password, &conditions, &teamBattle,
		&t.FeaturedGameID, &t.NbPlayers, &t.WinnerID, &t.CreatedBy, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &t.Conditions); err != nil {
			return nil, fmt.Errorf("failed to decode conditions of tournament %d: %w", t.ID, err)
		}
	}
	if len(teamBattle) > 0 {
		t.TeamBattle = &models.TeamBattle{}
		if err := json.Unmarshal(teamBattle, t.TeamBattle); err != nil {
			return nil, fmt.Errorf("failed to decode team battle of tournament %d: %w", t.ID, err)
		}
	}
	return t, nil
}

func (r *postgresTournamentRepository) queryTournaments(ctx context.Context, query string, args ...interface{}) ([]*models.Tournament, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tournaments: %w", err)
	}
	defer rows.Close()

	tournaments := make([]*models.Tournament, 0)
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tournament row: %w", err)
		}
		tournaments = append(tournaments, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during tournament rows iteration: %w", err)
	}
	return tournaments, nil
}

func (r *postgresTournamentRepository) Create(ctx context.Context, t *models.Tournament) error {
	conditions, err := t.ConditionsJSON()
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}
	teamBattle, err := t.TeamBattleJSON()
	if err != nil {
		return fmt.Errorf("failed to encode team battle: %w", err)
	}
	query := `
		INSERT INTO tournaments (
			name, status, starts_at, minutes, clock_limit, clock_increment,
			rated, berserkable, streakable, category, password, conditions, team_battle, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at`

	err = r.db.QueryRowContext(ctx, query,
		t.Name, t.Status, t.StartsAt, t.Minutes, t.ClockLimit, t.ClockIncrement,
		t.Rated, t.Berserkable, t.Streakable, t.Category, t.Password, string(conditions), nullableJSON(teamBattle), t.CreatedBy,
	).Scan(&t.ID, &t.CreatedAt)
	return r.handleTournamentError(err)
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE id = $1`
	t, err := scanTournament(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament %d: %w", id, err)
	}
	return t, nil
}

func (r *postgresTournamentRepository) List(ctx context.Context, filter ListTournamentsFilter) ([]*models.Tournament, error) {
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE 1=1`
	args := []interface{}{}
	argID := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}
	if filter.CreatedBy != nil {
		query += fmt.Sprintf(" AND created_by = $%d", argID)
		args = append(args, *filter.CreatedBy)
		argID++
	}

	query += " ORDER BY starts_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
		argID++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argID)
		args = append(args, filter.Offset)
	}
	return r.queryTournaments(ctx, query, args...)
}

func (r *postgresTournamentRepository) ListVisible(ctx context.Context) ([]*models.Tournament, error) {
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE status IN ($1, $2) ORDER BY starts_at ASC, id ASC`
	return r.queryTournaments(ctx, query, models.StatusCreated, models.StatusStarted)
}

func (r *postgresTournamentRepository) ListStarted(ctx context.Context) ([]*models.Tournament, error) {
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE status = $1 ORDER BY id ASC`
	return r.queryTournaments(ctx, query, models.StatusStarted)
}

func (r *postgresTournamentRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Tournament, []*models.Tournament, error) {
	query := `SELECT` + tournamentColumns + ` FROM tournaments
		WHERE (status = $1 AND starts_at <= $3)
		   OR (status = $2 AND starts_at + make_interval(mins => minutes) <= $3)
		ORDER BY id ASC`
	all, err := r.queryTournaments(ctx, query, models.StatusCreated, models.StatusStarted, now)
	if err != nil {
		return nil, nil, err
	}
	var toStart, toFinish []*models.Tournament
	for _, t := range all {
		if t.IsCreated() {
			toStart = append(toStart, t)
		} else {
			toFinish = append(toFinish, t)
		}
	}
	return toStart, toFinish, nil
}

func (r *postgresTournamentRepository) Update(ctx context.Context, t *models.Tournament) error {
	conditions, err := t.ConditionsJSON()
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}
	query := `
		UPDATE tournaments SET
			name = $1,
			starts_at = $2,
			minutes = $3,
			clock_limit = $4,
			clock_increment = $5,
			rated = $6,
			berserkable = $7,
			streakable = $8,
			category = $9,
			password = $10,
			conditions = $11
		WHERE id = $12`

	result, err := r.db.ExecContext(ctx, query,
		t.Name, t.StartsAt, t.Minutes, t.ClockLimit, t.ClockIncrement,
		t.Rated, t.Berserkable, t.Streakable, t.Category, t.Password, string(conditions),
		t.ID,
	)
	if err != nil {
		return r.handleTournamentError(err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.TournamentStatus) error {
	executor := r.getExecutor(exec)
	query := `UPDATE tournaments SET status = $1 WHERE id = $2`
	result, err := executor.ExecContext(ctx, query, status, id)
	if err != nil {
		return r.handleTournamentError(err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) SetFeaturedGame(ctx context.Context, id int, gameID *string) error {
	query := `UPDATE tournaments SET featured_game_id = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, gameID, id)
	if err != nil {
		return fmt.Errorf("failed to set featured game of tournament %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) SetWinner(ctx context.Context, exec SQLExecutor, id int, winnerID *int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE tournaments SET winner_id = $1 WHERE id = $2`
	result, err := executor.ExecContext(ctx, query, winnerID, id)
	if err != nil {
		return fmt.Errorf("failed to set winner of tournament %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) SetNbPlayers(ctx context.Context, id int, nb int) error {
	query := `UPDATE tournaments SET nb_players = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, nb, id)
	if err != nil {
		return fmt.Errorf("failed to set player count of tournament %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) SetTeamBattle(ctx context.Context, id int, tb *models.TeamBattle) error {
	var payload []byte
	if tb != nil {
		var err error
		if payload, err = json.Marshal(tb); err != nil {
			return fmt.Errorf("failed to encode team battle: %w", err)
		}
	}
	query := `UPDATE tournaments SET team_battle = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, nullableJSON(payload), id)
	if err != nil {
		return fmt.Errorf("failed to set team battle of tournament %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) Delete(ctx context.Context, exec SQLExecutor, id int) error {
	executor := r.getExecutor(exec)
	query := `DELETE FROM tournaments WHERE id = $1`
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return r.handleTournamentError(err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) handleTournamentError(err error) error {
	if err == nil {
		return nil
	}
	if constraint, ok := pqConstraint(err, pqForeignKeyViolation); ok && constraint == "tournaments_created_by_fkey" {
		return ErrTournamentInvalidOrg
	}
	if _, ok := pqConstraint(err, pqCheckViolation); ok {
		return ErrTournamentInvalid
	}
	return fmt.Errorf("tournament query failed: %w", err)
}

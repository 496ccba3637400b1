package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/arena/models"
)

var (
	ErrPairingNotFound   = errors.New("pairing not found")
	ErrPairingNotPlaying = errors.New("pairing is not playing")
	ErrPairingSameUser   = errors.New("pairing needs two distinct users")
)

type PairingRepository interface {
	// InsertBatch stores a round atomically. Pairings involving a user who already
	// has an open pairing in the tournament are dropped; the stored ones are returned.
	InsertBatch(ctx context.Context, tournamentID int, pairings []*models.Pairing) ([]*models.Pairing, error)
	GetByID(ctx context.Context, id string) (*models.Pairing, error)
	GetByGameID(ctx context.Context, gameID string) (*models.Pairing, error)
	ListPlaying(ctx context.Context, tournamentID int) ([]*models.Pairing, error)
	FindPlayingByUser(ctx context.Context, tournamentID, userID int) (*models.Pairing, error)
	// ListByUser returns every pairing of the user in chronological order.
	ListByUser(ctx context.Context, tournamentID, userID int) ([]*models.Pairing, error)
	SetGameID(ctx context.Context, id, gameID string) error
	Finish(ctx context.Context, id string, winner *int, turns int) error
	SetBerserk(ctx context.Context, id string, side models.Side) error
	Abort(ctx context.Context, id string) error
	AbortAllPlaying(ctx context.Context, exec SQLExecutor, tournamentID int) (int64, error)
	// ForfeitByUser rewrites the user's pairings so the opponent wins and returns them.
	// With onlyPlaying, finished games are left untouched.
	ForfeitByUser(ctx context.Context, tournamentID, userID int, onlyPlaying bool) ([]*models.Pairing, error)
	CountByTournament(ctx context.Context, tournamentID int) (int, error)
	DeleteByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) error
}

type postgresPairingRepository struct {
	db *sql.DB
}

func NewPostgresPairingRepository(db *sql.DB) PairingRepository {
	return &postgresPairingRepository{db: db}
}

func (r *postgresPairingRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const pairingColumns = `
	id, tournament_id, user1, user2, game_id, status, winner, berserk1, berserk2, turns, created_at`

func scanPairing(s rowScanner) (*models.Pairing, error) {
	p := &models.Pairing{}
	err := s.Scan(
		&p.ID, &p.TournamentID, &p.User1, &p.User2, &p.GameID, &p.Status,
		&p.Winner, &p.Berserk1, &p.Berserk2, &p.Turns, &p.CreatedAt,
	)
	return p, err
}

func queryPairings(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) ([]*models.Pairing, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairings: %w", err)
	}
	defer rows.Close()

	pairings := make([]*models.Pairing, 0)
	for rows.Next() {
		p, err := scanPairing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pairing row: %w", err)
		}
		pairings = append(pairings, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during pairing rows iteration: %w", err)
	}
	return pairings, nil
}

func (r *postgresPairingRepository) InsertBatch(ctx context.Context, tournamentID int, pairings []*models.Pairing) ([]*models.Pairing, error) {
	if len(pairings) == 0 {
		return nil, nil
	}
	var inserted []*models.Pairing
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		// Serializes concurrent rounds of the same tournament.
		var id int
		if err := tx.QueryRowContext(ctx, `SELECT id FROM tournaments WHERE id = $1 FOR UPDATE`, tournamentID).Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTournamentNotFound
			}
			return fmt.Errorf("failed to lock tournament %d: %w", tournamentID, err)
		}

		busy := make(map[int]bool)
		rows, err := tx.QueryContext(ctx,
			`SELECT user1, user2 FROM arena_pairings WHERE tournament_id = $1 AND status = $2`,
			tournamentID, models.PairingPlaying)
		if err != nil {
			return fmt.Errorf("failed to load playing users: %w", err)
		}
		for rows.Next() {
			var u1, u2 int
			if err := rows.Scan(&u1, &u2); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan playing users: %w", err)
			}
			busy[u1], busy[u2] = true, true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error during playing users iteration: %w", err)
		}

		query := `
			INSERT INTO arena_pairings (id, tournament_id, user1, user2, game_id, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at`
		for _, p := range pairings {
			if p.User1 == p.User2 {
				return ErrPairingSameUser
			}
			if busy[p.User1] || busy[p.User2] {
				continue
			}
			p.TournamentID = tournamentID
			p.Status = models.PairingPlaying
			if p.GameID == "" {
				p.GameID = p.ID
			}
			if err := tx.QueryRowContext(ctx, query,
				p.ID, p.TournamentID, p.User1, p.User2, p.GameID, p.Status,
			).Scan(&p.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert pairing %s: %w", p.ID, err)
			}
			busy[p.User1], busy[p.User2] = true, true
			inserted = append(inserted, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func (r *postgresPairingRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Pairing, error) {
	p, err := scanPairing(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPairingNotFound
		}
		return nil, fmt.Errorf("failed to find pairing: %w", err)
	}
	return p, nil
}

func (r *postgresPairingRepository) GetByID(ctx context.Context, id string) (*models.Pairing, error) {
	return r.findOne(ctx, `SELECT`+pairingColumns+` FROM arena_pairings WHERE id = $1`, id)
}

func (r *postgresPairingRepository) GetByGameID(ctx context.Context, gameID string) (*models.Pairing, error) {
	return r.findOne(ctx, `SELECT`+pairingColumns+` FROM arena_pairings WHERE game_id = $1`, gameID)
}

func (r *postgresPairingRepository) ListPlaying(ctx context.Context, tournamentID int) ([]*models.Pairing, error) {
	query := `SELECT` + pairingColumns + ` FROM arena_pairings WHERE tournament_id = $1 AND status = $2 ORDER BY created_at ASC`
	return queryPairings(ctx, r.db, query, tournamentID, models.PairingPlaying)
}

func (r *postgresPairingRepository) FindPlayingByUser(ctx context.Context, tournamentID, userID int) (*models.Pairing, error) {
	query := `SELECT` + pairingColumns + ` FROM arena_pairings
		WHERE tournament_id = $1 AND status = $2 AND (user1 = $3 OR user2 = $3)
		LIMIT 1`
	return r.findOne(ctx, query, tournamentID, models.PairingPlaying, userID)
}

func (r *postgresPairingRepository) ListByUser(ctx context.Context, tournamentID, userID int) ([]*models.Pairing, error) {
	query := `SELECT` + pairingColumns + ` FROM arena_pairings
		WHERE tournament_id = $1 AND (user1 = $2 OR user2 = $2)
		ORDER BY created_at ASC, id ASC`
	return queryPairings(ctx, r.db, query, tournamentID, userID)
}

func (r *postgresPairingRepository) SetGameID(ctx context.Context, id, gameID string) error {
	query := `UPDATE arena_pairings SET game_id = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, gameID, id)
	if err != nil {
		return fmt.Errorf("failed to set game of pairing %s: %w", id, err)
	}
	return checkAffectedRows(result, ErrPairingNotFound)
}

func (r *postgresPairingRepository) Finish(ctx context.Context, id string, winner *int, turns int) error {
	query := `UPDATE arena_pairings SET status = $1, winner = $2, turns = $3 WHERE id = $4 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, models.PairingFinished, winner, turns, id, models.PairingPlaying)
	if err != nil {
		return fmt.Errorf("failed to finish pairing %s: %w", id, err)
	}
	return checkAffectedRows(result, ErrPairingNotPlaying)
}

func (r *postgresPairingRepository) SetBerserk(ctx context.Context, id string, side models.Side) error {
	column := "berserk1"
	if side == models.Side2 {
		column = "berserk2"
	}
	query := fmt.Sprintf(`UPDATE arena_pairings SET %s = TRUE WHERE id = $1 AND status = $2`, column)
	result, err := r.db.ExecContext(ctx, query, id, models.PairingPlaying)
	if err != nil {
		return fmt.Errorf("failed to berserk pairing %s: %w", id, err)
	}
	return checkAffectedRows(result, ErrPairingNotPlaying)
}

func (r *postgresPairingRepository) Abort(ctx context.Context, id string) error {
	query := `UPDATE arena_pairings SET status = $1 WHERE id = $2 AND status = $3`
	result, err := r.db.ExecContext(ctx, query, models.PairingAborted, id, models.PairingPlaying)
	if err != nil {
		return fmt.Errorf("failed to abort pairing %s: %w", id, err)
	}
	return checkAffectedRows(result, ErrPairingNotPlaying)
}

func (r *postgresPairingRepository) AbortAllPlaying(ctx context.Context, exec SQLExecutor, tournamentID int) (int64, error) {
	executor := r.getExecutor(exec)
	query := `UPDATE arena_pairings SET status = $1 WHERE tournament_id = $2 AND status = $3`
	result, err := executor.ExecContext(ctx, query, models.PairingAborted, tournamentID, models.PairingPlaying)
	if err != nil {
		return 0, fmt.Errorf("failed to abort playing pairings of tournament %d: %w", tournamentID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return n, nil
}

func (r *postgresPairingRepository) ForfeitByUser(ctx context.Context, tournamentID, userID int, onlyPlaying bool) ([]*models.Pairing, error) {
	query := `
		UPDATE arena_pairings
		SET status = $1, winner = CASE WHEN user1 = $3 THEN user2 ELSE user1 END
		WHERE tournament_id = $2 AND (user1 = $3 OR user2 = $3) AND status <> $4`
	args := []interface{}{models.PairingFinished, tournamentID, userID, models.PairingAborted}
	if onlyPlaying {
		query += ` AND status = $5`
		args = append(args, models.PairingPlaying)
	}
	query += ` RETURNING` + pairingColumns
	return queryPairings(ctx, r.db, query, args...)
}

func (r *postgresPairingRepository) CountByTournament(ctx context.Context, tournamentID int) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM arena_pairings WHERE tournament_id = $1`
	if err := r.db.QueryRowContext(ctx, query, tournamentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pairings: %w", err)
	}
	return n, nil
}

func (r *postgresPairingRepository) DeleteByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) error {
	executor := r.getExecutor(exec)
	query := `DELETE FROM arena_pairings WHERE tournament_id = $1`
	if _, err := executor.ExecContext(ctx, query, tournamentID); err != nil {
		return fmt.Errorf("failed to delete pairings of tournament %d: %w", tournamentID, err)
	}
	return nil
}

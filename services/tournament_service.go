package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Dosada05/arena/config"
	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/repositories"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	defaultLeaders   = 5
)

// Actor is the authenticated caller of a management operation.
type Actor struct {
	UserID int
	Role   models.UserRole
}

func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

type CreateTournamentInput struct {
	Name           string            `json:"name"`
	StartsAt       time.Time         `json:"starts_at"`
	Minutes        int               `json:"minutes"`
	ClockLimit     int               `json:"clock_limit"`
	ClockIncrement int               `json:"clock_increment"`
	Rated          bool              `json:"rated"`
	Berserkable    bool              `json:"berserkable"`
	Streakable     bool              `json:"streakable"`
	Category       models.Category   `json:"category,omitempty"`
	Password       *string           `json:"password,omitempty"`
	Conditions     models.Conditions `json:"conditions"`
}

// UpdateTournamentInput - все поля опциональны.
type UpdateTournamentInput struct {
	Name           *string            `json:"name,omitempty"`
	StartsAt       *time.Time         `json:"starts_at,omitempty"`
	Minutes        *int               `json:"minutes,omitempty"`
	ClockLimit     *int               `json:"clock_limit,omitempty"`
	ClockIncrement *int               `json:"clock_increment,omitempty"`
	Rated          *bool              `json:"rated,omitempty"`
	Berserkable    *bool              `json:"berserkable,omitempty"`
	Streakable     *bool              `json:"streakable,omitempty"`
	Password       *string            `json:"password,omitempty"`
	Conditions     *models.Conditions `json:"conditions,omitempty"`
}

type ListTournamentsInput struct {
	Status    *models.TournamentStatus
	CreatedBy *int
	Limit     int
	Offset    int
}

// TournamentService is the read side of tournaments plus their settings management.
type TournamentService struct {
	tournaments repositories.TournamentRepository
	players     repositories.PlayerRepository
	users       repositories.UserRepository
	teams       repositories.TeamRepository
	verifier    ConditionVerifier
	caches      StandingCaches
	publisher   *StandingPublisher
	cfg         config.Arena
	logger      *slog.Logger
}

func NewTournamentService(
	tournaments repositories.TournamentRepository,
	players repositories.PlayerRepository,
	users repositories.UserRepository,
	teams repositories.TeamRepository,
	verifier ConditionVerifier,
	caches StandingCaches,
	publisher *StandingPublisher,
	cfg config.Arena,
	logger *slog.Logger,
) *TournamentService {
	return &TournamentService{
		tournaments: tournaments,
		players:     players,
		users:       users,
		teams:       teams,
		verifier:    verifier,
		caches:      caches,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger,
	}
}

func validateTournament(t *models.Tournament) error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrTournamentNameRequired
	}
	if t.ClockLimit <= 0 || t.ClockIncrement < 0 {
		return ErrTournamentInvalidClock
	}
	if t.Minutes <= 0 {
		return ErrTournamentInvalidLength
	}
	if t.StartsAt.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrValidationFailed)
	}
	c := t.Conditions
	if c.MinRating != nil && c.MaxRating != nil && *c.MinRating > *c.MaxRating {
		return fmt.Errorf("%w: min_rating exceeds max_rating", ErrValidationFailed)
	}
	return nil
}

func (s *TournamentService) Create(ctx context.Context, actor Actor, input CreateTournamentInput) (*models.Tournament, error) {
	t := &models.Tournament{
		Name:           strings.TrimSpace(input.Name),
		Status:         models.StatusCreated,
		StartsAt:       input.StartsAt,
		Minutes:        input.Minutes,
		ClockLimit:     input.ClockLimit,
		ClockIncrement: input.ClockIncrement,
		Rated:          input.Rated,
		Berserkable:    input.Berserkable,
		Streakable:     input.Streakable,
		Category:       input.Category,
		Password:       input.Password,
		Conditions:     input.Conditions,
		CreatedBy:      actor.UserID,
	}
	if t.Category != models.CategoryCustom && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins schedule official tournaments", ErrForbiddenOperation)
	}
	if err := validateTournament(t); err != nil {
		return nil, err
	}
	if err := s.tournaments.Create(ctx, t); err != nil {
		return nil, handleRepositoryError(err, "failed to create tournament")
	}
	s.publisher.TriggerGlobal()
	s.logger.Info("tournament created", slog.Int("tournament_id", t.ID), slog.Int("created_by", actor.UserID))
	return t, nil
}

// Authorize loads a tournament the actor may manage.
func (s *TournamentService) Authorize(ctx context.Context, id int, actor Actor) (*models.Tournament, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.CreatedBy != actor.UserID && !actor.IsAdmin() {
		return nil, ErrForbiddenOperation
	}
	return t, nil
}

// Update edits the settings of a tournament that has not started.
func (s *TournamentService) Update(ctx context.Context, id int, actor Actor, input UpdateTournamentInput) (*models.Tournament, error) {
	t, err := s.Authorize(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !t.IsCreated() {
		return nil, ErrTournamentNotEditable
	}

	if input.Name != nil {
		t.Name = strings.TrimSpace(*input.Name)
	}
	if input.StartsAt != nil {
		t.StartsAt = *input.StartsAt
	}
	if input.Minutes != nil {
		t.Minutes = *input.Minutes
	}
	if input.ClockLimit != nil {
		t.ClockLimit = *input.ClockLimit
	}
	if input.ClockIncrement != nil {
		t.ClockIncrement = *input.ClockIncrement
	}
	if input.Rated != nil {
		t.Rated = *input.Rated
	}
	if input.Berserkable != nil {
		t.Berserkable = *input.Berserkable
	}
	if input.Streakable != nil {
		t.Streakable = *input.Streakable
	}
	if input.Password != nil {
		// пустая строка снимает пароль
		if derefString(input.Password) == "" {
			t.Password = nil
		} else {
			t.Password = input.Password
		}
	}
	if input.Conditions != nil {
		t.Conditions = *input.Conditions
	}
	if err := validateTournament(t); err != nil {
		return nil, err
	}
	if err := s.tournaments.Update(ctx, t); err != nil {
		return nil, handleRepositoryError(err, "failed to update tournament %d", id)
	}
	s.publisher.TriggerGlobal()
	return t, nil
}

func (s *TournamentService) Get(ctx context.Context, id int) (*models.Tournament, error) {
	t, err := s.tournaments.GetByID(ctx, id)
	if err != nil {
		return nil, handleRepositoryError(err, "failed to get tournament %d", id)
	}
	return t, nil
}

func (s *TournamentService) List(ctx context.Context, input ListTournamentsInput) ([]*models.Tournament, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}
	list, err := s.tournaments.List(ctx, repositories.ListTournamentsFilter{
		Status:    input.Status,
		CreatedBy: input.CreatedBy,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, handleRepositoryError(err, "failed to list tournaments")
	}
	if list == nil {
		list = []*models.Tournament{}
	}
	return list, nil
}

// Joiner loads the gate view of a user.
func (s *TournamentService) Joiner(ctx context.Context, userID int) (*models.Joiner, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, handleRepositoryError(err, "failed to load user %d", userID)
	}
	return u.AsJoiner(), nil
}

// Verdicts evaluates the entry conditions for a user without joining.
func (s *TournamentService) Verdicts(ctx context.Context, id int, user *models.Joiner) (models.Verdicts, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return models.Verdicts{}, err
	}
	if t.Conditions.IsEmpty() {
		return models.AcceptAll, nil
	}
	_, err = s.players.Find(ctx, t.ID, user.ID)
	switch {
	case err == nil:
		return s.verifier.Rejoin(ctx, t, user)
	case errors.Is(err, repositories.ErrPlayerNotFound):
		return s.verifier.Verify(ctx, t, user)
	default:
		return models.Verdicts{}, handleRepositoryError(err, "failed to load player")
	}
}

// PageOf returns the 1-based standings page holding the user.
func (s *TournamentService) PageOf(ctx context.Context, id, userID int) (int, error) {
	snap, err := s.caches.Ranking.Get(ctx, id)
	if err != nil {
		return 0, handleRepositoryError(err, "failed to rank tournament %d", id)
	}
	rank, ok := snap.Ranking[userID]
	if !ok {
		return 0, ErrPlayerNotFound
	}
	return rank/s.cfg.PageSize + 1, nil
}

func (s *TournamentService) Top(ctx context.Context, id int) (models.TournamentTop, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	top, err := s.caches.Top.Get(ctx, id)
	if err != nil {
		return nil, handleRepositoryError(err, "failed to load top of tournament %d", id)
	}
	return top, nil
}

// StreamResults yields the standings in rank order without loading them all.
func (s *TournamentService) StreamResults(ctx context.Context, id int, fn func(models.RankedPlayer) error) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	rank := 0
	err := s.players.Stream(ctx, id, func(p *models.Player) error {
		rp := models.RankedPlayer{Rank: rank, Player: p}
		rank++
		return fn(rp)
	})
	if err != nil {
		return fmt.Errorf("failed to stream results of tournament %d: %w", id, err)
	}
	return nil
}

// SetTeamBattle turns a created tournament into a team battle, or clears it with nil.
func (s *TournamentService) SetTeamBattle(ctx context.Context, id int, actor Actor, tb *models.TeamBattle) (*models.Tournament, error) {
	t, err := s.Authorize(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !t.IsCreated() {
		return nil, ErrTournamentNotEditable
	}
	if tb != nil {
		tb = normalizeTeamBattle(tb)
		if len(tb.Teams) < 2 {
			return nil, ErrTeamBattleTooFewTeams
		}
		for _, teamID := range tb.Teams {
			if _, err := s.teams.GetByID(ctx, teamID); err != nil {
				return nil, handleRepositoryError(err, "failed to load team %d", teamID)
			}
		}
	}
	if err := s.tournaments.SetTeamBattle(ctx, id, tb); err != nil {
		return nil, handleRepositoryError(err, "failed to set team battle of tournament %d", id)
	}
	t.TeamBattle = tb
	s.caches.Invalidate(id)
	return t, nil
}

func normalizeTeamBattle(tb *models.TeamBattle) *models.TeamBattle {
	seen := make(map[int]bool, len(tb.Teams))
	teams := make([]int, 0, len(tb.Teams))
	for _, id := range tb.Teams {
		if id > 0 && !seen[id] {
			seen[id] = true
			teams = append(teams, id)
		}
	}
	leaders := tb.NbLeaders
	if leaders <= 0 {
		leaders = defaultLeaders
	}
	return &models.TeamBattle{Teams: teams, NbLeaders: leaders}
}

// TeamInfo sums the scores of a team's leaders, its best NbLeaders players.
func (s *TournamentService) TeamInfo(ctx context.Context, id, teamID int) (*models.TeamInfo, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.TeamBattle.HasTeam(teamID) {
		return nil, ErrTeamNotFound
	}
	members, err := s.players.ListByTeam(ctx, id, teamID)
	if err != nil {
		return nil, handleRepositoryError(err, "failed to list players of team %d", teamID)
	}
	_, sorted := models.BuildRanking(members)
	n := t.TeamBattle.NbLeaders
	if n > len(sorted) {
		n = len(sorted)
	}
	info := &models.TeamInfo{TeamID: teamID, NbPlayers: len(sorted), Leaders: sorted[:n]}
	for _, p := range info.Leaders {
		info.Score += p.Score
	}
	return info, nil
}

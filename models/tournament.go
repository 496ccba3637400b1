package models

import (
	"encoding/json"
	"time"
)

// TournamentStatus представляет статусы турнира, соответствующие ENUM в БД.
type TournamentStatus string

const (
	StatusCreated  TournamentStatus = "created"
	StatusStarted  TournamentStatus = "started"
	StatusFinished TournamentStatus = "finished"
)

// Category is the schedule frequency of an official tournament. Custom
// tournaments have an empty category.
type Category string

const (
	CategoryCustom   Category = ""
	CategoryHourly   Category = "hourly"
	CategoryDaily    Category = "daily"
	CategoryWeekly   Category = "weekly"
	CategoryMonthly  Category = "monthly"
	CategoryYearly   Category = "yearly"
	CategoryMarathon Category = "marathon"
	CategoryUnique   Category = "unique"
)

// Conditions are the gating rules evaluated by a ConditionVerifier on join.
type Conditions struct {
	MinRating    *int `json:"min_rating,omitempty"`
	MaxRating    *int `json:"max_rating,omitempty"`
	NbRatedGames *int `json:"nb_rated_games,omitempty"`
	// AllowProvisional lets provisional users pass the rating bounds.
	AllowProvisional bool `json:"allow_provisional,omitempty"`
}

// IsEmpty reports whether no rule is configured.
func (c Conditions) IsEmpty() bool {
	return c.MinRating == nil && c.MaxRating == nil && c.NbRatedGames == nil
}

// TeamBattle configures a tournament where individual scores roll up into teams.
type TeamBattle struct {
	Teams     []int `json:"teams"`
	NbLeaders int   `json:"nb_leaders"`
}

// HasTeam reports whether teamID is one of the registered teams.
func (tb *TeamBattle) HasTeam(teamID int) bool {
	if tb == nil {
		return false
	}
	for _, id := range tb.Teams {
		if id == teamID {
			return true
		}
	}
	return false
}

// Tournament представляет турнир.
type Tournament struct {
	ID             int              `json:"id" db:"id"`
	Name           string           `json:"name" db:"name"`
	Status         TournamentStatus `json:"status" db:"status"`
	StartsAt       time.Time        `json:"starts_at" db:"starts_at"`
	Minutes        int              `json:"minutes" db:"minutes"`
	ClockLimit     int              `json:"clock_limit" db:"clock_limit"`
	ClockIncrement int              `json:"clock_increment" db:"clock_increment"`
	Rated          bool             `json:"rated" db:"rated"`
	Berserkable    bool             `json:"berserkable" db:"berserkable"`
	Streakable     bool             `json:"streakable" db:"streakable"`
	Category       Category         `json:"category,omitempty" db:"category"`
	Password       *string          `json:"-" db:"password"`
	Conditions     Conditions       `json:"conditions" db:"conditions"`
	TeamBattle     *TeamBattle      `json:"team_battle,omitempty" db:"team_battle"`
	FeaturedGameID *string          `json:"featured_game_id,omitempty" db:"featured_game_id"`
	NbPlayers      int              `json:"nb_players" db:"nb_players"`
	WinnerID       *int             `json:"winner_id,omitempty" db:"winner_id"`
	CreatedBy      int              `json:"created_by" db:"created_by"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// FinishesAt is the end of the scheduling window.
func (t *Tournament) FinishesAt() time.Time {
	return t.StartsAt.Add(time.Duration(t.Minutes) * time.Minute)
}

func (t *Tournament) IsCreated() bool  { return t.Status == StatusCreated }
func (t *Tournament) IsStarted() bool  { return t.Status == StatusStarted }
func (t *Tournament) IsFinished() bool { return t.Status == StatusFinished }

// IsEnterable reports whether users may still join.
func (t *Tournament) IsEnterable() bool {
	return t.Status == StatusCreated || t.Status == StatusStarted
}

func (t *Tournament) IsPrivate() bool    { return t.Password != nil && *t.Password != "" }
func (t *Tournament) IsTeamBattle() bool { return t.TeamBattle != nil }

// IsPrized reports whether placements in the tournament award trophies.
func (t *Tournament) IsPrized() bool {
	return t.Category == CategoryMarathon || t.Category == CategoryUnique
}

// ConditionsJSON encodes the conditions for storage.
func (t *Tournament) ConditionsJSON() ([]byte, error) {
	return json.Marshal(t.Conditions)
}

// TeamBattleJSON encodes the team battle for storage, nil when absent.
func (t *Tournament) TeamBattleJSON() ([]byte, error) {
	if t.TeamBattle == nil {
		return nil, nil
	}
	return json.Marshal(t.TeamBattle)
}

package models

import "time"

// Player is one user's participation row in a tournament.
type Player struct {
	ID           int       `json:"id" db:"id"`
	TournamentID int       `json:"tournament_id" db:"tournament_id"`
	UserID       int       `json:"user_id" db:"user_id"`
	Username     string    `json:"username" db:"username"`
	Score        int       `json:"score" db:"score"`
	Fire         bool      `json:"fire" db:"fire"`
	Rating       int       `json:"rating" db:"rating"`
	Provisional  bool      `json:"provisional" db:"provisional"`
	Performance  int       `json:"performance" db:"performance"`
	TeamID       *int      `json:"team_id,omitempty" db:"team_id"`
	Withdrawn    bool      `json:"withdrawn" db:"withdrawn"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Joiner is the user attempting to enter a tournament, as seen by the access gate.
type Joiner struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	Rating       int    `json:"rating"`
	Provisional  bool   `json:"provisional"`
	NbRatedGames int    `json:"nb_rated_games"`
	ArenaBanned  bool   `json:"-"`
	PrizeBanned  bool   `json:"-"`
}

// TeamInfo summarizes one team of a team battle.
type TeamInfo struct {
	TeamID    int       `json:"team_id"`
	NbPlayers int       `json:"nb_players"`
	Score     int       `json:"score"`
	Leaders   []*Player `json:"leaders"`
}

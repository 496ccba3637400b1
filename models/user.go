package models

import "time"

type UserRole string

const (
	RoleAdmin     UserRole = "admin"
	RoleOrganizer UserRole = "organizer"
	RolePlayer    UserRole = "player"
)

type User struct {
	ID           int       `json:"id"`
	Nickname     string    `json:"nickname"`
	TeamID       *int      `json:"team_id,omitempty"`
	Role         UserRole  `json:"role"`
	Rating       int       `json:"rating"`
	Provisional  bool      `json:"provisional"`
	NbRatedGames int       `json:"nb_rated_games"`
	ArenaBanned  bool      `json:"-"`
	PrizeBanned  bool      `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// AsJoiner projects the user onto what the access gate needs.
func (u *User) AsJoiner() *Joiner {
	return &Joiner{
		ID:           u.ID,
		Username:     u.Nickname,
		Rating:       u.Rating,
		Provisional:  u.Provisional,
		NbRatedGames: u.NbRatedGames,
		ArenaBanned:  u.ArenaBanned,
		PrizeBanned:  u.PrizeBanned,
	}
}

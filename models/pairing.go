package models

import "time"

type PairingStatus string

const (
	PairingPlaying  PairingStatus = "playing"
	PairingFinished PairingStatus = "finished"
	PairingAborted  PairingStatus = "aborted"
)

// Pairing is one matched game between two tournament participants.
type Pairing struct {
	ID           string        `json:"id" db:"id"`
	TournamentID int           `json:"tournament_id" db:"tournament_id"`
	User1        int           `json:"user1" db:"user1"`
	User2        int           `json:"user2" db:"user2"`
	GameID       string        `json:"game_id" db:"game_id"`
	Status       PairingStatus `json:"status" db:"status"`
	Winner       *int          `json:"winner,omitempty" db:"winner"`
	Berserk1     bool          `json:"berserk1" db:"berserk1"`
	Berserk2     bool          `json:"berserk2" db:"berserk2"`
	Turns        int           `json:"turns" db:"turns"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

func (p *Pairing) IsPlaying() bool { return p.Status == PairingPlaying }

// Contains reports whether userID is one of the two sides.
func (p *Pairing) Contains(userID int) bool {
	return p.User1 == userID || p.User2 == userID
}

// Opponent returns the other side, or 0 if userID does not play in p.
func (p *Pairing) Opponent(userID int) int {
	switch userID {
	case p.User1:
		return p.User2
	case p.User2:
		return p.User1
	}
	return 0
}

// BerserkOf reports whether userID berserked in this pairing.
func (p *Pairing) BerserkOf(userID int) bool {
	switch userID {
	case p.User1:
		return p.Berserk1
	case p.User2:
		return p.Berserk2
	}
	return false
}

// Side is the color-neutral side of a pairing.
type Side int

const (
	Side1 Side = 1
	Side2 Side = 2
)

// SideOf returns the side userID plays, false if absent.
func (p *Pairing) SideOf(userID int) (Side, bool) {
	switch userID {
	case p.User1:
		return Side1, true
	case p.User2:
		return Side2, true
	}
	return 0, false
}

package notify

import "strconv"

// Message types pushed to observers.
const (
	TypeRedirect        = "redirect"
	TypeStandingChanged = "standing_changed"
	TypeTournamentList  = "tournament_list"
	TypeTournamentState = "tournament_state"
)

// LobbyRoom receives tournament list updates.
const LobbyRoom = "lobby"

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	RoomID  string      `json:"room_id,omitempty"`
}

// Bus fans a message out to the observers of a room. Publish never blocks on
// slow consumers and never reports delivery failures.
type Bus interface {
	Publish(room string, msg Message)
}

func TournamentRoom(tournamentID int) string {
	return "tournament_" + strconv.Itoa(tournamentID)
}

func UserRoom(userID int) string {
	return "user_" + strconv.Itoa(userID)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Publish(string, Message) {}

package pairing

import (
	"context"

	"github.com/Dosada05/arena/models"
)

// Params is the input of one pairing round.
type Params struct {
	Tournament *models.Tournament
	// Waiting holds the ids of users eligible for this round.
	Waiting []int
	Ranking models.Ranking
	// ActiveHint is the number of currently active players, used by small tournaments.
	ActiveHint int
	// LastOpponents maps a user to the opponent of their latest game.
	LastOpponents map[int]int
}

// Algorithm turns a ranked pool into opponent pairs. Implementations must not
// touch external state and must return the same pairs for the same Params.
type Algorithm interface {
	CreatePairings(ctx context.Context, params Params) ([]*models.Pairing, error)

	GetName() string
}

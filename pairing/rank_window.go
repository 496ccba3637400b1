package pairing

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/Dosada05/arena/models"
)

// RankWindowGenerator pairs waiting users with their closest neighbour in the
// ranking, avoiding an immediate rematch when another neighbour is available.
type RankWindowGenerator struct {
	newID func() string
}

func NewRankWindowGenerator() Algorithm {
	return &RankWindowGenerator{newID: uuid.NewString}
}

func (g *RankWindowGenerator) GetName() string {
	return "RankWindow"
}

func (g *RankWindowGenerator) CreatePairings(ctx context.Context, params Params) ([]*models.Pairing, error) {
	if len(params.Waiting) < 2 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	users := make([]int, 0, len(params.Waiting))
	seen := make(map[int]bool, len(params.Waiting))
	for _, id := range params.Waiting {
		if !seen[id] {
			seen[id] = true
			users = append(users, id)
		}
	}

	unranked := len(params.Ranking)
	rankOf := func(id int) int {
		if r, ok := params.Ranking[id]; ok {
			return r
		}
		return unranked
	}
	sort.SliceStable(users, func(i, j int) bool {
		ri, rj := rankOf(users[i]), rankOf(users[j])
		if ri != rj {
			return ri < rj
		}
		return users[i] < users[j]
	})

	pairings := make([]*models.Pairing, 0, len(users)/2)
	for i := 0; i+1 < len(users); i += 2 {
		a, b := users[i], users[i+1]
		if last, ok := params.LastOpponents[a]; ok && last == b && i+2 < len(users) {
			users[i+1], users[i+2] = users[i+2], users[i+1]
			b = users[i+1]
		}
		id := g.newID()
		pairings = append(pairings, &models.Pairing{
			ID:     id,
			User1:  a,
			User2:  b,
			GameID: id,
			Status: models.PairingPlaying,
		})
	}
	return pairings, nil
}

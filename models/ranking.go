package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
)

// Ranking maps user id to a 0-based rank.
type Ranking map[int]int

// RankedPlayer is one line of a ranking snapshot.
type RankedPlayer struct {
	Rank   int     `json:"rank"`
	Player *Player `json:"player"`
}

// SortPlayers orders players by descending score, then descending rating,
// then ascending user id. The order depends only on player rows.
func SortPlayers(players []*Player) {
	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.UserID < b.UserID
	})
}

// BuildRanking sorts a copy of players and assigns contiguous ranks from 0.
func BuildRanking(players []*Player) (Ranking, []*Player) {
	sorted := make([]*Player, len(players))
	copy(sorted, players)
	SortPlayers(sorted)
	ranking := make(Ranking, len(sorted))
	for i, p := range sorted {
		ranking[p.UserID] = i
	}
	return ranking, sorted
}

// TournamentTop is the public top-N snapshot.
type TournamentTop []RankedPlayer

// Hash fingerprints the snapshot so unchanged standings can be detected.
func (top TournamentTop) Hash() string {
	h := sha256.New()
	for _, rp := range top {
		h.Write([]byte(strconv.Itoa(rp.Player.UserID)))
		h.Write([]byte{':'})
		h.Write([]byte(strconv.Itoa(rp.Player.Score)))
		if rp.Player.Fire {
			h.Write([]byte{'!'})
		}
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TopOf takes the first n players of an already sorted slice.
func TopOf(sorted []*Player, n int) TournamentTop {
	if n > len(sorted) {
		n = len(sorted)
	}
	top := make(TournamentTop, n)
	for i := 0; i < n; i++ {
		top[i] = RankedPlayer{Rank: i, Player: sorted[i]}
	}
	return top
}

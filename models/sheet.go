package models

// Score values of a single game.
const (
	PointsWin     = 2
	PointsDraw    = 1
	PointsLoss    = 0
	PointsBerserk = 1
)

// Sheet is a player's score history, derived from their terminated pairings.
type Sheet struct {
	Scores []int `json:"scores"`
	Total  int   `json:"total"`
	Fire   bool  `json:"fire"`
}

// BuildSheet recomputes a sheet from scratch. pairings must be in chronological
// order; aborted and playing pairings are ignored. A streak of two wins puts the
// player on fire, doubling points until the next non-win.
func BuildSheet(userID int, pairings []*Pairing, streakable bool) Sheet {
	var sheet Sheet
	streak := 0
	for _, p := range pairings {
		if p.Status != PairingFinished || !p.Contains(userID) {
			continue
		}
		onFire := streakable && streak >= 2
		var points int
		switch {
		case p.Winner == nil:
			points = PointsDraw
			streak = 0
		case *p.Winner == userID:
			points = PointsWin
			streak++
		default:
			points = PointsLoss
			streak = 0
		}
		if onFire {
			points *= 2
		}
		if p.Winner != nil && *p.Winner == userID && p.BerserkOf(userID) {
			points += PointsBerserk
		}
		sheet.Scores = append(sheet.Scores, points)
		sheet.Total += points
	}
	sheet.Fire = streakable && streak >= 2
	return sheet
}

// Performance estimates a rating performance from the opponents faced.
// Each win counts the opponent rating +500, each loss -500, a draw the rating itself.
func Performance(userID int, pairings []*Pairing, ratings map[int]int) int {
	sum, n := 0, 0
	for _, p := range pairings {
		if p.Status != PairingFinished || !p.Contains(userID) {
			continue
		}
		opp, ok := ratings[p.Opponent(userID)]
		if !ok {
			continue
		}
		switch {
		case p.Winner == nil:
			sum += opp
		case *p.Winner == userID:
			sum += opp + 500
		default:
			sum += opp - 500
		}
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

package services

import (
	"context"
	"fmt"

	"github.com/Dosada05/arena/models"
)

// RatingConditionVerifier checks the rating bounds and minimum rated game count
// stored in a tournament's conditions.
type RatingConditionVerifier struct{}

var _ ConditionVerifier = RatingConditionVerifier{}

func (RatingConditionVerifier) Verify(_ context.Context, t *models.Tournament, user *models.Joiner) (models.Verdicts, error) {
	return evaluateConditions(t.Conditions, user, false), nil
}

// Rejoin drops the maximum rating rule: a player who climbed during the event keeps their seat.
func (RatingConditionVerifier) Rejoin(_ context.Context, t *models.Tournament, user *models.Joiner) (models.Verdicts, error) {
	return evaluateConditions(t.Conditions, user, true), nil
}

func evaluateConditions(c models.Conditions, user *models.Joiner, relaxed bool) models.Verdicts {
	v := models.Verdicts{Relaxed: relaxed}
	ratingKnown := !user.Provisional || c.AllowProvisional

	if c.NbRatedGames != nil {
		ok := user.NbRatedGames >= *c.NbRatedGames
		v.List = append(v.List, verdict("nb_rated_games", ok,
			fmt.Sprintf("play at least %d rated games", *c.NbRatedGames)))
	}
	if c.MinRating != nil {
		ok := ratingKnown && user.Rating >= *c.MinRating
		v.List = append(v.List, verdict("min_rating", ok,
			fmt.Sprintf("rating must be at least %d", *c.MinRating)))
	}
	if c.MaxRating != nil && !relaxed {
		ok := ratingKnown && user.Rating <= *c.MaxRating
		v.List = append(v.List, verdict("max_rating", ok,
			fmt.Sprintf("rating must be at most %d", *c.MaxRating)))
	}
	return v
}

func verdict(condition string, accepted bool, reason string) models.ConditionVerdict {
	cv := models.ConditionVerdict{Condition: condition, Accepted: accepted}
	if !accepted {
		cv.Reason = reason
	}
	return cv
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Dosada05/arena/models"
)

// ResultLine is one row of an archived results file.
type ResultLine struct {
	Rank        int    `json:"rank"`
	UserID      int    `json:"user_id"`
	Username    string `json:"username"`
	Score       int    `json:"score"`
	Rating      int    `json:"rating"`
	Performance int    `json:"performance"`
	TeamID      *int   `json:"team_id,omitempty"`
}

// ResultsArchive uploads final standings as NDJSON.
type ResultsArchive struct {
	uploader FileUploader
}

func NewResultsArchive(uploader FileUploader) *ResultsArchive {
	return &ResultsArchive{uploader: uploader}
}

func ResultsKey(tournamentID int) string {
	return fmt.Sprintf("tournaments/%d/results.ndjson", tournamentID)
}

// Archive returns the public location of the uploaded file, or its key when
// the bucket has no public URL.
func (a *ResultsArchive) Archive(ctx context.Context, t *models.Tournament, standings []models.RankedPlayer) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rp := range standings {
		line := ResultLine{
			Rank:        rp.Rank + 1,
			UserID:      rp.Player.UserID,
			Username:    rp.Player.Username,
			Score:       rp.Player.Score,
			Rating:      rp.Player.Rating,
			Performance: rp.Player.Performance,
			TeamID:      rp.Player.TeamID,
		}
		if err := enc.Encode(line); err != nil {
			return "", fmt.Errorf("failed to encode result of user %d: %w", rp.Player.UserID, err)
		}
	}

	res, err := a.uploader.Upload(ctx, ResultsKey(t.ID), "application/x-ndjson", &buf)
	if err != nil {
		return "", err
	}
	if res.Location != "" {
		return res.Location, nil
	}
	return res.Key, nil
}

// Remove deletes the archived results of a tournament, if any.
func (a *ResultsArchive) Remove(ctx context.Context, tournamentID int) error {
	return a.uploader.Delete(ctx, ResultsKey(tournamentID))
}

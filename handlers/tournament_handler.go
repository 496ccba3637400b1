package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/services"
)

// TournamentQueries is the tournament service as used over HTTP.
type TournamentQueries interface {
	Create(ctx context.Context, actor services.Actor, input services.CreateTournamentInput) (*models.Tournament, error)
	Update(ctx context.Context, id int, actor services.Actor, input services.UpdateTournamentInput) (*models.Tournament, error)
	Get(ctx context.Context, id int) (*models.Tournament, error)
	List(ctx context.Context, input services.ListTournamentsInput) ([]*models.Tournament, error)
	Authorize(ctx context.Context, id int, actor services.Actor) (*models.Tournament, error)
	Joiner(ctx context.Context, userID int) (*models.Joiner, error)
	Verdicts(ctx context.Context, id int, user *models.Joiner) (models.Verdicts, error)
	PageOf(ctx context.Context, id, userID int) (int, error)
	Top(ctx context.Context, id int) (models.TournamentTop, error)
	StreamResults(ctx context.Context, id int, fn func(models.RankedPlayer) error) error
	SetTeamBattle(ctx context.Context, id int, actor services.Actor, tb *models.TeamBattle) (*models.Tournament, error)
	TeamInfo(ctx context.Context, id, teamID int) (*models.TeamInfo, error)
}

type Roster interface {
	Join(ctx context.Context, tournamentID int, user *models.Joiner, req services.JoinRequest) models.JoinResult
	Withdraw(ctx context.Context, tournamentID, userID int, isPause, isStalling bool) error
	EjectLame(ctx context.Context, tournamentID, userID int) error
	RemoveForTeamKick(ctx context.Context, tournamentID, userID int) error
}

type Lifecycle interface {
	Kill(ctx context.Context, id int) error
	RecomputeEntireTournament(ctx context.Context, id int) error
}

type TournamentHandler struct {
	tournaments TournamentQueries
	roster      Roster
	lifecycle   Lifecycle
	logger      *slog.Logger
}

func NewTournamentHandler(tournaments TournamentQueries, roster Roster, lifecycle Lifecycle, logger *slog.Logger) *TournamentHandler {
	return &TournamentHandler{tournaments: tournaments, roster: roster, lifecycle: lifecycle, logger: logger}
}

// CreateHandler обрабатывает POST /tournaments
func (h *TournamentHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to create tournament")
		return
	}

	var input services.CreateTournamentInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.tournaments.Create(r.Context(), actor, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"tournament": tournament}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetByIDHandler обрабатывает GET /tournaments/{tournamentID}
func (h *TournamentHandler) GetByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.tournaments.Get(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournament": tournament}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ListHandler обрабатывает GET /tournaments
func (h *TournamentHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	var input services.ListTournamentsInput
	query := r.URL.Query()

	if statusStr := query.Get("status"); statusStr != "" {
		status := models.TournamentStatus(statusStr)
		switch status {
		case models.StatusCreated, models.StatusStarted, models.StatusFinished:
			input.Status = &status
		default:
			badRequestResponse(w, r, errors.New("invalid status query parameter"))
			return
		}
	}
	createdBy, err := queryInt(r, "created_by", 1)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	input.CreatedBy = createdBy
	if limit, err := queryInt(r, "limit", 1); err != nil {
		badRequestResponse(w, r, err)
		return
	} else if limit != nil {
		input.Limit = *limit
	}
	if offset, err := queryInt(r, "offset", 0); err != nil {
		badRequestResponse(w, r, err)
		return
	} else if offset != nil {
		input.Offset = *offset
	}

	tournaments, err := h.tournaments.List(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournaments": tournaments}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// UpdateHandler обрабатывает PUT /tournaments/{tournamentID}
func (h *TournamentHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to update tournament")
		return
	}

	var input services.UpdateTournamentInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.tournaments.Update(r.Context(), id, actor, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournament": tournament}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// KillHandler обрабатывает DELETE /tournaments/{tournamentID}. A created
// tournament is gone at once; a started one is destroyed by the next sweep.
func (h *TournamentHandler) KillHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorized(w, r)
	if !ok {
		return
	}
	if err := h.lifecycle.Kill(r.Context(), id); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *TournamentHandler) RecomputeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorized(w, r)
	if !ok {
		return
	}
	if err := h.lifecycle.RecomputeEntireTournament(r.Context(), id); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorized parses the tournament id and checks the caller may manage it.
func (h *TournamentHandler) authorized(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return 0, false
	}
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return 0, false
	}
	if _, err := h.tournaments.Authorize(r.Context(), id, actor); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return 0, false
	}
	return id, true
}

// VerdictsHandler обрабатывает GET /tournaments/{tournamentID}/verdicts
func (h *TournamentHandler) VerdictsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	user, err := h.tournaments.Joiner(r.Context(), actor.UserID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	verdicts, err := h.tournaments.Verdicts(r.Context(), id, user)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	resp := jsonResponse{"verdicts": verdicts, "accepted": verdicts.Accepted()}
	if err := writeJSON(w, http.StatusOK, resp, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// PageOfHandler обрабатывает GET /tournaments/{tournamentID}/page-of/{userID}
func (h *TournamentHandler) PageOfHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	userID, err := getIDFromURL(r, "userID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	page, err := h.tournaments.PageOf(r.Context(), id, userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"page": page}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// TopHandler обрабатывает GET /tournaments/{tournamentID}/top
func (h *TournamentHandler) TopHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	top, err := h.tournaments.Top(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"top": top}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ResultsHandler streams GET /tournaments/{tournamentID}/results as NDJSON,
// one ranked player per line.
func (h *TournamentHandler) ResultsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	// большие турниры стримятся дольше серверного WriteTimeout
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	enc := json.NewEncoder(w)
	started := false
	err = h.tournaments.StreamResults(r.Context(), id, func(rp models.RankedPlayer) error {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		line := struct {
			Rank     int    `json:"rank"`
			UserID   int    `json:"user_id"`
			Username string `json:"username"`
			Score    int    `json:"score"`
			Rating   int    `json:"rating"`
			Perf     int    `json:"performance"`
		}{rp.Rank + 1, rp.Player.UserID, rp.Player.Username, rp.Player.Score, rp.Player.Rating, rp.Player.Performance}
		if err := enc.Encode(line); err != nil {
			return err
		}
		if rp.Rank%100 == 99 {
			_ = rc.Flush()
		}
		return nil
	})
	switch {
	case err != nil && !started:
		mapServiceErrorToHTTP(w, r, err)
	case err != nil:
		// заголовки уже отправлены
		h.logger.Warn("results stream aborted", slog.Int("tournament_id", id), slog.Any("error", err))
	case !started:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}

// SetTeamBattleHandler обрабатывает PUT /tournaments/{tournamentID}/teams.
// A null body clears the team battle.
func (h *TournamentHandler) SetTeamBattleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var tb *models.TeamBattle
	if err := readJSON(w, r, &tb); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.tournaments.SetTeamBattle(r.Context(), id, actor, tb)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournament": tournament}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// TeamInfoHandler обрабатывает GET /tournaments/{tournamentID}/teams/{teamID}
func (h *TournamentHandler) TeamInfoHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	teamID, err := getIDFromURL(r, "teamID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	info, err := h.tournaments.TeamInfo(r.Context(), id, teamID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"team": info}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

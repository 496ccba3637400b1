package handlers

import (
	"context"
	"net/http"

	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/services"
)

// joinStatus maps a join outcome to a response status. Rejections are
// forbidden; JoinNope hides a failure and answers unavailable.
func joinStatus(res models.JoinResult) int {
	switch res {
	case models.JoinOk:
		return http.StatusOK
	case models.JoinNope:
		return http.StatusServiceUnavailable
	case models.JoinTournamentNotFound:
		return http.StatusNotFound
	default:
		return http.StatusForbidden
	}
}

// JoinHandler обрабатывает POST /tournaments/{tournamentID}/join
func (h *TournamentHandler) JoinHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to join")
		return
	}

	var req services.JoinRequest
	if err := readOptionalJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	user, err := h.tournaments.Joiner(r.Context(), actor.UserID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	res := h.roster.Join(r.Context(), id, user, req)
	resp := jsonResponse{"result": res}
	if !res.OK() {
		resp["error"] = res.Message()
	}
	if err := writeJSON(w, joinStatus(res), resp, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// WithdrawHandler обрабатывает POST /tournaments/{tournamentID}/withdraw.
// {"pause": true} marks a pause rather than leaving for good.
func (h *TournamentHandler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to withdraw")
		return
	}

	var input struct {
		Pause bool `json:"pause"`
	}
	if err := readOptionalJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if err := h.roster.Withdraw(r.Context(), id, actor.UserID, input.Pause, false); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EjectHandler обрабатывает POST /tournaments/{tournamentID}/players/{userID}/eject
func (h *TournamentHandler) EjectHandler(w http.ResponseWriter, r *http.Request) {
	h.removePlayer(w, r, h.roster.EjectLame)
}

// KickHandler обрабатывает POST /tournaments/{tournamentID}/players/{userID}/kick
func (h *TournamentHandler) KickHandler(w http.ResponseWriter, r *http.Request) {
	h.removePlayer(w, r, h.roster.RemoveForTeamKick)
}

func (h *TournamentHandler) removePlayer(w http.ResponseWriter, r *http.Request, remove func(ctx context.Context, tournamentID, userID int) error) {
	id, ok := h.authorized(w, r)
	if !ok {
		return
	}
	userID, err := getIDFromURL(r, "userID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if err := remove(r.Context(), id, userID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

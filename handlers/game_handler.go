package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type GameEvents interface {
	FinishGame(ctx context.Context, gameID string, winner *int, turns int) error
	Berserk(ctx context.Context, gameID string, userID int) error
}

// GameHandler receives game engine callbacks and in-game player actions.
type GameHandler struct {
	games GameEvents
}

func NewGameHandler(games GameEvents) *GameHandler {
	return &GameHandler{games: games}
}

// FinishHandler обрабатывает POST /games/{gameID}/finish. A null winner is a draw.
func (h *GameHandler) FinishHandler(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	if gameID == "" {
		badRequestResponse(w, r, errors.New("missing gameID in URL path"))
		return
	}

	var input struct {
		Winner *int `json:"winner"`
		Turns  int  `json:"turns"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.Turns < 0 {
		badRequestResponse(w, r, errors.New("turns must not be negative"))
		return
	}

	if err := h.games.FinishGame(r.Context(), gameID, input.Winner, input.Turns); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BerserkHandler обрабатывает POST /games/{gameID}/berserk
func (h *GameHandler) BerserkHandler(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	if gameID == "" {
		badRequestResponse(w, r, errors.New("missing gameID in URL path"))
		return
	}
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	if err := h.games.Berserk(r.Context(), gameID, actor.UserID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

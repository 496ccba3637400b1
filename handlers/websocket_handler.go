package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Dosada05/arena/middleware"
	"github.com/Dosada05/arena/notify"
)

type WebSocketHandler struct {
	hub         *notify.Hub
	tournaments TournamentQueries
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewWebSocketHandler accepts connections from allowedOrigins; "*" allows any origin.
func NewWebSocketHandler(hub *notify.Hub, tournaments TournamentQueries, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		tournaments: tournaments,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeWs обрабатывает GET /ws/tournaments/{tournamentID}. The client joins the
// tournament room and the lobby; an authenticated client also gets its own
// room for game redirects.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if _, err := h.tournaments.Get(r.Context(), id); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	rooms := []string{notify.TournamentRoom(id), notify.LobbyRoom}
	if userID, err := middleware.GetUserIDFromContext(r.Context()); err == nil {
		rooms = append(rooms, notify.UserRoom(userID))
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже отправил HTTP ошибку клиенту
		h.logger.Warn("failed to upgrade websocket", slog.Int("tournament_id", id), slog.Any("error", err))
		return
	}

	client := h.hub.NewClient(conn, rooms...)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
	h.logger.Debug("websocket client connected", slog.Int("tournament_id", id), slog.Any("rooms", rooms))
}

package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Dosada05/arena/handlers"
	"github.com/Dosada05/arena/middleware"
	"github.com/Dosada05/arena/models"
)

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	Logger         *slog.Logger
}

func SetupRoutes(
	router chi.Router,
	opts Options,
	tournamentHandler *handlers.TournamentHandler,
	gameHandler *handlers.GameHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authenticate := middleware.Authenticate(opts.JWTSecret, opts.Logger)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.Route("/tournaments", func(r chi.Router) {
		// Публичные маршруты
		r.Get("/", tournamentHandler.ListHandler)
		r.Route("/{tournamentID}", func(r chi.Router) {
			r.Get("/", tournamentHandler.GetByIDHandler)
			r.Get("/top", tournamentHandler.TopHandler)
			r.Get("/page-of/{userID}", tournamentHandler.PageOfHandler)
			r.Get("/teams/{teamID}", tournamentHandler.TeamInfoHandler)
			r.Get("/results", tournamentHandler.ResultsHandler)

			r.Group(func(r chi.Router) {
				r.Use(authenticate)
				r.Get("/verdicts", tournamentHandler.VerdictsHandler)
				r.Post("/join", tournamentHandler.JoinHandler)
				r.Post("/withdraw", tournamentHandler.WithdrawHandler)

				// управление турниром: создатель или админ
				r.Put("/", tournamentHandler.UpdateHandler)
				r.Delete("/", tournamentHandler.KillHandler)
				r.Put("/teams", tournamentHandler.SetTeamBattleHandler)
				r.Post("/recompute", tournamentHandler.RecomputeHandler)
				r.Post("/players/{userID}/eject", tournamentHandler.EjectHandler)
				r.Post("/players/{userID}/kick", tournamentHandler.KickHandler)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(middleware.Authorize(models.RoleOrganizer, models.RoleAdmin))
			r.Post("/", tournamentHandler.CreateHandler)
		})
	})

	router.Route("/games/{gameID}", func(r chi.Router) {
		r.Use(authenticate)
		r.Post("/berserk", gameHandler.BerserkHandler)
		// колбэк игрового движка
		r.With(middleware.Authorize(models.RoleAdmin)).Post("/finish", gameHandler.FinishHandler)
	})

	router.With(middleware.OptionalAuthenticate(opts.JWTSecret)).
		Get("/ws/tournaments/{tournamentID}", webSocketHandler.ServeWs)
}

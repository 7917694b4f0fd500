package routes

import (
	_ "embed"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/Dosada05/tournament-dispatch/handlers"
	"github.com/Dosada05/tournament-dispatch/middleware"
	"github.com/Dosada05/tournament-dispatch/models"
)

//go:embed openapi.json
var openAPIDoc []byte

type Options struct {
	JWTSecret      []byte
	AllowedOrigins []string
	Metrics        http.Handler
	Logger         *slog.Logger
}

func SetupRoutes(
	router *chi.Mux,
	opts Options,
	tableHandler *handlers.TableHandler,
	matchHandler *handlers.MatchHandler,
	schedulerHandler *handlers.SchedulerHandler,
	tournamentHandler *handlers.TournamentHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestLogger(opts.Logger))
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics)
	}
	router.Get("/swagger/doc.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(openAPIDoc)
	})
	router.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	router.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(opts.JWTSecret))

		r.Get("/ws/me", webSocketHandler.ServeUser)
		r.Get("/ws/tournaments/{tournamentID}", webSocketHandler.ServeTournament)

		r.Route("/tournaments", func(r chi.Router) {
			r.With(middleware.Authorize(models.RoleAdmin, models.RoleOrganizer)).Post("/", tournamentHandler.CreateHandler)

			r.Route("/{tournamentID}", func(r chi.Router) {
				r.Get("/", tournamentHandler.GetByIDHandler)
				r.Get("/events", tournamentHandler.EventsHandler)
				r.Get("/finalists", tournamentHandler.FinalistsHandler)
				r.Get("/matches", matchHandler.ListHandler)
				r.Get("/tables", tableHandler.ListHandler)
				r.Get("/queue", schedulerHandler.QueueHandler)
				r.Get("/etas", schedulerHandler.ETAsHandler)
				r.Get("/scheduler/stats", schedulerHandler.StatsHandler)

				// Управление: только организатор или админ
				r.Group(func(r chi.Router) {
					r.Use(middleware.Authorize(models.RoleAdmin, models.RoleOrganizer))
					r.Patch("/status", tournamentHandler.UpdateStatusHandler)
					r.Post("/tables", tableHandler.CreateHandler)
					r.Post("/tables/bulk", tableHandler.BulkCreateHandler)
					r.Post("/scheduler/start", schedulerHandler.StartHandler)
					r.Post("/scheduler/stop", schedulerHandler.StopHandler)
					r.Post("/scheduler/trigger", schedulerHandler.TriggerHandler)
				})
			})
		})

		r.Route("/tables/{tableID}", func(r chi.Router) {
			r.Get("/availability", tableHandler.AvailabilityHandler)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Authorize(models.RoleAdmin, models.RoleOrganizer))
				r.Post("/assign", tableHandler.AssignHandler)
				r.Post("/release", tableHandler.ReleaseHandler)
				r.Post("/block", tableHandler.BlockHandler)
				r.Post("/hold", tableHandler.HoldHandler)
				r.Post("/unblock", tableHandler.UnblockHandler)
				r.Delete("/", tableHandler.DeleteHandler)
			})
		})

		r.Route("/matches/{matchID}", func(r chi.Router) {
			r.Get("/", matchHandler.GetHandler)
			r.Get("/events", matchHandler.EventsHandler)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Authorize(models.RoleAdmin, models.RoleOrganizer))
				r.Post("/transition", matchHandler.TransitionHandler)
				r.Put("/score", matchHandler.ScoreHandler)
			})
		})

		r.With(middleware.Authorize(models.RoleAdmin)).Get("/schedulers", schedulerHandler.ActiveHandler)
	})
}

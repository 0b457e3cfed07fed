package routes

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/burnweek/camp-registration-system/handlers"
	"github.com/burnweek/camp-registration-system/middleware"
	"github.com/burnweek/camp-registration-system/models"
)

func SetupRoutes(
	router *chi.Mux,
	jwtSecret string,
	authHandler *handlers.AuthHandler,
	registrationHandler *handlers.RegistrationHandler,
	webhookHandler *handlers.WebhookHandler,
	catalogHandler *handlers.CatalogHandler,
	adminHandler *handlers.AdminHandler,
	boardHandler *handlers.BoardHandler,
) {
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/swagger/*", httpSwagger.Handler())

	router.Post("/auth/signup", authHandler.Register)
	router.Post("/auth/login", authHandler.Login)

	// Provider webhook authenticates by knowing the endpoint, not by JWT.
	router.Post("/payments/webhook", webhookHandler.HandleProviderEvent)

	router.Route("/catalog", func(r chi.Router) {
		r.Get("/jobs", catalogHandler.ListJobs)
		r.Get("/shifts", catalogHandler.ListShifts)
		r.Get("/camping-options", catalogHandler.ListCampingOptions)
	})

	router.Route("/registrations", func(r chi.Router) {
		r.Use(middleware.Authenticate(jwtSecret))

		r.Post("/", registrationHandler.Create)
		r.Get("/", registrationHandler.List)
		r.Get("/{registrationID}", registrationHandler.Get)
		r.Post("/{registrationID}/payment", registrationHandler.InitiateCheckout)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Authenticate(jwtSecret))
		r.Use(middleware.Authorize(models.RoleAdmin))

		r.Patch("/registrations/{registrationID}", adminHandler.EditRegistration)
		r.Post("/registrations/{registrationID}/cancel", adminHandler.CancelRegistration)
		r.Get("/audit", adminHandler.QueryAudit)
		r.Post("/reports/roster", adminHandler.ExportRoster)
		r.Get("/board", boardHandler.ServeBoard)
	})
}

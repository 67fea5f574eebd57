package handlers

import (
	"club-tournament-backend/middleware"
	"club-tournament-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTournamentRoutes(app *fiber.App, tournamentService *services.TournamentService) {
	api := app.Group("/api")

	// Public reads
	api.Get("/tournaments", tournamentService.List)
	api.Get("/tournaments/:id", tournamentService.Get)
	api.Get("/tournaments/:id/participants", tournamentService.Participants)
	api.Get("/rankings", tournamentService.Rankings)

	// Tournament CRUD and results (admin only). The prefix is deliberately
	// narrow so the auth middleware cannot leak onto /api/admin/login.
	admin := api.Group("/admin/tournaments", middleware.RequireAuth(), middleware.RequireAdmin())
	admin.Post("/", tournamentService.Create)
	admin.Put("/:id", tournamentService.Update)
	admin.Post("/:id/results", tournamentService.SubmitResults)
}

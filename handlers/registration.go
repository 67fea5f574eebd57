package handlers

import (
	"club-tournament-backend/middleware"
	"club-tournament-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupApplicationRoutes(app *fiber.App, regService *services.RegistrationService) {
	api := app.Group("/api")

	application := api.Group("/application", middleware.RequireAuth())
	application.Post("/submit", regService.SubmitApplication)
	application.Post("/:tournamentId/cancel", regService.CancelApplication)

	applications := api.Group("/applications", middleware.RequireAuth())
	applications.Get("/mine", regService.MyApplications)

	// Backoffice review
	applications.Get("/", middleware.RequireAdmin(), regService.ListApplications)
	applications.Post("/:id/audit", middleware.RequireAdmin(), regService.AuditApplication)
}

package handlers

import (
	"club-tournament-backend/middleware"
	"club-tournament-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupGameRoutes(app *fiber.App, gameService *services.GameService) {
	api := app.Group("/api")

	api.Get("/tournaments/:id/games", gameService.List)
	api.Put("/games/:id/score", middleware.RequireAuth(), middleware.RequireReferee(), gameService.UpdateScore)
	api.Post("/admin/games", middleware.RequireAuth(), middleware.RequireAdmin(), gameService.Create)
}

package handlers

import (
	"club-tournament-backend/middleware"
	"club-tournament-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAuthRoutes(app *fiber.App, authService *services.AuthService) {
	api := app.Group("/api")

	// Public: login creates the player on first sight
	api.Post("/auth/login", authService.Login)
	api.Post("/auth/phone", middleware.RequireAuth(), authService.GetPhoneNumber)

	players := api.Group("/players", middleware.RequireAuth())
	players.Get("/search", authService.SearchPlayers)
	players.Put("/:id", authService.UpdateProfile)
	players.Post("/avatar", authService.UploadAvatar)
}

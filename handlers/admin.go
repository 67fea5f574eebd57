package handlers

import (
	"club-tournament-backend/middleware"
	"club-tournament-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAdminRoutes(app *fiber.App, adminService *services.AdminService) {
	api := app.Group("/api")

	api.Post("/admin/login", adminService.Login)
	api.Get("/admin/audit-logs", middleware.RequireAuth(), middleware.RequireAdmin(), adminService.AuditLogs)
	api.Post("/admin/users", middleware.RequireAuth(), middleware.RequireSuperAdmin(), adminService.CreateAdmin)
	api.Put("/admin/players/:id/role", middleware.RequireAuth(), middleware.RequireSuperAdmin(), adminService.SetPlayerRole)
}

package handlers

import (
	"club-tournament-backend/middleware"
	"club-tournament-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupOrderRoutes(app *fiber.App, orderService *services.OrderService) {
	orders := app.Group("/api/orders")

	// Provider webhook: authenticated by signature verification, not JWT.
	// Middleware stays per-route here so no prefix-wide auth can catch it.
	orders.Post("/notify", orderService.HandleNotify)

	orders.Post("/create", middleware.RequireAuth(), orderService.CreateOrder)
	orders.Post("/pay", middleware.RequireAuth(), orderService.InitiatePayment)
	orders.Get("/:orderNo/status", middleware.RequireAuth(), orderService.CheckOrderStatus)
	orders.Post("/:orderNo/cancel", middleware.RequireAuth(), orderService.CancelOrder)
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"club-tournament-backend/handlers"
	"club-tournament-backend/models"
	"club-tournament-backend/payment"
	"club-tournament-backend/services"
	"club-tournament-backend/utils"
	"club-tournament-backend/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading environment variables directly")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}
	if err := migrate(db); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := buildProvider(ctx)

	if ok, err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize object storage:", err)
	} else if !ok {
		log.Println("object storage not configured, avatar uploads disabled")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024, // avatars only
	})

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.TrimSpace(allowedOrigins),
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-WX-Openid",
	}))

	authService := services.NewAuthService(db)
	adminService := services.NewAdminService(db)
	tournamentService := services.NewTournamentService(db)
	regService := services.NewRegistrationService(db, provider)
	orderService := services.NewOrderService(db, provider)
	gameService := services.NewGameService(db)

	handlers.SetupAuthRoutes(app, authService)
	handlers.SetupAdminRoutes(app, adminService)
	handlers.SetupTournamentRoutes(app, tournamentService)
	handlers.SetupApplicationRoutes(app, regService)
	handlers.SetupOrderRoutes(app, orderService)
	handlers.SetupGameRoutes(app, gameService)

	reconciler := workers.NewReconciler(db, provider, regService, orderService)
	if _, err := reconciler.Start(ctx); err != nil {
		log.Fatal("failed to start reconcile worker:", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("server error: %v", err)
		}
	}()
	log.Printf("server running on :%s (payment simulated: %v)", port, provider.Simulated())

	<-ctx.Done()
	log.Println("shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Player{},
		&models.AdminUser{},
		&models.Tournament{},
		&models.TournamentResult{},
		&models.Application{},
		&models.AuditLog{},
		&models.Order{},
		&models.MatchGame{},
	)
	if err != nil {
		return err
	}
	// One active application per (player, tournament). The WHERE clause has
	// commas, which the struct-tag index syntax cannot express.
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS udx_applications_active
		 ON applications (player_id, tournament_id)
		 WHERE status IN ('PENDING', 'APPROVED', 'WAITLIST')`,
	).Error
}

// buildProvider picks WeChat Pay when fully configured and the simulation
// otherwise. A partial configuration is fatal rather than silently simulated.
func buildProvider(ctx context.Context) payment.Provider {
	cfg := payment.WeChatConfigFromEnv()
	if !cfg.Complete() {
		if cfg.Partial() {
			log.Fatal("incomplete WeChat Pay configuration; set all WXPAY_* variables or none")
		}
		log.Println("WeChat Pay not configured, running in payment simulation mode")
		return payment.NewSimulation()
	}
	provider, err := payment.NewWeChatProvider(ctx, cfg)
	if err != nil {
		log.Fatal("failed to initialize WeChat Pay:", err)
	}
	return provider
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trivia-competition-system/handlers"
	"trivia-competition-system/middleware"
	"trivia-competition-system/models"
	"trivia-competition-system/services"
	"trivia-competition-system/utils"
	"trivia-competition-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 20 * 1024 * 1024, // 20MB — enough for cover images
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// CORS — allowed origins come from the environment, comma-separated
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Competition{},
		&models.CompetitionSession{},
		&models.CompetitionResult{},
		&models.CompetitionTrophy{},
		&models.CompetitionHistory{},
		&models.Transaction{},
		&models.UserCredits{},
		&models.Profile{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	serviceToken := os.Getenv("SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("SERVICE_TOKEN environment variable not set")
	}

	// Leaderboard cache is optional — the service degrades to DB reads without it
	var leaderboardCache *services.LeaderboardCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		leaderboardCache, err = services.NewLeaderboardCache(redisURL)
		if err != nil {
			log.Printf("⚠️  Leaderboard cache disabled: %v", err)
			leaderboardCache = nil
		}
	} else {
		log.Println("⚠️  REDIS_URL not set — leaderboard cache disabled")
	}

	// Notifier is optional — finalization proceeds without result emails
	var notifier *services.NotifierClient
	if notifierURL := os.Getenv("NOTIFIER_SERVICE_URL"); notifierURL != "" {
		notifier = services.NewNotifierClient(notifierURL, serviceToken)
	} else {
		log.Println("⚠️  NOTIFIER_SERVICE_URL not set — result emails disabled")
	}

	competitionService := services.NewCompetitionService(db, leaderboardCache)
	finalizerService := services.NewFinalizerService(db, notifier, leaderboardCache)
	walletService := services.NewWalletService(db)
	profileService := services.NewProfileService(db)

	profileServiceURL := os.Getenv("PROFILE_SERVICE_URL")
	if profileServiceURL == "" {
		log.Fatal("PROFILE_SERVICE_URL environment variable not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profileSyncWorker := workers.NewProfileSyncWorker(db, profileServiceURL, "/api/v1/public/profiles", serviceToken)
	profileSyncWorker.Start(ctx)

	payoutSyncClient := workers.NewPayoutSyncClient(walletService)
	go workers.PollPayouts(ctx, payoutSyncClient, 30*time.Second)

	finalizerService.StartCompetitionScheduler()

	handlers.SetupCompetitionRoutes(app, competitionService, finalizerService)
	handlers.SetupAccountRoutes(app, walletService, profileService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Profile Sync Worker running")
	log.Println("✅ Payout polling running (every 30s)")
	log.Println("✅ Competition scheduler running (activation + finalization sweep)")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}

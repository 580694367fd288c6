// handlers/account_routes.go
package handlers

import (
	"trivia-competition-system/middleware"
	"trivia-competition-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAccountRoutes(app *fiber.App, walletService *services.WalletService, profileService *services.ProfileService) {
	api := app.Group("/api")

	// Admin tooling
	api.Get("/users/search", profileService.SearchUsers)

	// 🔐 Secured routes — require user context from the gateway
	secured := api.Group("/s", middleware.UserContextMiddleware())

	secured.Get("/wallet", walletService.GetWallet)
	secured.Get("/wallet/transactions", walletService.GetTransactions)
	secured.Post("/wallet/withdraw", walletService.Withdraw)

	secured.Get("/profile", profileService.GetProfile)
	secured.Get("/trophies", profileService.GetTrophies)
	secured.Get("/history", profileService.GetHistory)
}

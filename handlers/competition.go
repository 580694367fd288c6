package handlers

import (
	"errors"

	"trivia-competition-system/middleware"
	"trivia-competition-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupCompetitionRoutes(app *fiber.App, competitionService *services.CompetitionService, finalizerService *services.FinalizerService) {
	api := app.Group("/api")

	// Competition catalog
	api.Get("/competitions", competitionService.GetAllCompetitions)
	api.Get("/competitions/:id", competitionService.GetCompetitionByID)
	api.Get("/competitions/:id/leaderboard", competitionService.GetLeaderboard)

	// Manual finalization trigger (admin tooling / support escape hatch)
	api.Post("/finalize-competition", func(c *fiber.Ctx) error {
		type Req struct {
			CompetitionID string `json:"competitionId"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"success": false, "error": "invalid JSON"})
		}
		if req.CompetitionID == "" {
			return c.Status(400).JSON(fiber.Map{"success": false, "error": "competitionId is required"})
		}

		summary, err := finalizerService.FinalizeCompetition(req.CompetitionID)
		if err != nil {
			if errors.Is(err, services.ErrCompetitionNotFound) {
				return c.Status(404).JSON(fiber.Map{"success": false, "error": "competition not found"})
			}
			return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
		}

		return c.JSON(fiber.Map{
			"success":      true,
			"message":      summary.Message,
			"results":      summary.Results,
			"totalPlayers": summary.TotalPlayers,
			"prizePool":    summary.PrizePool,
			"outcomes":     summary.Outcomes,
		})
	})

	// Periodic sweep, invoked by the external scheduler. Vercel-style crons
	// send GET; manual re-runs tend to POST. Accept both.
	cronHandler := func(c *fiber.Ctx) error {
		outcomes, err := finalizerService.SweepDueCompetitions()
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
		}

		finalized := 0
		for _, outcome := range outcomes {
			if outcome.Success && outcome.Finalized {
				finalized++
			}
		}
		return c.JSON(fiber.Map{
			"success":   true,
			"message":   "sweep complete",
			"finalized": finalized,
			"results":   outcomes,
		})
	}
	cron := api.Group("/cron", middleware.CronAuthMiddleware())
	cron.Get("/finalize-competitions", cronHandler)
	cron.Post("/finalize-competitions", cronHandler)

	// 🔐 Authenticated play routes
	secured := api.Group("/s", middleware.UserContextMiddleware())
	secured.Post("/competitions/:id/start", competitionService.StartCompetition)
	secured.Post("/sessions/:id/complete", competitionService.CompleteSession)

	// 🔒 Admin-only competition management
	admin := secured.Group("/admin")
	admin.Post("/competitions", competitionService.CreateCompetition)
	admin.Patch("/competitions/:id/status", competitionService.UpdateCompetitionStatus)
}

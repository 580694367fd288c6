// services/scheduler.go
package services

import (
	"log"
	"time"

	"trivia-competition-system/models"

	"github.com/go-co-op/gocron/v2"
)

// StartCompetitionScheduler runs the two in-process periodic jobs: promoting
// scheduled competitions to active once their start time passes, and sweeping
// ended competitions into finalization. The sweep shares its code path with
// the cron HTTP endpoint; overlap between the two callers is harmless because
// finalization is CAS-gated and idempotent.
func (s *FinalizerService) StartCompetitionScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every minute: open competitions whose start time has passed
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			result := s.DB.Model(&models.Competition{}).
				Where("status IN ? AND start_time <= ?", []string{
					models.CompetitionStatusScheduled,
					models.CompetitionStatusUpcoming,
				}, time.Now()).
				Update("status", models.CompetitionStatusActive)
			if result.Error != nil {
				log.Printf("[Scheduler] activation DB error: %v", result.Error)
				return
			}
			if result.RowsAffected > 0 {
				log.Printf("✅ Activated %d competition(s)", result.RowsAffected)
			}
		}),
	)

	// Every minute: finalize competitions whose play window has closed
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			outcomes, err := s.SweepDueCompetitions()
			if err != nil {
				log.Printf("[Scheduler] sweep error: %v", err)
				return
			}
			for _, outcome := range outcomes {
				if !outcome.Success {
					log.Printf("[Scheduler] finalize %s failed: %s", outcome.CompetitionID, outcome.Message)
				} else if outcome.Finalized {
					log.Printf("✅ Finalized competition %s", outcome.CompetitionID)
				}
			}
		}),
	)
}

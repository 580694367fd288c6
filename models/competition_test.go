package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveEndTimePrefersStoredEndTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)

	comp := Competition{
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: 30, // ignored when EndTime is set
	}

	assert.Equal(t, end, comp.EffectiveEndTime())
}

func TestEffectiveEndTimeDerivedFromDuration(t *testing.T) {
	start := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	comp := Competition{
		StartTime:       start,
		DurationMinutes: 30,
	}

	assert.Equal(t, start.Add(30*time.Minute), comp.EffectiveEndTime())
}

func TestHasEnded(t *testing.T) {
	start := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	comp := Competition{StartTime: start, DurationMinutes: 30}
	end := start.Add(30 * time.Minute)

	assert.False(t, comp.HasEnded(start))
	assert.False(t, comp.HasEnded(end.Add(-time.Second)))
	// the window closes exactly at the end time
	assert.True(t, comp.HasEnded(end))
	assert.True(t, comp.HasEnded(end.Add(time.Hour)))
}

func TestSessionIsComplete(t *testing.T) {
	sess := CompetitionSession{}
	assert.False(t, sess.IsComplete())

	end := time.Now()
	sess.EndTime = &end
	assert.True(t, sess.IsComplete())
}

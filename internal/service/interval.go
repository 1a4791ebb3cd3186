package service

import (
	"time"

	"github.com/noah-isme/study-analytics-api/internal/models"
	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
)

const (
	dailyInterval   = 24 * time.Hour
	weeklyInterval  = 7 * dailyInterval
	monthlyInterval = 30 * dailyInterval
)

// Interval returns the minimum time between automatic exports for freq. None yields zero.
func Interval(freq models.UpdateFrequency) time.Duration {
	switch freq {
	case models.UpdateFrequencyNone:
		return 0
	case models.UpdateFrequencyDaily:
		return dailyInterval
	case models.UpdateFrequencyWeekly:
		return weeklyInterval
	default:
		return monthlyInterval
	}
}

// IsDue reports whether a registration last updated at lastUpdate should be exported at now.
// Both timestamps are epoch seconds.
func IsDue(lastUpdate int64, freq models.UpdateFrequency, now int64) bool {
	if freq == models.UpdateFrequencyNone {
		return false
	}
	elapsed := now - lastUpdate
	if elapsed < 0 {
		return false
	}
	return elapsed >= int64(Interval(freq)/time.Second)
}

// ParseUpdateFrequency accepts the selector values 0..3.
func ParseUpdateFrequency(value int) (models.UpdateFrequency, error) {
	if value < int(models.UpdateFrequencyNone) || value > int(models.UpdateFrequencyMonthly) {
		return 0, appErrors.Clone(appErrors.ErrValidation, "update frequency must be between 0 and 3")
	}
	return models.UpdateFrequency(value), nil
}

package vault

import "time"

// KST is the calendar zone for streak days and the golden-hour clock.
var KST = time.FixedZone("KST", 9*60*60)

const kstDateLayout = "2006-01-02"

// MultiplierFor computes the accrual multiplier at a given instant. The
// streak-bonus window and the golden-hour window are independent; when both
// apply the larger one wins (never additive). Returns at least 1.0.
func MultiplierFor(config MultiplierConfig, now time.Time, streak StreakState) float64 {
	multiplier := 1.0
	if streakBonusActive(config, now, streak) && config.StreakMultiplier > multiplier {
		multiplier = config.StreakMultiplier
	}
	if goldenHourActive(config, now) && config.GoldenHourMultiplier > multiplier {
		multiplier = config.GoldenHourMultiplier
	}
	return multiplier
}

func streakBonusActive(config MultiplierConfig, now time.Time, streak StreakState) bool {
	if streak.BonusWindowStart == nil {
		return false
	}
	if streak.ConsecutiveDays < config.StreakThresholdDays {
		return false
	}
	elapsed := now.Sub(*streak.BonusWindowStart)
	return elapsed >= 0 && elapsed < config.StreakWindow
}

func goldenHourActive(config MultiplierConfig, now time.Time) bool {
	switch config.GoldenHourOverride {
	case GoldenHourForceOn:
		return true
	case GoldenHourForceOff:
		return false
	}
	local := now.In(KST)
	minute := local.Hour()*60 + local.Minute()
	start := config.GoldenHourStart.minuteOfDay()
	end := config.GoldenHourEnd.minuteOfDay()
	if start <= end {
		return minute >= start && minute < end
	}
	// Window wraps midnight.
	return minute >= start || minute < end
}

// kstDate formats an instant as its KST calendar day.
func kstDate(at time.Time) string {
	return at.In(KST).Format(kstDateLayout)
}

// advanceStreak rolls the consecutive-day counter for a play at the given
// instant and arms the bonus window on the first qualifying play of a day
// once the threshold is met. Pure: returns the updated state.
func advanceStreak(config MultiplierConfig, streak StreakState, now time.Time) StreakState {
	today := kstDate(now)
	yesterday := kstDate(now.In(KST).AddDate(0, 0, -1))
	updated := streak
	switch streak.LastPlayedOn {
	case today:
		// Counter already advanced today.
	case yesterday:
		updated.ConsecutiveDays++
		updated.LastPlayedOn = today
	default:
		updated.ConsecutiveDays = 1
		updated.LastPlayedOn = today
	}
	if updated.ConsecutiveDays >= config.StreakThresholdDays && updated.BonusArmedOn != today {
		windowStart := now
		updated.BonusWindowStart = &windowStart
		updated.BonusArmedOn = today
	}
	return updated
}
